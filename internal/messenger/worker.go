package messenger

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// worker runs one shared connection's connect and drain tasks serially on a
// goroutine started on demand and retired after idle time without work.
type worker struct {
	ctx  context.Context
	idle time.Duration
	log  *slog.Logger

	mu      sync.Mutex
	tasks   []func(context.Context)
	running bool
	wake    chan struct{}
}

func newWorker(ctx context.Context, idle time.Duration, log *slog.Logger) *worker {
	return &worker{
		ctx:  ctx,
		idle: idle,
		log:  log,
		wake: make(chan struct{}, 1),
	}
}

// submit queues task and starts the goroutine if it is not running.
func (w *worker) submit(task func(context.Context)) {
	w.mu.Lock()
	w.tasks = append(w.tasks, task)
	if !w.running {
		w.running = true
		go w.run()
		w.log.Debug("worker started")
	}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) run() {
	timer := time.NewTimer(w.idle)
	defer timer.Stop()

	for {
		w.mu.Lock()
		if len(w.tasks) > 0 {
			task := w.tasks[0]
			w.tasks[0] = nil
			w.tasks = w.tasks[1:]
			w.mu.Unlock()

			task(w.ctx)
			timer.Reset(w.idle)
			continue
		}
		w.mu.Unlock()

		select {
		case <-w.wake:
		case <-timer.C:
			if w.retire() {
				return
			}
			timer.Reset(w.idle)
		case <-w.ctx.Done():
			if w.retire() {
				return
			}
		}
	}
}

// retire stops the goroutine unless work arrived in the meantime.
func (w *worker) retire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.tasks) > 0 {
		return false
	}
	w.running = false
	w.log.Debug("worker retired")
	return true
}

// isRunning reports whether the goroutine is alive.
func (w *worker) isRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

