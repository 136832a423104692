package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ihiteshgupta/peer-messenger/internal/state"
)

// SQLiteStore implements all repositories using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	State    *SQLiteStateRepo
	Failures *SQLiteFailureRepo
	Inbox    *SQLiteInboxRepo
}

// NewSQLiteStore creates a new SQLite-backed store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to :memory: is a separate database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	store := &SQLiteStore{
		db:       db,
		State:    &SQLiteStateRepo{db: db},
		Failures: &SQLiteFailureRepo{db: db},
		Inbox:    &SQLiteInboxRepo{db: db},
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	migration := `
	-- Last known state per messenger
	CREATE TABLE IF NOT EXISTS messenger_state (
		destination TEXT NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (destination, channel)
	);

	-- Transitions history table
	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		destination TEXT NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		event TEXT NOT NULL,
		action TEXT NOT NULL DEFAULT 'none',
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_destination ON transitions(destination, id DESC);

	-- Dead letters
	CREATE TABLE IF NOT EXISTS failed_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id TEXT NOT NULL,
		destination TEXT NOT NULL,
		channel TEXT NOT NULL DEFAULT '',
		service TEXT NOT NULL DEFAULT '',
		param TEXT NOT NULL DEFAULT '',
		body BLOB,
		retries INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		failed_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_failed_destination ON failed_messages(destination, failed_at DESC);

	-- Received messages
	CREATE TABLE IF NOT EXISTS inbox (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		service TEXT NOT NULL DEFAULT '',
		param TEXT NOT NULL DEFAULT '',
		body BLOB,
		received_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_inbox_sender_received ON inbox(sender, received_at DESC);
	`
	_, err := db.Exec(migration)
	return err
}

// SQLiteStateRepo implements StateRepository.
type SQLiteStateRepo struct {
	db *sql.DB
}

func (r *SQLiteStateRepo) GetState(ctx context.Context, destination, channel string) (state.State, error) {
	var name string
	err := r.db.QueryRowContext(ctx,
		"SELECT state FROM messenger_state WHERE destination = ? AND channel = ?",
		destination, channel,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return parseState(name)
}

func (r *SQLiteStateRepo) SaveState(ctx context.Context, destination, channel string, s state.State) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messenger_state (destination, channel, state, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(destination, channel) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`, destination, channel, s.String(), time.Now())
	return err
}

func (r *SQLiteStateRepo) ListStates(ctx context.Context) ([]MessengerState, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT destination, channel, state, updated_at FROM messenger_state ORDER BY destination, channel",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []MessengerState
	for rows.Next() {
		var m MessengerState
		if err := rows.Scan(&m.Destination, &m.Channel, &m.Name, &m.UpdatedAt); err != nil {
			return nil, err
		}
		if m.State, err = parseState(m.Name); err != nil {
			return nil, err
		}
		states = append(states, m)
	}
	return states, rows.Err()
}

func (r *SQLiteStateRepo) LogTransition(ctx context.Context, t *Transition) error {
	ts := t.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO transitions (destination, channel, from_state, to_state, event, action, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)",
		t.Destination, t.Channel, t.FromState.String(), t.ToState.String(), t.Event, t.Action, ts,
	)
	return err
}

// GetTransitionHistory returns the newest transitions first. An empty
// destination returns every messenger's history.
func (r *SQLiteStateRepo) GetTransitionHistory(ctx context.Context, destination string, limit int) ([]Transition, error) {
	query := "SELECT id, destination, channel, from_state, to_state, event, action, timestamp FROM transitions"
	var args []interface{}
	if destination != "" {
		query += " WHERE destination = ?"
		args = append(args, destination)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var t Transition
		err := rows.Scan(&t.ID, &t.Destination, &t.Channel, &t.From, &t.To, &t.Event, &t.Action, &t.Timestamp)
		if err != nil {
			return nil, err
		}
		if t.FromState, err = parseState(t.From); err != nil {
			return nil, err
		}
		if t.ToState, err = parseState(t.To); err != nil {
			return nil, err
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

func parseState(name string) (state.State, error) {
	s, ok := state.ParseState(name)
	if !ok {
		return 0, fmt.Errorf("unknown state %q", name)
	}
	return s, nil
}

// SQLiteFailureRepo implements FailureRepository.
type SQLiteFailureRepo struct {
	db *sql.DB
}

func (r *SQLiteFailureRepo) Record(ctx context.Context, msg *FailedMessage) error {
	failedAt := msg.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO failed_messages
		(message_id, destination, channel, service, param, body, retries, error, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.MessageID, msg.Destination, msg.Channel, msg.Service, msg.Param, msg.Body, msg.Retries, msg.Error, failedAt)
	if err != nil {
		return err
	}
	msg.ID, err = res.LastInsertId()
	return err
}

// List returns the newest dead letters first. An empty destination lists all.
func (r *SQLiteFailureRepo) List(ctx context.Context, destination string, limit int) ([]FailedMessage, error) {
	query := `SELECT id, message_id, destination, channel, service, param, body, retries, error, failed_at FROM failed_messages`
	var args []interface{}
	if destination != "" {
		query += " WHERE destination = ?"
		args = append(args, destination)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failed []FailedMessage
	for rows.Next() {
		var m FailedMessage
		err := rows.Scan(&m.ID, &m.MessageID, &m.Destination, &m.Channel, &m.Service, &m.Param,
			&m.Body, &m.Retries, &m.Error, &m.FailedAt)
		if err != nil {
			return nil, err
		}
		m.Content = string(m.Body)
		failed = append(failed, m)
	}
	return failed, rows.Err()
}

func (r *SQLiteFailureRepo) Count(ctx context.Context, destination string) (int, error) {
	query := "SELECT COUNT(*) FROM failed_messages"
	var args []interface{}
	if destination != "" {
		query += " WHERE destination = ?"
		args = append(args, destination)
	}
	var count int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// SQLiteInboxRepo implements InboxRepository.
type SQLiteInboxRepo struct {
	db *sql.DB
}

func (r *SQLiteInboxRepo) Store(ctx context.Context, msg *InboxMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO inbox (id, sender, service, param, body, received_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.From, msg.Service, msg.Param, msg.Body, msg.ReceivedAt)
	return err
}

// List returns the newest received messages first. An empty from lists every
// sender; before is the ID of a message to page back from.
func (r *SQLiteInboxRepo) List(ctx context.Context, from string, limit int, before string) ([]InboxMessage, error) {
	var conds []string
	var args []interface{}

	if from != "" {
		conds = append(conds, "sender = ?")
		args = append(args, from)
	}
	if before != "" {
		conds = append(conds, "received_at < (SELECT received_at FROM inbox WHERE id = ?)")
		args = append(args, before)
	}

	query := "SELECT id, sender, service, param, body, received_at FROM inbox"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY received_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []InboxMessage
	for rows.Next() {
		var m InboxMessage
		if err := rows.Scan(&m.ID, &m.From, &m.Service, &m.Param, &m.Body, &m.ReceivedAt); err != nil {
			return nil, err
		}
		m.Content = string(m.Body)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (r *SQLiteInboxRepo) GetByID(ctx context.Context, id string) (*InboxMessage, error) {
	var m InboxMessage
	err := r.db.QueryRowContext(ctx,
		"SELECT id, sender, service, param, body, received_at FROM inbox WHERE id = ?", id,
	).Scan(&m.ID, &m.From, &m.Service, &m.Param, &m.Body, &m.ReceivedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Content = string(m.Body)
	return &m, nil
}

func (r *SQLiteInboxRepo) Count(ctx context.Context, from string) (int, error) {
	query := "SELECT COUNT(*) FROM inbox"
	var args []interface{}
	if from != "" {
		query += " WHERE sender = ?"
		args = append(args, from)
	}
	var count int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}
