// Package transport is a TCP transport for the messenger: newline-delimited
// JSON frames, opened by an exchange of welcome frames carrying each side's
// peer ID.
package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Frame types.
const (
	FrameWelcome = "welcome"
	FrameMessage = "msg"
)

// ErrUnexpectedFrame is returned when the peer sends a frame out of order.
var ErrUnexpectedFrame = errors.New("unexpected frame")

// Frame is one line on the wire.
type Frame struct {
	Type    string            `json:"type"`
	Peer    string            `json:"peer,omitempty"`
	ID      string            `json:"id,omitempty"`
	Service string            `json:"service,omitempty"`
	Param   string            `json:"param,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
	SentAt  time.Time         `json:"sent_at,omitempty"`
}

func readFrame(r *bufio.Reader) (*Frame, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}

	var f Frame
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, fmt.Errorf("failed to parse frame: %w", err)
	}
	return &f, nil
}

func writeFrame(w io.Writer, f *Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	data = append(data, '\n')

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// readWelcome reads the peer's welcome frame and returns its peer ID.
func readWelcome(r *bufio.Reader) (string, error) {
	f, err := readFrame(r)
	if err != nil {
		return "", err
	}
	if f.Type != FrameWelcome {
		return "", fmt.Errorf("%w: got %q, want %q", ErrUnexpectedFrame, f.Type, FrameWelcome)
	}
	if f.Peer == "" {
		return "", fmt.Errorf("%w: welcome without peer id", ErrUnexpectedFrame)
	}
	return f.Peer, nil
}
