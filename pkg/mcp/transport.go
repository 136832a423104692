package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

var errParse = errors.New("failed to parse message")

// Transport handles stdio communication for MCP.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	log    *slog.Logger
	mu     sync.Mutex
}

// NewTransport creates a new stdio transport.
func NewTransport(reader io.Reader, writer io.Writer, log *slog.Logger) *Transport {
	return &Transport{
		reader: bufio.NewReader(reader),
		writer: writer,
		log:    log,
	}
}

// ReadMessage reads the next JSON-RPC message, skipping blank lines.
func (t *Transport) ReadMessage() (*Request, error) {
	for {
		line, err := t.reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) == 0 {
			if err != nil {
				if err == io.EOF {
					return nil, err
				}
				return nil, fmt.Errorf("failed to read message: %w", err)
			}
			continue
		}

		t.log.Debug("received message", "raw", string(line))

		var req Request
		if jerr := json.Unmarshal(line, &req); jerr != nil {
			return nil, fmt.Errorf("%w: %v", errParse, jerr)
		}
		return &req, nil
	}
}

// WriteMessage writes a JSON-RPC response.
func (t *Transport) WriteMessage(resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	return t.writeLine(data)
}

// SendResult sends a successful response.
func (t *Transport) SendResult(id interface{}, result interface{}) error {
	return t.WriteMessage(&Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	})
}

// SendError sends an error response.
func (t *Transport) SendError(id interface{}, code int, message string, data interface{}) error {
	return t.WriteMessage(&Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	})
}

// SendNotification sends a notification (no id, no response expected).
func (t *Transport) SendNotification(method string, params interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	reqData, err := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	return t.writeLine(reqData)
}

// writeLine writes data and a newline in one call so concurrent writers
// never interleave.
func (t *Transport) writeLine(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.log.Debug("sending message", "raw", string(data))

	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')
	if _, err := t.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
