package api

import (
	"context"
	"errors"
	"time"

	"github.com/ihiteshgupta/peer-messenger/pkg/mcp"
)

// Messaging tool handlers

func (h *Handler) handleSendMessage(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	destination := getString(args, "destination")
	if destination == "" {
		return h.errorResult(NewInvalidInputError("destination is required"))
	}

	message := getString(args, "message")
	if message == "" {
		return h.errorResult(NewInvalidInputError("message is required"))
	}

	service := getString(args, "service")
	param := getString(args, "param")
	wait := getBool(args, "wait", true)

	timeout := time.Duration(getInt(args, "timeout_seconds", 30)) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	send := h.endpoint.Submit
	if wait {
		send = h.endpoint.Send
	}

	msg, err := send(ctx, destination, service, param, []byte(message))
	if err != nil {
		// A message still queued at the deadline is reported as pending.
		if msg == nil || !errors.Is(err, context.DeadlineExceeded) {
			return h.errorResult(toMCPError(destination, err))
		}
	}

	status, _ := msg.Outcome()
	return h.successResult(map[string]interface{}{
		"success":    true,
		"message_id": msg.ID,
		"status":     status.String(),
		"state":      h.statsOrEmpty(destination).State,
	})
}

func (h *Handler) handleListReceivedMessages(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	from := getString(args, "from")
	limit := getInt(args, "limit", 50)
	before := getString(args, "before")

	messages, err := h.store.Inbox.List(ctx, from, limit, before)
	if err != nil {
		return h.errorResult(NewInternalError(err))
	}

	return h.successResult(messages)
}
