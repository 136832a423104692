package api

import (
	"context"

	"github.com/ihiteshgupta/peer-messenger/pkg/mcp"
)

// Journal tool handlers

func (h *Handler) handleGetTransitionHistory(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	destination := getString(args, "destination")
	limit := getInt(args, "limit", 20)

	history, err := h.store.State.GetTransitionHistory(ctx, destination, limit)
	if err != nil {
		return h.errorResult(NewInternalError(err))
	}

	return h.successResult(history)
}

func (h *Handler) handleListFailedMessages(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	destination := getString(args, "destination")
	limit := getInt(args, "limit", 50)

	failed, err := h.store.Failures.List(ctx, destination, limit)
	if err != nil {
		return h.errorResult(NewInternalError(err))
	}

	return h.successResult(failed)
}
