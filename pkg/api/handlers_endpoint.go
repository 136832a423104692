package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ihiteshgupta/peer-messenger/internal/messenger"
	"github.com/ihiteshgupta/peer-messenger/internal/state"
	"github.com/ihiteshgupta/peer-messenger/pkg/mcp"
)

// Endpoint tool handlers

func (h *Handler) handleGetEndpointStatus(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	status, err := h.endpoint.Status(ctx)
	if err != nil {
		return h.errorResult(NewInternalError(err))
	}
	return h.successResult(status)
}

func (h *Handler) handleListDestinations(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	dests := h.endpoint.Destinations()

	result := make([]map[string]interface{}, 0, len(dests))
	for _, d := range dests {
		stats, err := h.endpoint.Stats(d)
		if err != nil {
			continue
		}
		result = append(result, map[string]interface{}{
			"destination":         d,
			"logical_destination": stats.LogicalDestination,
			"state":               stats.State,
			"active_channels":     stats.ActiveChannels,
		})
	}

	return h.successResult(result)
}

func (h *Handler) handleResolveDestination(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	destination := getString(args, "destination")
	if destination == "" {
		return h.errorResult(NewInvalidInputError("destination is required"))
	}

	shared, err := h.endpoint.Resolve(destination)
	if err != nil {
		return h.errorResult(toMCPError(destination, err))
	}

	return h.successResult(shared.Stats())
}

func (h *Handler) handleCloseDestination(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	destination := getString(args, "destination")
	if destination == "" {
		return h.errorResult(NewInvalidInputError("destination is required"))
	}

	if err := h.endpoint.CloseDestination(destination); err != nil {
		return h.errorResult(toMCPError(destination, err))
	}

	result := map[string]interface{}{
		"success":     true,
		"destination": destination,
	}
	if stats, err := h.endpoint.Stats(destination); err == nil {
		result["state"] = stats.State
	}
	return h.successResult(result)
}

func (h *Handler) handleWaitForState(ctx context.Context, args map[string]interface{}) (*mcp.CallToolResult, error) {
	destination := getString(args, "destination")
	if destination == "" {
		return h.errorResult(NewInvalidInputError("destination is required"))
	}

	expr := getString(args, "state")
	if expr == "" {
		return h.errorResult(NewInvalidInputError("state is required"))
	}
	mask, err := state.ParseMask(expr)
	if err != nil {
		return h.errorResult(NewInvalidInputError(err.Error()))
	}

	timeout := time.Duration(getInt(args, "timeout_seconds", 10)) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	current, err := h.endpoint.AwaitState(ctx, destination, mask)
	if errors.Is(err, context.DeadlineExceeded) {
		return h.errorResult(NewTimeoutError(fmt.Sprintf("%s to reach %s, still %s", destination, mask, current)))
	}
	if err != nil {
		return h.errorResult(toMCPError(destination, err))
	}

	return h.successResult(map[string]interface{}{
		"destination": destination,
		"state":       current.String(),
		"usable":      current.IsUsable(),
		"terminal":    current.IsTerminal(),
	})
}

// statsOrEmpty returns the stats of destination, or a zero value carrying
// only the destination when it is unknown.
func (h *Handler) statsOrEmpty(destination string) messenger.Stats {
	stats, err := h.endpoint.Stats(destination)
	if err != nil {
		return messenger.Stats{Destination: destination}
	}
	return stats
}
