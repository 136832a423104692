package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ihiteshgupta/peer-messenger/internal/endpoint"
	"github.com/ihiteshgupta/peer-messenger/internal/messenger"
	"github.com/ihiteshgupta/peer-messenger/internal/state"
	"github.com/ihiteshgupta/peer-messenger/internal/store"
	"github.com/ihiteshgupta/peer-messenger/pkg/mcp"
)

// Endpoint defines the messenger operations exposed as tools.
type Endpoint interface {
	Status(ctx context.Context) (*endpoint.Status, error)
	Destinations() []string
	Stats(destination string) (messenger.Stats, error)

	Submit(ctx context.Context, destination, service, param string, body []byte) (*messenger.Message, error)
	Send(ctx context.Context, destination, service, param string, body []byte) (*messenger.Message, error)

	Resolve(destination string) (*messenger.Shared, error)
	CloseDestination(destination string) error
	AwaitState(ctx context.Context, destination string, mask state.State) (state.State, error)
}

// Handler implements the MCP ToolHandler and ResourceProvider interfaces.
type Handler struct {
	store    *store.SQLiteStore
	endpoint Endpoint
}

// NewHandler creates a new tool handler.
func NewHandler(storeDB *store.SQLiteStore, ep Endpoint) *Handler {
	return &Handler{
		store:    storeDB,
		endpoint: ep,
	}
}

// GetTools returns all available tool definitions.
func (h *Handler) GetTools() []mcp.Tool {
	return GetAllTools()
}

// HandleTool handles a tool invocation and returns the result.
func (h *Handler) HandleTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	switch name {
	// Endpoint
	case ToolGetEndpointStatus:
		return h.handleGetEndpointStatus(ctx, args)
	case ToolListDestinations:
		return h.handleListDestinations(ctx, args)
	case ToolResolveDestination:
		return h.handleResolveDestination(ctx, args)
	case ToolCloseDestination:
		return h.handleCloseDestination(ctx, args)
	case ToolWaitForState:
		return h.handleWaitForState(ctx, args)

	// Messaging
	case ToolSendMessage:
		return h.handleSendMessage(ctx, args)
	case ToolListReceivedMessages:
		return h.handleListReceivedMessages(ctx, args)

	// Journal
	case ToolGetTransitionHistory:
		return h.handleGetTransitionHistory(ctx, args)
	case ToolListFailedMessages:
		return h.handleListFailedMessages(ctx, args)

	default:
		return h.errorResult(NewInvalidInputError(fmt.Sprintf("Unknown tool: %s", name)))
	}
}

// Helper methods

func (h *Handler) successResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, NewInternalError(err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(string(jsonData))},
	}, nil
}

func (h *Handler) errorResult(err *MCPError) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{mcp.TextContent(err.JSON())},
		IsError: true,
	}, nil
}

func getString(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func getInt(args map[string]interface{}, key string, defaultVal int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	if v, ok := args[key].(int); ok {
		return v
	}
	return defaultVal
}

func getBool(args map[string]interface{}, key string, defaultVal bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return defaultVal
}
