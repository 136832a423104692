package api

import (
	"github.com/ihiteshgupta/peer-messenger/pkg/mcp"
)

// Tool name constants
const (
	// Endpoint (5)
	ToolGetEndpointStatus  = "get_endpoint_status"
	ToolListDestinations   = "list_destinations"
	ToolResolveDestination = "resolve_destination"
	ToolCloseDestination   = "close_destination"
	ToolWaitForState       = "wait_for_state"

	// Messaging (2)
	ToolSendMessage          = "send_message"
	ToolListReceivedMessages = "list_received_messages"

	// Journal (2)
	ToolGetTransitionHistory = "get_transition_history"
	ToolListFailedMessages   = "list_failed_messages"
)

const destinationHelp = "Destination address, host:port or peer@host:port to require a peer identity"

// GetAllTools returns all 9 tool definitions.
func GetAllTools() []mcp.Tool {
	return []mcp.Tool{
		// ============ ENDPOINT (5) ============
		{
			Name:        ToolGetEndpointStatus,
			Description: "Get the local peer identity, every destination's connection state and journal counts",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        ToolListDestinations,
			Description: "List destinations with a messenger and their current state",
			InputSchema: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			},
		},
		{
			Name:        ToolResolveDestination,
			Description: "Start connecting to a destination before the first message is sent",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"destination": prop("string", destinationHelp),
				},
				"required": []string{"destination"},
			},
		},
		{
			Name:        ToolCloseDestination,
			Description: "Gracefully close the connection to a destination after its queued messages are sent",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"destination": prop("string", destinationHelp),
				},
				"required": []string{"destination"},
			},
		},
		{
			Name:        ToolWaitForState,
			Description: "Wait until a destination's connection reaches one of the given states",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"destination":     prop("string", destinationHelp),
					"state":           prop("string", "State names or masks joined by '|' (e.g. 'connected|terminal', 'usable', 'closed')"),
					"timeout_seconds": propInt("Maximum time to wait (default: 10)"),
				},
				"required": []string{"destination", "state"},
			},
		},

		// ============ MESSAGING (2) ============
		{
			Name:        ToolSendMessage,
			Description: "Send a message to a peer, connecting on demand",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"destination":     prop("string", destinationHelp),
					"message":         prop("string", "Message body"),
					"service":         prop("string", "Service the message is addressed to"),
					"param":           prop("string", "Service parameter"),
					"wait":            propBool("Wait until the message is sent or failed (default: true)"),
					"timeout_seconds": propInt("Maximum time to wait for the outcome (default: 30)"),
				},
				"required": []string{"destination", "message"},
			},
		},
		{
			Name:        ToolListReceivedMessages,
			Description: "List messages received from peers, newest first",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"from":   prop("string", "Only messages from this peer identity"),
					"limit":  propInt("Maximum number of messages to return (default: 50)"),
					"before": prop("string", "Only messages received before the message with this ID"),
				},
			},
		},

		// ============ JOURNAL (2) ============
		{
			Name:        ToolGetTransitionHistory,
			Description: "Get the recorded state machine transitions, newest first",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"destination": prop("string", "Only transitions of this destination"),
					"limit":       propInt("Maximum number of transitions to return (default: 20)"),
				},
			},
		},
		{
			Name:        ToolListFailedMessages,
			Description: "List messages that were given up on and why",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"destination": prop("string", "Only failures for this destination"),
					"limit":       propInt("Maximum number of messages to return (default: 50)"),
				},
			},
		},
	}
}

// Helper functions for schema creation
func prop(typeName, description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        typeName,
		"description": description,
	}
}

func propInt(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
	}
}

func propBool(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "boolean",
		"description": description,
	}
}
