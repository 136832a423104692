package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ihiteshgupta/peer-messenger/pkg/mcp"
)

// ResourceScheme prefixes the URI of every destination resource.
const ResourceScheme = "messenger://"

// ResourceURI returns the resource URI of destination.
func ResourceURI(destination string) string {
	return ResourceScheme + destination
}

// ListResources returns one resource per destination with a messenger.
func (h *Handler) ListResources(ctx context.Context) []mcp.Resource {
	dests := h.endpoint.Destinations()

	resources := make([]mcp.Resource, 0, len(dests))
	for _, d := range dests {
		resources = append(resources, mcp.Resource{
			URI:         ResourceURI(d),
			Name:        d,
			Description: fmt.Sprintf("Connection state and counters for %s", d),
			MimeType:    "application/json",
		})
	}
	return resources
}

// ReadResource returns the stats of the destination named by uri.
func (h *Handler) ReadResource(ctx context.Context, uri string) (*mcp.ResourceContent, error) {
	destination, ok := strings.CutPrefix(uri, ResourceScheme)
	if !ok || destination == "" {
		return nil, mcp.ErrResourceNotFound
	}

	stats, err := h.endpoint.Stats(destination)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", mcp.ErrResourceNotFound, err)
	}

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stats: %w", err)
	}

	content := mcp.JSONResource(uri, string(data))
	return &content, nil
}
