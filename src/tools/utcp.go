package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	utcp "github.com/universal-tool-calling-protocol/go-utcp"
	utcptools "github.com/universal-tool-calling-protocol/go-utcp/src/tools"
)

// UTCPClient adapts a UTCP client to the tool client contract, so a server
// registered through the Universal Tool Calling Protocol looks like any other
// tool server to the invocation pipeline.
type UTCPClient struct {
	client      utcp.UtcpClientInterface
	searchLimit int
}

// NewUTCPClient wraps an initialised UTCP client.
func NewUTCPClient(client utcp.UtcpClientInterface) (*UTCPClient, error) {
	if client == nil {
		return nil, errors.New("tools: utcp client is nil")
	}
	return &UTCPClient{client: client, searchLimit: 200}, nil
}

// ListTools surfaces every tool the UTCP client can discover.
func (c *UTCPClient) ListTools(ctx context.Context) ([]Tool, error) {
	found, err := c.client.SearchTools("", c.searchLimit)
	if err != nil {
		return nil, fmt.Errorf("tools: utcp search: %w", err)
	}
	out := make([]Tool, 0, len(found))
	for _, t := range found {
		out = append(out, fromUTCPTool(t))
	}
	return out, nil
}

// Invoke dispatches through the UTCP client's native call interface.
func (c *UTCPClient) Invoke(ctx context.Context, tool string, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	result, err := c.client.CallTool(ctx, tool, args)
	if err != nil {
		return nil, fmt.Errorf("tools: utcp call %s: %w", tool, err)
	}
	return result, nil
}

func fromUTCPTool(t utcptools.Tool) Tool {
	schema, err := json.Marshal(t.Inputs)
	if err != nil {
		schema = nil
	}
	return Tool{Name: t.Name, Description: t.Description, InputSchema: schema}
}

var _ Client = (*UTCPClient)(nil)
