package tools

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// mcpProtocolVersion loosely follows the Model Context Protocol releases; a
// server may negotiate any version it accepts.
const mcpProtocolVersion = "2024-05-01"

// MCPClientInfo describes the calling application during the MCP handshake.
type MCPClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPOptions control how the MCP client initialises the remote server.
type MCPOptions struct {
	ClientInfo      MCPClientInfo
	Capabilities    map[string]any
	ProtocolVersion string
}

func (o MCPOptions) withDefaults() MCPOptions {
	if strings.TrimSpace(o.ClientInfo.Name) == "" {
		o.ClientInfo.Name = "ason"
	}
	if strings.TrimSpace(o.ClientInfo.Version) == "" {
		o.ClientInfo.Version = "dev"
	}
	if o.Capabilities == nil {
		o.Capabilities = map[string]any{
			"tools": map[string]bool{"list": true, "call": true},
		}
	}
	if strings.TrimSpace(o.ProtocolVersion) == "" {
		o.ProtocolVersion = mcpProtocolVersion
	}
	return o
}

// MCPTransport is the underlying message transport used by the MCP client.
type MCPTransport interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

type rpcReply struct {
	result json.RawMessage
	err    error
}

// MCPClient implements the tool client contract over the Model Context
// Protocol. Requests are correlated to responses through a pending-reply
// table fed by a single reader goroutine, the same owned one-shot slot shape
// the execution dispatcher uses; callers never touch the wire directly.
type MCPClient struct {
	transport MCPTransport
	opts      MCPOptions

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan rpcReply
	closed  bool
	cause   error
}

// NewMCPClient starts the reader, performs the initialise handshake, and
// returns a ready client. The transport is closed if the handshake fails.
func NewMCPClient(ctx context.Context, transport MCPTransport, opts MCPOptions) (*MCPClient, error) {
	if transport == nil {
		return nil, errors.New("tools: mcp transport is nil")
	}

	c := &MCPClient{
		transport: transport,
		opts:      opts.withDefaults(),
		pending:   make(map[string]chan rpcReply),
	}
	go c.readLoop()

	handshake := map[string]any{
		"protocolVersion": c.opts.ProtocolVersion,
		"clientInfo":      c.opts.ClientInfo,
		"capabilities":    c.opts.Capabilities,
	}
	if err := c.roundTrip(ctx, "initialize", handshake, nil); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Close tears down the transport and fails every waiting call. Idempotent.
func (c *MCPClient) Close() error {
	c.shutdown(errors.New("tools: mcp client has been closed"))
	return c.transport.Close()
}

// shutdown marks the client closed and drains the pending table exactly once.
func (c *MCPClient) shutdown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cause = cause
	waiting := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, slot := range waiting {
		slot <- rpcReply{err: cause}
	}
}

// readLoop demultiplexes server frames into the pending table. Responses
// whose id finds no slot, notifications, and undecodable frames are dropped;
// a transport error is terminal and fails everything still in flight.
func (c *MCPClient) readLoop() {
	for {
		payload, err := c.transport.Receive(context.Background())
		if err != nil {
			c.shutdown(fmt.Errorf("tools: mcp connection lost: %w", err))
			return
		}

		var frame struct {
			ID     *string         `json:"id"`
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
			Method string `json:"method"`
		}
		if json.Unmarshal(payload, &frame) != nil {
			continue
		}
		if frame.Method != "" || frame.ID == nil {
			// Server-initiated notification; nothing is waiting on it.
			continue
		}

		c.mu.Lock()
		slot, ok := c.pending[*frame.ID]
		if ok {
			delete(c.pending, *frame.ID)
		}
		c.mu.Unlock()
		if !ok {
			continue
		}

		if frame.Error != nil {
			slot <- rpcReply{err: errors.New(frame.Error.Message)}
		} else {
			slot <- rpcReply{result: frame.Result}
		}
	}
}

// roundTrip issues one JSON-RPC request and blocks on its slot until the
// reader resolves it, the context ends, or the client closes.
func (c *MCPClient) roundTrip(ctx context.Context, method string, params any, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	id := strconv.FormatUint(c.nextID.Add(1), 10)

	slot := make(chan rpcReply, 1)
	c.mu.Lock()
	if c.closed {
		cause := c.cause
		c.mu.Unlock()
		return cause
	}
	c.pending[id] = slot
	c.mu.Unlock()

	abandon := func() {
		c.mu.Lock()
		if c.pending != nil {
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  method,
		"params":  params,
	})
	if err != nil {
		abandon()
		return fmt.Errorf("tools: marshal mcp request: %w", err)
	}

	c.writeMu.Lock()
	err = c.transport.Send(ctx, body)
	c.writeMu.Unlock()
	if err != nil {
		abandon()
		return err
	}

	select {
	case <-ctx.Done():
		abandon()
		return ctx.Err()
	case reply := <-slot:
		if reply.err != nil {
			return reply.err
		}
		if out != nil && len(reply.result) > 0 {
			if err := json.Unmarshal(reply.result, out); err != nil {
				return fmt.Errorf("tools: decode mcp result: %w", err)
			}
		}
		return nil
	}
}

// ListTools retrieves the complete tool catalog, page by page.
func (c *MCPClient) ListTools(ctx context.Context) ([]Tool, error) {
	var catalog []Tool
	cursor := ""
	for {
		page, next, err := c.listPage(ctx, cursor)
		if err != nil {
			return nil, err
		}
		catalog = append(catalog, page...)
		if next == "" {
			return catalog, nil
		}
		cursor = next
	}
}

func (c *MCPClient) listPage(ctx context.Context, cursor string) ([]Tool, string, error) {
	params := map[string]any{}
	if cursor != "" {
		params["cursor"] = cursor
	}

	var page struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema,omitempty"`
		} `json:"tools"`
		NextCursor string `json:"nextCursor,omitempty"`
	}
	if err := c.roundTrip(ctx, "tools/list", params, &page); err != nil {
		return nil, "", err
	}

	out := make([]Tool, 0, len(page.Tools))
	for _, t := range page.Tools {
		out = append(out, Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}
	return out, strings.TrimSpace(page.NextCursor), nil
}

// Invoke calls a named tool. Text parts are joined with newlines; a lone
// JSON part decodes into plain Go values.
func (c *MCPClient) Invoke(ctx context.Context, tool string, args map[string]any) (any, error) {
	if strings.TrimSpace(tool) == "" {
		return nil, errors.New("tools: mcp tool name is required")
	}

	params := map[string]any{"name": tool}
	if len(args) > 0 {
		params["arguments"] = args
	}

	var outcome struct {
		Content []struct {
			Type string          `json:"type"`
			Text string          `json:"text,omitempty"`
			Data json.RawMessage `json:"data,omitempty"`
		} `json:"content"`
		IsError bool `json:"isError,omitempty"`
	}
	if err := c.roundTrip(ctx, "tools/call", params, &outcome); err != nil {
		return nil, err
	}

	var texts []string
	var structured json.RawMessage
	for _, part := range outcome.Content {
		switch part.Type {
		case "text":
			if t := strings.TrimSpace(part.Text); t != "" {
				texts = append(texts, t)
			}
		case "json":
			if structured == nil && len(part.Data) > 0 {
				structured = part.Data
			}
		}
	}

	if outcome.IsError {
		reason := strings.Join(texts, "\n")
		if reason == "" {
			reason = "tool reported an error"
		}
		return nil, fmt.Errorf("tools: mcp tool %s failed: %s", tool, reason)
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n"), nil
	}
	if structured != nil {
		var v any
		if err := json.Unmarshal(structured, &v); err != nil {
			return string(structured), nil
		}
		return v, nil
	}
	return nil, nil
}

// ----------------------------------------------------------------------------
// Content-Length framed transport, the MCP stdio wire format.

type mcpFrameTransport struct {
	reader       *bufio.Reader
	writer       io.Writer
	stdinCloser  io.Closer
	stdoutCloser io.Closer
	writeMu      sync.Mutex
}

// NewMCPFrameTransport frames payloads with Content-Length headers over the
// given pipe pair.
func NewMCPFrameTransport(stdin io.WriteCloser, stdout io.ReadCloser) MCPTransport {
	return &mcpFrameTransport{
		reader:       bufio.NewReader(stdout),
		writer:       stdin,
		stdinCloser:  stdin,
		stdoutCloser: stdout,
	}
}

func (t *mcpFrameTransport) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := io.WriteString(t.writer, header); err != nil {
		return err
	}
	_, err := t.writer.Write(payload)
	return err
}

func (t *mcpFrameTransport) Receive(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	length, err := t.readContentLength()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(t.reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (t *mcpFrameTransport) Close() error {
	var err error
	if t.stdinCloser != nil {
		if e := t.stdinCloser.Close(); e != nil {
			err = e
		}
	}
	if t.stdoutCloser != nil {
		if e := t.stdoutCloser.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

func (t *mcpFrameTransport) readContentLength() (int, error) {
	length := -1
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return 0, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			value := strings.TrimSpace(line[len("content-length:"):])
			parsed, err := strconv.Atoi(value)
			if err != nil {
				return 0, fmt.Errorf("tools: invalid content length: %w", err)
			}
			length = parsed
		}
	}
	if length < 0 {
		return 0, errors.New("tools: missing Content-Length header")
	}
	return length, nil
}

var _ Client = (*MCPClient)(nil)
