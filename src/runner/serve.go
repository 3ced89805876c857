package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/peopleworks/ason/src/protocol"
)

// Serve speaks the runner side of the wire protocol over the given pipe
// pair: exec-requests are evaluated concurrently, host calls made by a
// running script travel back as invoke-requests, and their invoke-results
// are matched by id. Serve returns when the input stream closes.
func Serve(ctx context.Context, in io.Reader, out io.Writer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{out: out, logger: logger, pending: make(map[string]chan protocol.Envelope)}

	s.engine = &Engine{
		Logger: logger,
		Host: Host{
			Invoke:     s.invoke,
			InvokeTool: s.invokeTool,
		},
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		env, err := protocol.Decode(line)
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownKind) {
				logger.Warn("ignoring unknown frame", "error", err)
				continue
			}
			logger.Error("malformed frame", "error", err)
			continue
		}
		switch env.Type {
		case protocol.KindExecRequest:
			go s.exec(ctx, env)
		case protocol.KindInvokeResult:
			s.resolve(env)
		default:
			logger.Warn("unexpected frame on runner side", "type", env.Type)
		}
	}
	s.failPending()
	return scanner.Err()
}

type server struct {
	engine *Engine
	logger *slog.Logger

	writeMu sync.Mutex
	out     io.Writer

	mu      sync.Mutex
	pending map[string]chan protocol.Envelope
	closed  bool
}

func (s *server) write(frame any) error {
	line, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = io.WriteString(s.out, line+"\n")
	return err
}

func (s *server) exec(ctx context.Context, env protocol.Envelope) {
	value, err := s.engine.Execute(ctx, env.Code)
	result := &protocol.ExecResult{ID: env.ID}
	if err != nil {
		result.Error = err.Error()
	} else if value != nil {
		raw, merr := protocol.MarshalValue(value)
		if merr != nil {
			result.Error = merr.Error()
		} else {
			result.Result = raw
		}
	}
	if werr := s.write(result); werr != nil {
		s.logger.Error("write exec-result", "error", werr)
	}
}

// await registers the reply slot for id before send writes the request, so a
// reply cannot arrive ahead of its slot, then blocks for that reply.
func (s *server) await(id string, send func() error) (protocol.Envelope, error) {
	ch := make(chan protocol.Envelope, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return protocol.Envelope{}, errors.New("runner: connection closed")
	}
	s.pending[id] = ch
	s.mu.Unlock()

	if err := send(); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return protocol.Envelope{}, err
	}
	env, ok := <-ch
	if !ok {
		return protocol.Envelope{}, errors.New("runner: connection closed")
	}
	return env, nil
}

func (s *server) resolve(env protocol.Envelope) {
	s.mu.Lock()
	ch, ok := s.pending[env.ID]
	if ok {
		delete(s.pending, env.ID)
	}
	s.mu.Unlock()
	if ok {
		ch <- env
	}
}

func (s *server) failPending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]chan protocol.Envelope)
	s.closed = true
	s.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

func (s *server) invoke(ctx context.Context, target, method, handle string, args []json.RawMessage) (json.RawMessage, error) {
	id := uuid.NewString()
	req := &protocol.InvokeRequest{ID: id, Target: target, Method: method, HandleID: handle, Args: args}
	env, err := s.await(id, func() error { return s.write(req) })
	if err != nil {
		return nil, err
	}
	if env.Error != "" {
		return nil, fmt.Errorf("%s", env.Error)
	}
	return env.Result, nil
}

func (s *server) invokeTool(ctx context.Context, serverName, tool string, args map[string]json.RawMessage) (json.RawMessage, error) {
	id := uuid.NewString()
	req := &protocol.MCPInvokeRequest{ID: id, Server: serverName, Tool: tool, Arguments: args}
	env, err := s.await(id, func() error { return s.write(req) })
	if err != nil {
		return nil, err
	}
	if env.Error != "" {
		return nil, fmt.Errorf("%s", env.Error)
	}
	return env.Result, nil
}
