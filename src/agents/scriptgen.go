package agents

import (
	"context"
	"log/slog"
	"strings"

	"github.com/peopleworks/ason/src/models"
)

// ScriptAgent asks the model for candidate scripts against the proxy
// signatures.
type ScriptAgent struct {
	Completer    models.Completer
	Instructions string
	Signatures   string
	Logger       *slog.Logger
}

func (s *ScriptAgent) instructions() string {
	base := s.Instructions
	if strings.TrimSpace(base) == "" {
		base = DefaultScriptInstructions
	}
	if strings.TrimSpace(s.Signatures) == "" {
		return base
	}
	return base + "\n\nAvailable host functions:\n" + s.Signatures
}

func (s *ScriptAgent) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// Propose generates the next candidate from the thread, which carries the
// task and any corrective feedback from failed attempts.
func (s *ScriptAgent) Propose(ctx context.Context, thread *Thread) (string, error) {
	msgs := []models.Message{{Role: models.RoleSystem, Content: s.instructions()}}
	msgs = append(msgs, thread.Messages()...)

	s.logger().Debug("script agent request", "task", thread.LastUser())
	reply, err := s.Completer.Complete(ctx, msgs)
	if err != nil {
		return "", err
	}
	s.logger().Debug("script agent reply", "script", reply)
	return reply, nil
}
