// Package agents holds the three cooperating agents of the routing pipeline:
// the reception router deciding answer vs script, the script agent writing
// candidates, and the explainer rendering raw results into prose. They share
// one append-only thread per user turn.
package agents

import (
	"strings"
	"sync"

	"github.com/peopleworks/ason/src/models"
)

// Thread is the append-only turn list shared across the agents within one
// user turn.
type Thread struct {
	mu    sync.Mutex
	turns []models.Message
}

// NewThread seeds a thread with the given turns.
func NewThread(turns ...models.Message) *Thread {
	t := &Thread{}
	t.turns = append(t.turns, turns...)
	return t
}

// Append adds one turn.
func (t *Thread) Append(role, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, models.Message{Role: role, Content: content})
}

// Messages returns a snapshot of the turns.
func (t *Thread) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Message, len(t.turns))
	copy(out, t.turns)
	return out
}

// LastUser returns the newest user turn, the effective task unless the
// router rewrote it.
func (t *Thread) LastUser() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.turns) - 1; i >= 0; i-- {
		if t.turns[i].Role == models.RoleUser {
			return strings.TrimSpace(t.turns[i].Content)
		}
	}
	return ""
}
