package operator

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// LiveInstance is one handle-addressed operator instance.
type LiveInstance struct {
	Handle     string
	Descriptor *Descriptor
	Value      reflect.Value
}

// Handles is the thread-safe table of live operator instances. Root operators
// occupy their sentinel handle for the whole session; child instances come
// and go as host methods return them.
type Handles struct {
	mu   sync.RWMutex
	byID map[string]*LiveInstance
}

// NewHandles creates an empty handle table.
func NewHandles() *Handles {
	return &Handles{byID: make(map[string]*LiveInstance)}
}

// PutRoot installs a root operator under its sentinel handle (the type name).
func (h *Handles) PutRoot(desc *Descriptor) *LiveInstance {
	inst := &LiveInstance{Handle: desc.Name, Descriptor: desc, Value: desc.Value()}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byID[inst.Handle] = inst
	return inst
}

// Put stores a new child instance under a fresh opaque handle.
func (h *Handles) Put(desc *Descriptor, value reflect.Value) *LiveInstance {
	inst := &LiveInstance{Handle: uuid.NewString(), Descriptor: desc, Value: value}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byID[inst.Handle] = inst
	return inst
}

// Get resolves a handle to its live instance.
func (h *Handles) Get(handle string) (*LiveInstance, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	inst, ok := h.byID[handle]
	if !ok {
		return nil, fmt.Errorf("operator: no live instance for handle %q", handle)
	}
	return inst, nil
}

// Release drops an instance. Releasing an unknown handle is a no-op.
func (h *Handles) Release(handle string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byID, handle)
}

// Snapshot lists live instances in deterministic order: roots first, then
// children by handle. The proxy builder uses it to declare preamble
// variables.
func (h *Handles) Snapshot() []*LiveInstance {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*LiveInstance, 0, len(h.byID))
	for _, inst := range h.byID {
		out = append(out, inst)
	}
	sort.Slice(out, func(i, j int) bool {
		ri := out[i].Descriptor.Kind == Root
		rj := out[j].Descriptor.Kind == Root
		if ri != rj {
			return ri
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}
