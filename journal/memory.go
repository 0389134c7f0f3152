package journal

import (
	"context"
	"sync"

	"github.com/burntcarrot/otpad/ot"
)

// Memory keeps the journal in process memory.
type Memory struct {
	mu      sync.RWMutex
	streams map[string][]ot.Operation
}

// NewMemory returns an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{streams: make(map[string][]ot.Operation)}
}

// Append implements Journal.
func (m *Memory) Append(_ context.Context, session string, op ot.Operation) error {
	doc, err := documentOf(op)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := streamName(doc, session)
	m.streams[key] = append(m.streams[key], op.Clone())
	return nil
}

// Since implements Journal.
func (m *Memory) Since(_ context.Context, documentID, session string, rev int) ([]ot.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ot.Operation
	for _, op := range m.streams[streamName(documentID, session)] {
		if op.Rev >= rev {
			out = append(out, op.Clone())
		}
	}
	return out, nil
}

// Close implements Journal.
func (m *Memory) Close() error {
	return nil
}
