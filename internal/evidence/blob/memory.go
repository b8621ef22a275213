package blob

import (
	"context"
	"fmt"
	"io"
	"sync"

	"civicwatch/pkg/platform/sentinel"
)

// Memory keeps blobs in a map. FailOn makes Put fail for chosen names.
type Memory struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	failOn map[string]bool
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte), failOn: make(map[string]bool)}
}

// FailOn makes every Put of a blob with this name return ErrUnavailable.
func (m *Memory) FailOn(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[name] = true
}

func (m *Memory) Put(ctx context.Context, key string, b Blob) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	fail := m.failOn[b.Name]
	m.mu.RUnlock()
	if fail {
		return "", fmt.Errorf("put %s: %w", b.Name, sentinel.ErrUnavailable)
	}
	data, err := io.ReadAll(b.Content)
	if err != nil {
		return "", fmt.Errorf("read blob: %w: %w", sentinel.ErrUnavailable, err)
	}
	ref := "mem://" + key + "/" + b.Name
	m.mu.Lock()
	m.blobs[ref] = data
	m.mu.Unlock()
	return ref, nil
}

func (m *Memory) Get(ref string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[ref]
	return data, ok
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
