package document

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/rendis/docket/pkg/schema"
)

// MemorySource is an in-memory Source for tests and single-binary setups
// without a storage account.
type MemorySource struct {
	mu         sync.RWMutex
	containers map[string]map[string][]byte
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{containers: make(map[string]map[string][]byte)}
}

func (m *MemorySource) Fetch(ctx context.Context, container, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	blobs, ok := m.containers[container]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "container %q not found", container)
	}
	data, ok := blobs[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "document %s/%s not found", container, name)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MemorySource) Put(ctx context.Context, container, name string, r io.Reader, contentType string) error {
	if err := validateName(name); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeRetrieval, "read upload %s/%s", container, name).WithCause(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	blobs, ok := m.containers[container]
	if !ok {
		blobs = make(map[string][]byte)
		m.containers[container] = blobs
	}
	blobs[name] = data
	return nil
}

func (m *MemorySource) List(ctx context.Context, container string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blobs, ok := m.containers[container]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "container %q not found", container)
	}
	names := make([]string, 0, len(blobs))
	for name := range blobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemorySource) Ensure(ctx context.Context, container string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.containers[container]; !ok {
		m.containers[container] = make(map[string][]byte)
	}
	return nil
}
