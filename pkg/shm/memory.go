package shm

import (
	"sync"

	"github.com/yodler/yodler/pkg/value"
)

// Memory is an in-process Store. It addresses entries by SegmentID and
// stores the serialized content, so it behaves like the System V store
// within a single process.
type Memory struct {
	mu       sync.RWMutex
	segments map[uint64][]byte
}

// NewMemory creates an empty in-process store.
func NewMemory() *Memory {
	return &Memory{segments: make(map[uint64][]byte)}
}

// Write implements Store.
func (m *Memory) Write(name string, v value.Value) error {
	data, err := encode(name, v)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[SegmentID(name)] = data
	return nil
}

// WriteRaw stores content under name without encoding it.
func (m *Memory) WriteRaw(name string, content []byte) {
	data := make([]byte, len(content))
	copy(data, content)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[SegmentID(name)] = data
}

// Read implements Store.
func (m *Memory) Read(name string) (value.Value, bool, error) {
	m.mu.RLock()
	data, ok := m.segments[SegmentID(name)]
	m.mu.RUnlock()

	if !ok {
		return value.Null(), false, nil
	}
	return decode(name, data)
}

// Delete implements Store.
func (m *Memory) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.segments, SegmentID(name))
	return nil
}
