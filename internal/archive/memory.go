package archive

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"rolectl/internal/settings"
)

// MemoryArchive keeps records in memory. It is safe for concurrent use.
type MemoryArchive struct {
	name    string
	records map[string][]byte
	mu      sync.RWMutex
}

// NewMemoryArchive creates an empty in-memory archive.
func NewMemoryArchive(name string) *MemoryArchive {
	return &MemoryArchive{
		name:    name,
		records: make(map[string][]byte),
	}
}

func (m *MemoryArchive) Name() string { return m.name }

func (m *MemoryArchive) Put(key string, r io.Reader, size int64) error {
	if err := checkKey(key); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read record: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = data
	return nil
}

func (m *MemoryArchive) Get(key string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.records[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

func (m *MemoryArchive) List(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.records))
	for k := range m.records {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// ValidateSetup always succeeds for the in-memory archive.
func (m *MemoryArchive) ValidateSetup() error {
	return nil
}

var _ settings.Archive = (*MemoryArchive)(nil)
