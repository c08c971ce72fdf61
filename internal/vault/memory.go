package vault

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"cvc-go/internal/cvc"
)

// MemoryVault is an in-memory implementation of the Vault interface.
// It is useful for testing and safe for concurrent use.
type MemoryVault struct {
	name            string
	metadata        map[string][]byte // "instanceID/name" -> data
	metadataVersion map[string]int64  // "instanceID/name" -> version
	mu              sync.RWMutex
}

// NewMemoryVault creates a new in-memory vault with the given name.
func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:            name,
		metadata:        make(map[string][]byte),
		metadataVersion: make(map[string]int64),
	}
}

// metadataKey returns the map key for an instance/name pair.
func metadataKey(instanceID, name string) string {
	return instanceID + "/" + name
}

// PutMetadata stores a named item for an instance.
func (m *MemoryVault) PutMetadata(instanceID string, name string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read metadata: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := metadataKey(instanceID, name)
	m.metadata[key] = data
	m.metadataVersion[key] = version
	return nil
}

// GetMetadataVersion returns 0 if nothing has been stored for this instance/name.
func (m *MemoryVault) GetMetadataVersion(instanceID string, name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.metadataVersion[metadataKey(instanceID, name)], nil
}

// GetMetadata retrieves a named item for an instance.
func (m *MemoryVault) GetMetadata(instanceID string, name string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.metadata[metadataKey(instanceID, name)]
	if !ok {
		return fmt.Errorf("%w: %q for instance %s", ErrMetadataNotFound, name, instanceID)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	return nil
}

// ValidateSetup always succeeds for in-memory vault.
func (m *MemoryVault) ValidateSetup() error {
	return nil
}

// Compile-time check that MemoryVault implements cvc.Vault interface
var _ cvc.Vault = (*MemoryVault)(nil)
