package cvc

import "io"

// Vault stores encrypted database snapshots off the host.
// All operations use io.Reader/io.Writer so snapshots are streamed.
type Vault interface {
	// PutMetadata stores a named item for an instance.
	// size is the number of bytes that will be read from r.
	// version is stored alongside the item for consistency checks.
	// Known names: "db" (encrypted database snapshot).
	PutMetadata(instanceID string, name string, r io.Reader, size int64, version int64) error

	// GetMetadata retrieves a named item for an instance and writes it to w.
	GetMetadata(instanceID string, name string, w io.Writer) error

	// GetMetadataVersion returns the version stored with a named item.
	// Returns 0 if nothing has been stored for this instance/name.
	GetMetadataVersion(instanceID string, name string) (int64, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
