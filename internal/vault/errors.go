package vault

import "errors"

// ErrMetadataNotFound is returned by GetMetadata when nothing is stored.
var ErrMetadataNotFound = errors.New("metadata not found")
