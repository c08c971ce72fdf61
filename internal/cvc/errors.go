package cvc

import (
	"errors"
	"fmt"
)

// Kind classifies errors the way callers react to them.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is caller input that can never succeed as given.
	KindValidation
	KindNotFound
	// KindConflict is a lost race; retrying may succeed.
	KindConflict
	// KindState is an operation that is invalid for the entity's current status.
	KindState
	// KindIntegrity is stored data that violates a structural invariant.
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindState:
		return "state"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// Error is a classified domain error. Sentinel values below identify the
// specific failure and are matched with errors.Is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error

	sentinel *Error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	} else {
		msg = e.Code + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches an Error against the sentinel it was created from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e == t || (e.sentinel != nil && e.sentinel == t)
}

func sentinel(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

var (
	ErrAlreadyExists        = sentinel(KindValidation, "AlreadyExists")
	ErrInvalidName          = sentinel(KindValidation, "InvalidName")
	ErrNameTaken            = sentinel(KindValidation, "NameTaken")
	ErrIncompatibleBranches = sentinel(KindValidation, "IncompatibleBranches")
	ErrInvalidContentItem   = sentinel(KindValidation, "InvalidContentItem")

	ErrBranchNotFound = sentinel(KindNotFound, "BranchNotFound")
	ErrCommitNotFound = sentinel(KindNotFound, "CommitNotFound")

	ErrHeadMoved = sentinel(KindConflict, "HeadMoved")

	ErrBranchNotActive     = sentinel(KindState, "BranchNotActive")
	ErrBranchNotDeleted    = sentinel(KindState, "BranchNotDeleted")
	ErrInvalidSourceBranch = sentinel(KindState, "InvalidSourceBranch")
	ErrProtectedBranch     = sentinel(KindState, "ProtectedBranch")

	ErrInvalidParent   = sentinel(KindIntegrity, "InvalidParent")
	ErrAncestryTooDeep = sentinel(KindIntegrity, "AncestryTooDeep")
	ErrCorruptHistory  = sentinel(KindIntegrity, "CorruptHistory")
)

// NewError returns an error that matches s under errors.Is.
func NewError(s *Error, format string, args ...any) *Error {
	return &Error{
		Kind:     s.Kind,
		Code:     s.Code,
		Message:  fmt.Sprintf(format, args...),
		sentinel: s,
	}
}

// WrapError is NewError with an underlying cause.
func WrapError(s *Error, err error, format string, args ...any) *Error {
	e := NewError(s, format, args...)
	e.Err = err
	return e
}

// KindOf returns the Kind of the first Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ErrSnapshotUnsupported is returned by Database.BackupTo for server backends.
var ErrSnapshotUnsupported = errors.New("database snapshots not supported by this backend")
