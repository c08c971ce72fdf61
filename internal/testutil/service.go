package testutil

import (
	"testing"

	"cvc-go/internal/cvc"
)

// TestService bundles a service with the stubs behind it so tests can
// advance time or inspect the store directly.
type TestService struct {
	*cvc.CVCService
	DB    cvc.Database
	Clock *StubClock
	IDs   *StubIDGenerator
}

// NewTestService builds a service over a fresh in-memory database with a
// fixed clock and sequential IDs.
func NewTestService(t *testing.T, locker cvc.Locker, opts cvc.Options) *TestService {
	t.Helper()

	db := NewTestDatabase(t)
	clock := FixedClock()
	ids := NewStubIDGenerator()

	return &TestService{
		CVCService: cvc.NewCVCService(db, locker, cvc.NewNopLogger(), clock, ids, opts),
		DB:         db,
		Clock:      clock,
		IDs:        ids,
	}
}
