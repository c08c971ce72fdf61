package app

import "time"

// Operation tracks a CLI operation that may mutate the database.
// Operations are created in memory with ID=0. Only mutating commands
// persist them, taking an auto-increment ID from the journal; that ID
// doubles as the version of the snapshot uploaded when the app closes.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	Status     string // "success" or "error"
}

// NewOperation creates a new in-memory operation.
func NewOperation(operation string, startedAt time.Time) *Operation {
	return &Operation{
		Operation: operation,
		StartedAt: startedAt,
		Status:    "success",
	}
}

// Persisted returns true if this operation has been saved to the database.
func (op *Operation) Persisted() bool {
	return op.ID != 0
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = "error"
}
