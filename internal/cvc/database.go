package cvc

import (
	"context"
	"time"
)

// CommitGraph is the read side of the commit forest that ancestry walks use.
type CommitGraph interface {
	// FindCommitLink returns the id, item and parent of a commit, or nil if
	// it does not exist.
	FindCommitLink(ctx context.Context, id string) (*CommitLink, error)
}

// Database provides storage for commits, branches and the operation journal.
// Finders return nil, nil when the row does not exist.
type Database interface {
	CommitGraph

	// Commit operations

	// FindCommitByID returns a commit including its payload.
	FindCommitByID(ctx context.Context, id string) (*Commit, error)

	// FindRootCommit returns the parentless commit of an item.
	FindRootCommit(ctx context.Context, item ContentItem) (*Commit, error)

	// Branch operations

	FindBranchByID(ctx context.Context, id string) (*Branch, error)

	// FindActiveBranchByName looks up an active branch by its normalized name.
	FindActiveBranchByName(ctx context.Context, item ContentItem, name string) (*Branch, error)

	// ListBranches returns an item's branches ordered by creation time.
	ListBranches(ctx context.Context, item ContentItem, includeDeleted bool) ([]*Branch, error)

	// CreateMainBranch inserts root (unless the item already has one) and then
	// branch pointing at the item's root, in one transaction. branch.HeadID is
	// set to the root's ID. An active branch with the same name fails with
	// ErrNameTaken.
	CreateMainBranch(ctx context.Context, branch *Branch, root *Commit) error

	// InsertBranch inserts a branch whose head and source already exist.
	// An active branch with the same name fails with ErrNameTaken.
	InsertBranch(ctx context.Context, branch *Branch) error

	// AdvanceBranchHead appends commit (whose ParentID must equal
	// expectedHeadID) and moves the branch head to it, in one transaction.
	// Fails with ErrHeadMoved if the head is no longer expectedHeadID,
	// ErrBranchNotActive if the branch was deleted, and ErrInvalidParent if
	// the parent belongs to another item. commit.CreatedAt is clamped to be
	// no earlier than the parent's.
	AdvanceBranchHead(ctx context.Context, branchID, expectedHeadID string, commit *Commit) error

	// SetBranchStatus moves a branch from one status to another.
	// Fails with ErrBranchNotActive / ErrBranchNotDeleted if the branch is not
	// in status from, and with ErrNameTaken if reactivation collides.
	SetBranchStatus(ctx context.Context, branchID string, from, to BranchStatus, deletedAt *time.Time) error

	// Operation journal

	CreateOperation(ctx context.Context, operation, parameters string, startedAt time.Time) (*Operation, error)
	FinishOperation(ctx context.Context, id int64, status string, finishedAt time.Time) error
	ListOperations(ctx context.Context, limit int) ([]*Operation, error)

	// MaxOperationID returns the highest journaled operation ID, or 0.
	MaxOperationID(ctx context.Context) (int64, error)

	// Lifecycle

	// CheckMigrations verifies the schema is at the latest version.
	CheckMigrations() error

	// BackupTo writes a consistent copy of the database to destPath.
	// Backends that cannot do this return ErrSnapshotUnsupported.
	BackupTo(destPath string) error

	Close() error
}
