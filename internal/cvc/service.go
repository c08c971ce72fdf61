package cvc

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxCheckoutRetries is how often a checkout re-reads a moved head.
const DefaultMaxCheckoutRetries = 5

// Options tunes CVCService behaviour.
type Options struct {
	MaxAncestryDepth   int
	MaxCheckoutRetries int
	// ProtectMainBranch refuses to delete main branches.
	ProtectMainBranch bool
}

// CVCService is the orchestration layer over the commit forest and branch
// registry. It owns validation, name normalization, conflict retries and
// ancestry queries; storage guarantees atomicity of each mutation.
type CVCService struct {
	database Database
	locker   Locker
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	ancestry *AncestryResolver
	opts     Options
}

// NewCVCService creates a new CVCService with the provided dependencies.
// A nil locker falls back to NopLocker and a nil logger to NopLogger.
func NewCVCService(database Database, locker Locker, logger Logger, clock Clock, idgen IDGenerator, opts Options) *CVCService {
	if locker == nil {
		locker = NopLocker{}
	}
	if logger == nil {
		logger = NopLogger{}
	}
	if opts.MaxCheckoutRetries < 0 {
		opts.MaxCheckoutRetries = 0
	}
	return &CVCService{
		database: database,
		locker:   locker,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		ancestry: NewAncestryResolver(database, opts.MaxAncestryDepth),
		opts:     opts,
	}
}

// withItemLock runs fn while holding the item's lock.
func (s *CVCService) withItemLock(ctx context.Context, item ContentItem, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, lockKey(item))
	if err != nil {
		return fmt.Errorf("locking %s: %w", item, err)
	}
	defer unlock()
	return fn()
}

// GetBranch returns a branch by ID.
func (s *CVCService) GetBranch(ctx context.Context, branchID string) (*Branch, error) {
	branch, err := s.database.FindBranchByID(ctx, branchID)
	if err != nil {
		return nil, fmt.Errorf("finding branch: %w", err)
	}
	if branch == nil {
		return nil, NewError(ErrBranchNotFound, "branch %s", branchID)
	}
	return branch, nil
}

// FindBranch returns the active branch of an item with the given name.
// The name is normalized the same way branch creation normalizes it.
func (s *CVCService) FindBranch(ctx context.Context, item ContentItem, name string) (*Branch, error) {
	normalized, err := NormalizeBranchName(name)
	if err != nil {
		return nil, err
	}
	branch, err := s.database.FindActiveBranchByName(ctx, item, normalized)
	if err != nil {
		return nil, fmt.Errorf("finding branch by name: %w", err)
	}
	if branch == nil {
		return nil, NewError(ErrBranchNotFound, "no active branch %q on %s", normalized, item)
	}
	return branch, nil
}

// ListBranches returns an item's branches in creation order.
func (s *CVCService) ListBranches(ctx context.Context, item ContentItem, includeDeleted bool) ([]*Branch, error) {
	branches, err := s.database.ListBranches(ctx, item, includeDeleted)
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	return branches, nil
}

// GetCommit returns a commit with its payload.
func (s *CVCService) GetCommit(ctx context.Context, commitID string) (*Commit, error) {
	commit, err := s.database.FindCommitByID(ctx, commitID)
	if err != nil {
		return nil, fmt.Errorf("finding commit: %w", err)
	}
	if commit == nil {
		return nil, NewError(ErrCommitNotFound, "commit %s", commitID)
	}
	return commit, nil
}

// ParentOf returns the parent of a commit, or nil for a root commit.
func (s *CVCService) ParentOf(ctx context.Context, commit *Commit) (*Commit, error) {
	if commit.IsRoot() {
		return nil, nil
	}
	parent, err := s.database.FindCommitByID(ctx, commit.ParentID)
	if err != nil {
		return nil, fmt.Errorf("finding parent commit: %w", err)
	}
	if parent == nil {
		return nil, s.integrity(NewError(ErrCorruptHistory, "commit %s references missing parent %s", commit.ID, commit.ParentID))
	}
	return parent, nil
}

// missingHead reports a walk that could not even load its starting commit
// as corrupt history: a branch head always resolves.
func missingHead(branch *Branch, err error) error {
	if errors.Is(err, ErrCommitNotFound) {
		return WrapError(ErrCorruptHistory, err, "branch %s head %s does not exist", branch.ID, branch.HeadID)
	}
	return err
}

// integrity logs integrity failures before handing them back.
func (s *CVCService) integrity(err error) error {
	if KindOf(err) == KindIntegrity {
		s.logger.Error("integrity violation", "error", err)
	}
	return err
}

func validateItem(item ContentItem) error {
	if item.Type == "" || item.ID == "" {
		return NewError(ErrInvalidContentItem, "content item needs both a type and an id, got %q/%q", item.Type, item.ID)
	}
	return nil
}

// isRetryable reports whether a checkout attempt lost a head race.
func isRetryable(err error) bool {
	return errors.Is(err, ErrHeadMoved)
}
