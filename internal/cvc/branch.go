package cvc

import (
	"context"
	"errors"
	"fmt"
)

const initialCommitMessage = "Initial version"

// CreateMainBranch creates the root commit of an item (if it has none yet)
// and an active main branch pointing at it.
// Fails with ErrAlreadyExists if the item already has an active main branch.
func (s *CVCService) CreateMainBranch(ctx context.Context, item ContentItem, authorID string) (*Branch, error) {
	if err := validateItem(item); err != nil {
		return nil, err
	}

	var branch *Branch
	err := s.withItemLock(ctx, item, func() error {
		existing, err := s.database.FindActiveBranchByName(ctx, item, MainBranchName)
		if err != nil {
			return fmt.Errorf("checking for existing main branch: %w", err)
		}
		if existing != nil {
			return NewError(ErrAlreadyExists, "%s already has an active main branch %s", item, existing.ID)
		}

		now := s.clock.Now()
		root := &Commit{
			ID:          s.idgen.New(),
			ContentItem: item,
			Payload:     []byte{},
			Message:     initialCommitMessage,
			AuthorID:    authorID,
			CreatedAt:   now,
		}
		branch = &Branch{
			ID:          s.idgen.New(),
			ContentItem: item,
			Name:        MainBranchName,
			Type:        BranchTypeMain,
			Status:      BranchStatusActive,
			CreatedAt:   now,
		}

		if err := s.database.CreateMainBranch(ctx, branch, root); err != nil {
			if errors.Is(err, ErrNameTaken) {
				return WrapError(ErrAlreadyExists, err, "%s already has an active main branch", item)
			}
			return fmt.Errorf("creating main branch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, s.integrity(err)
	}

	s.logger.Info("main branch created", "item", item.String(), "branch", branch.ID, "head", branch.HeadID)
	return branch, nil
}

// CreateFeatureBranch forks a new feature branch from the current head of an
// active source branch. The name is normalized with NormalizeFeatureName.
// An inactive source is reported before an invalid name.
func (s *CVCService) CreateFeatureBranch(ctx context.Context, name, sourceBranchID string) (*Branch, error) {
	source, err := s.GetBranch(ctx, sourceBranchID)
	if err != nil {
		return nil, err
	}
	if !source.IsActive() {
		return nil, NewError(ErrInvalidSourceBranch, "source branch %s is %s", source.ID, source.Status)
	}

	normalized, err := NormalizeFeatureName(name)
	if err != nil {
		return nil, err
	}

	var branch *Branch
	err = s.withItemLock(ctx, source.ContentItem, func() error {
		// Re-read under the lock so the fork point is the source's head now.
		source, err = s.GetBranch(ctx, sourceBranchID)
		if err != nil {
			return err
		}
		if !source.IsActive() {
			return NewError(ErrInvalidSourceBranch, "source branch %s is %s", source.ID, source.Status)
		}

		taken, err := s.database.FindActiveBranchByName(ctx, source.ContentItem, normalized)
		if err != nil {
			return fmt.Errorf("checking branch name: %w", err)
		}
		if taken != nil {
			return NewError(ErrNameTaken, "branch %q already exists on %s", normalized, source.ContentItem)
		}

		branch = &Branch{
			ID:          s.idgen.New(),
			ContentItem: source.ContentItem,
			Name:        normalized,
			Type:        BranchTypeFeature,
			HeadID:      source.HeadID,
			SourceID:    source.HeadID,
			Status:      BranchStatusActive,
			CreatedAt:   s.clock.Now(),
		}
		if err := s.database.InsertBranch(ctx, branch); err != nil {
			return fmt.Errorf("creating feature branch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("feature branch created", "item", branch.ContentItem.String(), "branch", branch.ID, "name", branch.Name, "source", branch.SourceID)
	return branch, nil
}

// DeleteBranch soft-deletes an active branch. Its commits and head stay
// intact and its name becomes available to new branches.
func (s *CVCService) DeleteBranch(ctx context.Context, branchID string) (*Branch, error) {
	branch, err := s.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}

	err = s.withItemLock(ctx, branch.ContentItem, func() error {
		branch, err = s.GetBranch(ctx, branchID)
		if err != nil {
			return err
		}
		if !branch.IsActive() {
			return NewError(ErrBranchNotActive, "branch %s is already deleted", branch.ID)
		}
		if branch.Type == BranchTypeMain && s.opts.ProtectMainBranch {
			return NewError(ErrProtectedBranch, "main branch %s cannot be deleted", branch.ID)
		}

		now := s.clock.Now()
		if err := s.database.SetBranchStatus(ctx, branch.ID, BranchStatusActive, BranchStatusDeleted, &now); err != nil {
			return fmt.Errorf("deleting branch: %w", err)
		}
		branch.Status = BranchStatusDeleted
		branch.DeletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("branch deleted", "item", branch.ContentItem.String(), "branch", branch.ID, "name", branch.Name)
	return branch, nil
}

// RestoreBranch reactivates a soft-deleted branch with its head and source
// unchanged. Fails with ErrNameTaken if an active branch took its name.
func (s *CVCService) RestoreBranch(ctx context.Context, branchID string) (*Branch, error) {
	branch, err := s.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}

	err = s.withItemLock(ctx, branch.ContentItem, func() error {
		branch, err = s.GetBranch(ctx, branchID)
		if err != nil {
			return err
		}
		if branch.IsActive() {
			return NewError(ErrBranchNotDeleted, "branch %s is active", branch.ID)
		}

		taken, err := s.database.FindActiveBranchByName(ctx, branch.ContentItem, branch.Name)
		if err != nil {
			return fmt.Errorf("checking branch name: %w", err)
		}
		if taken != nil {
			return NewError(ErrNameTaken, "branch %q is in use by %s", branch.Name, taken.ID)
		}

		if err := s.database.SetBranchStatus(ctx, branch.ID, BranchStatusDeleted, BranchStatusActive, nil); err != nil {
			return fmt.Errorf("restoring branch: %w", err)
		}
		branch.Status = BranchStatusActive
		branch.DeletedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("branch restored", "item", branch.ContentItem.String(), "branch", branch.ID, "name", branch.Name)
	return branch, nil
}

// VerifyBranch checks that a branch's head exists and that its source is
// reachable from the head.
func (s *CVCService) VerifyBranch(ctx context.Context, branchID string) error {
	branch, err := s.GetBranch(ctx, branchID)
	if err != nil {
		return err
	}

	ancestor := branch.SourceID
	if ancestor == "" {
		ancestor = branch.HeadID
	}
	found, _, err := s.ancestry.IsAncestor(ctx, ancestor, branch.HeadID)
	if err != nil {
		return s.integrity(missingHead(branch, err))
	}
	if !found {
		return s.integrity(NewError(ErrCorruptHistory, "branch %s source %s is not an ancestor of head %s", branch.ID, branch.SourceID, branch.HeadID))
	}
	return nil
}
