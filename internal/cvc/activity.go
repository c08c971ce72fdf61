package cvc

import (
	"context"
	"errors"
	"fmt"
)

// DivergenceInfo compares the heads of two branches of the same item.
// Ahead counts commits only on branch A, Behind commits only on branch B.
func (s *CVCService) DivergenceInfo(ctx context.Context, branchAID, branchBID string) (*Divergence, error) {
	a, err := s.GetBranch(ctx, branchAID)
	if err != nil {
		return nil, err
	}
	b, err := s.GetBranch(ctx, branchBID)
	if err != nil {
		return nil, err
	}
	if a.ContentItem != b.ContentItem {
		return nil, NewError(ErrIncompatibleBranches, "branch %s is on %s, branch %s on %s", a.ID, a.ContentItem, b.ID, b.ContentItem)
	}

	div, err := s.ancestry.Resolve(ctx, a.HeadID, b.HeadID)
	if err != nil {
		if errors.Is(err, ErrCommitNotFound) {
			err = WrapError(ErrCorruptHistory, err, "branch %s or %s points at a missing head", a.ID, b.ID)
		}
		return nil, s.integrity(fmt.Errorf("resolving %s..%s: %w", a.ID, b.ID, err))
	}
	s.logger.Debug("divergence resolved", "a", a.ID, "b", b.ID, "base", div.BaseID, "ahead", div.Ahead, "behind", div.Behind)
	return div, nil
}

// ActivitySummary counts the commits reachable from a branch head and
// returns the oldest (root-most) and newest (head) of them.
func (s *CVCService) ActivitySummary(ctx context.Context, branchID string) (*ActivitySummary, error) {
	branch, err := s.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}

	total, rootID := 0, ""
	err = s.ancestry.Walk(ctx, branch.HeadID, func(link *CommitLink, _ int) error {
		total++
		rootID = link.ID
		return nil
	})
	if err != nil {
		return nil, s.integrity(fmt.Errorf("walking branch %s: %w", branch.ID, missingHead(branch, err)))
	}

	last, err := s.GetCommit(ctx, branch.HeadID)
	if err != nil {
		return nil, err
	}
	first := last
	if rootID != last.ID {
		if first, err = s.GetCommit(ctx, rootID); err != nil {
			return nil, err
		}
	}

	return &ActivitySummary{
		TotalCommits: total,
		FirstCommit:  first,
		LastCommit:   last,
	}, nil
}

// History returns up to limit commits of a branch, newest first, following
// parent links from the head. A non-positive limit returns the whole chain.
func (s *CVCService) History(ctx context.Context, branchID string, limit int) ([]*Commit, error) {
	branch, err := s.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}

	var ids []string
	err = s.ancestry.Walk(ctx, branch.HeadID, func(link *CommitLink, depth int) error {
		if limit > 0 && depth >= limit {
			return errStopWalk
		}
		ids = append(ids, link.ID)
		return nil
	})
	if err != nil {
		return nil, s.integrity(fmt.Errorf("walking branch %s: %w", branch.ID, missingHead(branch, err)))
	}

	commits := make([]*Commit, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetCommit(ctx, id)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, nil
}
