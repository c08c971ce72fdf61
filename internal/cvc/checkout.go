package cvc

import (
	"context"
	"fmt"
)

// CheckoutNewVersion records a new payload on an active branch: it appends a
// commit whose parent is the branch head and moves the head to it. When
// another writer moves the head first, the attempt is retried against the new
// head up to Options.MaxCheckoutRetries times unless req.ExpectedHeadID pins
// the head the caller edited.
func (s *CVCService) CheckoutNewVersion(ctx context.Context, req CheckoutRequest) (*Commit, error) {
	branch, err := s.GetBranch(ctx, req.BranchID)
	if err != nil {
		return nil, err
	}

	var commit *Commit
	err = s.withItemLock(ctx, branch.ContentItem, func() error {
		var lastErr error
		for attempt := 0; attempt <= s.opts.MaxCheckoutRetries; attempt++ {
			if attempt > 0 {
				s.logger.Warn("branch head moved, retrying checkout", "branch", req.BranchID, "attempt", attempt)
			}
			commit, lastErr = s.checkoutOnce(ctx, req)
			if lastErr == nil || !isRetryable(lastErr) || req.ExpectedHeadID != "" {
				return lastErr
			}
		}
		return lastErr
	})
	if err != nil {
		return nil, s.integrity(err)
	}

	s.logger.Info("new version checked out", "item", commit.ContentItem.String(), "branch", req.BranchID, "commit", commit.ID, "parent", commit.ParentID)
	return commit, nil
}

func (s *CVCService) checkoutOnce(ctx context.Context, req CheckoutRequest) (*Commit, error) {
	branch, err := s.GetBranch(ctx, req.BranchID)
	if err != nil {
		return nil, err
	}
	if !branch.IsActive() {
		return nil, NewError(ErrBranchNotActive, "branch %s is %s", branch.ID, branch.Status)
	}
	if req.ExpectedHeadID != "" && req.ExpectedHeadID != branch.HeadID {
		return nil, NewError(ErrHeadMoved, "branch %s head is %s, expected %s", branch.ID, branch.HeadID, req.ExpectedHeadID)
	}

	payload := req.Payload
	if payload == nil {
		payload = []byte{}
	}
	commit := &Commit{
		ID:          s.idgen.New(),
		ContentItem: branch.ContentItem,
		ParentID:    branch.HeadID,
		Payload:     payload,
		Message:     req.Message,
		AuthorID:    req.AuthorID,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.database.AdvanceBranchHead(ctx, branch.ID, branch.HeadID, commit); err != nil {
		return nil, fmt.Errorf("advancing branch %s: %w", branch.ID, err)
	}
	return commit, nil
}
