package cvc

import (
	"context"
	"errors"
	"fmt"
)

// DefaultMaxAncestryDepth bounds every walk through parent links.
const DefaultMaxAncestryDepth = 10000

// errStopWalk ends a Walk early without error.
var errStopWalk = errors.New("stop walk")

// AncestryResolver computes relationships between commits by following
// parent links. It holds no state besides its graph and depth bound.
type AncestryResolver struct {
	graph    CommitGraph
	maxDepth int
}

// NewAncestryResolver creates a resolver. A non-positive maxDepth uses
// DefaultMaxAncestryDepth.
func NewAncestryResolver(graph CommitGraph, maxDepth int) *AncestryResolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxAncestryDepth
	}
	return &AncestryResolver{graph: graph, maxDepth: maxDepth}
}

// Walk visits from and each of its ancestors in order, passing the number of
// parent hops from the start. fn may return errStopWalk to end the walk.
// Walks longer than the depth bound fail with ErrAncestryTooDeep; a
// repeated commit, a missing parent or a parent of another item fail with
// ErrCorruptHistory.
func (r *AncestryResolver) Walk(ctx context.Context, from string, fn func(link *CommitLink, depth int) error) error {
	seen := make(map[string]struct{})
	var item ContentItem

	id := from
	for depth := 0; id != ""; depth++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if depth > r.maxDepth {
			return NewError(ErrAncestryTooDeep, "commit %s has more than %d ancestors", from, r.maxDepth)
		}
		if _, ok := seen[id]; ok {
			return NewError(ErrCorruptHistory, "ancestry of %s revisits commit %s", from, id)
		}
		seen[id] = struct{}{}

		link, err := r.graph.FindCommitLink(ctx, id)
		if err != nil {
			return fmt.Errorf("finding commit %s: %w", id, err)
		}
		if link == nil {
			if depth == 0 {
				return NewError(ErrCommitNotFound, "commit %s", id)
			}
			return NewError(ErrCorruptHistory, "ancestry of %s references missing commit %s", from, id)
		}
		if depth == 0 {
			item = link.ContentItem
		} else if link.ContentItem != item {
			return NewError(ErrCorruptHistory, "commit %s belongs to %s, not %s", id, link.ContentItem, item)
		}

		if err := fn(link, depth); err != nil {
			if errors.Is(err, errStopWalk) {
				return nil
			}
			return err
		}
		id = link.ParentID
	}
	return nil
}

// Resolve finds the lowest common ancestor of commits a and b and how far
// each is from it. It walks a to its root recording each commit's distance,
// then walks b until it reaches one of those commits.
func (r *AncestryResolver) Resolve(ctx context.Context, a, b string) (*Divergence, error) {
	depthA := make(map[string]int)
	var itemA ContentItem
	err := r.Walk(ctx, a, func(link *CommitLink, depth int) error {
		if depth == 0 {
			itemA = link.ContentItem
		}
		depthA[link.ID] = depth
		return nil
	})
	if err != nil {
		return nil, err
	}

	var div *Divergence
	err = r.Walk(ctx, b, func(link *CommitLink, depth int) error {
		if depth == 0 && link.ContentItem != itemA {
			return NewError(ErrIncompatibleBranches, "commit %s belongs to %s, commit %s to %s", a, itemA, b, link.ContentItem)
		}
		if ahead, ok := depthA[link.ID]; ok {
			div = newDivergence(link.ID, ahead, depth)
			return errStopWalk
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if div == nil {
		// Both commits belong to one item, which has a single root.
		return nil, NewError(ErrCorruptHistory, "commits %s and %s share no ancestor", a, b)
	}
	return div, nil
}

// IsAncestor reports whether ancestor is reachable from descendant by zero or
// more parent hops, and how many hops it took.
func (r *AncestryResolver) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, int, error) {
	found, hops := false, 0
	err := r.Walk(ctx, descendant, func(link *CommitLink, depth int) error {
		if link.ID == ancestor {
			found, hops = true, depth
			return errStopWalk
		}
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	return found, hops, nil
}

func newDivergence(base string, ahead, behind int) *Divergence {
	return &Divergence{
		BaseID:        base,
		Ahead:         ahead,
		Behind:        behind,
		RequiresMerge: ahead > 0 && behind > 0,
		FastForward:   (ahead > 0) != (behind > 0),
	}
}
