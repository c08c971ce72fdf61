package cvc

import "time"

// ContentItem identifies the entity a commit forest belongs to. The core never
// inspects it beyond equality.
type ContentItem struct {
	Type string
	ID   string
}

func (c ContentItem) String() string {
	return c.Type + "/" + c.ID
}

// IsZero reports whether the item carries no identity.
func (c ContentItem) IsZero() bool {
	return c.Type == "" && c.ID == ""
}

// Commit is an immutable snapshot of a content item's payload.
// ParentID is empty only for the root commit of an item.
type Commit struct {
	ID          string
	ContentItem ContentItem
	ParentID    string
	Payload     []byte
	Message     string
	AuthorID    string
	CreatedAt   time.Time
}

// IsRoot reports whether the commit has no parent.
func (c *Commit) IsRoot() bool {
	return c.ParentID == ""
}

// CommitLink is the slice of a commit needed to walk ancestry.
type CommitLink struct {
	ID          string
	ContentItem ContentItem
	ParentID    string
}

type BranchType string

const (
	BranchTypeMain    BranchType = "main"
	BranchTypeFeature BranchType = "feature"
)

type BranchStatus string

const (
	BranchStatusActive  BranchStatus = "active"
	BranchStatusDeleted BranchStatus = "deleted"
)

// MainBranchName is the name of every item's primary branch.
const MainBranchName = "main"

// Branch is a named, mutable pointer to a head commit.
// SourceID is the commit the branch was forked from; empty for main.
type Branch struct {
	ID          string
	ContentItem ContentItem
	Name        string
	Type        BranchType
	HeadID      string
	SourceID    string
	Status      BranchStatus
	DeletedAt   *time.Time
	CreatedAt   time.Time
}

func (b *Branch) IsActive() bool {
	return b.Status == BranchStatusActive
}

// Divergence describes how two commits of the same item relate.
type Divergence struct {
	// BaseID is the lowest common ancestor.
	BaseID string
	// Ahead is the number of commits on A not reachable from B.
	Ahead int
	// Behind is the number of commits on B not reachable from A.
	Behind        int
	RequiresMerge bool
	FastForward   bool
}

// ActivitySummary is a read-only count of commits reachable from a branch head.
type ActivitySummary struct {
	TotalCommits int
	FirstCommit  *Commit
	LastCommit   *Commit
}

// CheckoutRequest carries a new version of a branch's payload.
// If ExpectedHeadID is set, the checkout fails with ErrHeadMoved instead of
// retrying when the branch head differs from it.
type CheckoutRequest struct {
	BranchID       string
	Payload        []byte
	Message        string
	AuthorID       string
	ExpectedHeadID string
}

// Operation is a journaled CLI operation. Finished operations carry a status
// of "success" or "error".
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
}
