package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"cvc-go/internal/cvc"
)

// dialect captures what differs between the SQL backends beyond
// placeholder syntax, which sqlx rebinds from the driver name.
type dialect interface {
	isUniqueViolation(err error) bool
}

// sqlStore implements the storage operations shared by every backend.
// Queries are written with '?' placeholders or :named parameters.
type sqlStore struct {
	db      *sqlx.DB
	dialect dialect
}

func newSQLStore(db *sql.DB, driverName string, d dialect) *sqlStore {
	return &sqlStore{db: sqlx.NewDb(db, driverName), dialect: d}
}

const commitColumns = "id, content_item_type, content_item_id, parent_id, payload, message, author_id, created_at"

const branchColumns = "id, content_item_type, content_item_id, name, branch_type, head_commit_id, source_commit_id, status, deleted_at, created_at"

const operationColumns = "id, operation, parameters, started_at, finished_at, status"

type commitRow struct {
	ID        string         `db:"id"`
	ItemType  string         `db:"content_item_type"`
	ItemID    string         `db:"content_item_id"`
	ParentID  sql.NullString `db:"parent_id"`
	Payload   []byte         `db:"payload"`
	Message   string         `db:"message"`
	AuthorID  string         `db:"author_id"`
	CreatedAt time.Time      `db:"created_at"`
}

func newCommitRow(c *cvc.Commit) commitRow {
	payload := c.Payload
	if payload == nil {
		payload = []byte{}
	}
	return commitRow{
		ID:        c.ID,
		ItemType:  c.ContentItem.Type,
		ItemID:    c.ContentItem.ID,
		ParentID:  nullString(c.ParentID),
		Payload:   payload,
		Message:   c.Message,
		AuthorID:  c.AuthorID,
		CreatedAt: c.CreatedAt.UTC(),
	}
}

func (r commitRow) item() cvc.ContentItem {
	return cvc.ContentItem{Type: r.ItemType, ID: r.ItemID}
}

func (r commitRow) commit() *cvc.Commit {
	payload := r.Payload
	if payload == nil {
		payload = []byte{}
	}
	return &cvc.Commit{
		ID:          r.ID,
		ContentItem: r.item(),
		ParentID:    r.ParentID.String,
		Payload:     payload,
		Message:     r.Message,
		AuthorID:    r.AuthorID,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

type branchRow struct {
	ID        string         `db:"id"`
	ItemType  string         `db:"content_item_type"`
	ItemID    string         `db:"content_item_id"`
	Name      string         `db:"name"`
	Type      string         `db:"branch_type"`
	HeadID    string         `db:"head_commit_id"`
	SourceID  sql.NullString `db:"source_commit_id"`
	Status    string         `db:"status"`
	DeletedAt sql.NullTime   `db:"deleted_at"`
	CreatedAt time.Time      `db:"created_at"`
}

func newBranchRow(b *cvc.Branch) branchRow {
	return branchRow{
		ID:        b.ID,
		ItemType:  b.ContentItem.Type,
		ItemID:    b.ContentItem.ID,
		Name:      b.Name,
		Type:      string(b.Type),
		HeadID:    b.HeadID,
		SourceID:  nullString(b.SourceID),
		Status:    string(b.Status),
		DeletedAt: nullTime(b.DeletedAt),
		CreatedAt: b.CreatedAt.UTC(),
	}
}

func (r branchRow) branch() *cvc.Branch {
	b := &cvc.Branch{
		ID:          r.ID,
		ContentItem: cvc.ContentItem{Type: r.ItemType, ID: r.ItemID},
		Name:        r.Name,
		Type:        cvc.BranchType(r.Type),
		HeadID:      r.HeadID,
		SourceID:    r.SourceID.String,
		Status:      cvc.BranchStatus(r.Status),
		CreatedAt:   r.CreatedAt.UTC(),
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time.UTC()
		b.DeletedAt = &t
	}
	return b
}

type operationRow struct {
	ID         int64        `db:"id"`
	Operation  string       `db:"operation"`
	Parameters string       `db:"parameters"`
	StartedAt  time.Time    `db:"started_at"`
	FinishedAt sql.NullTime `db:"finished_at"`
	Status     string       `db:"status"`
}

func (r operationRow) operation() *cvc.Operation {
	op := &cvc.Operation{
		ID:         r.ID,
		Operation:  r.Operation,
		Parameters: r.Parameters,
		StartedAt:  r.StartedAt.UTC(),
		Status:     r.Status,
	}
	if r.FinishedAt.Valid {
		t := r.FinishedAt.Time.UTC()
		op.FinishedAt = &t
	}
	return op
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// get runs a single-row query on q (the pool or a transaction) and reports
// whether a row was found.
func get(ctx context.Context, q sqlx.ExtContext, dest any, query string, args ...any) (bool, error) {
	err := sqlx.GetContext(ctx, q, dest, q.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Commit operations

func (s *sqlStore) FindCommitLink(ctx context.Context, id string) (*cvc.CommitLink, error) {
	var row commitRow
	found, err := get(ctx, s.db, &row,
		"SELECT id, content_item_type, content_item_id, parent_id FROM commits WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("finding commit link: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &cvc.CommitLink{ID: row.ID, ContentItem: row.item(), ParentID: row.ParentID.String}, nil
}

func (s *sqlStore) FindCommitByID(ctx context.Context, id string) (*cvc.Commit, error) {
	var row commitRow
	found, err := get(ctx, s.db, &row, "SELECT "+commitColumns+" FROM commits WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("finding commit by id: %w", err)
	}
	if !found {
		return nil, nil
	}
	return row.commit(), nil
}

func (s *sqlStore) FindRootCommit(ctx context.Context, item cvc.ContentItem) (*cvc.Commit, error) {
	return s.findRootCommit(ctx, s.db, item)
}

func (s *sqlStore) findRootCommit(ctx context.Context, q sqlx.ExtContext, item cvc.ContentItem) (*cvc.Commit, error) {
	var row commitRow
	found, err := get(ctx, q, &row,
		"SELECT "+commitColumns+" FROM commits WHERE content_item_type = ? AND content_item_id = ? AND parent_id IS NULL",
		item.Type, item.ID)
	if err != nil {
		return nil, fmt.Errorf("finding root commit: %w", err)
	}
	if !found {
		return nil, nil
	}
	return row.commit(), nil
}

func (s *sqlStore) insertCommit(ctx context.Context, q sqlx.ExtContext, c *cvc.Commit) error {
	_, err := sqlx.NamedExecContext(ctx, q,
		`INSERT INTO commits (`+commitColumns+`)
		 VALUES (:id, :content_item_type, :content_item_id, :parent_id, :payload, :message, :author_id, :created_at)`,
		newCommitRow(c))
	if err != nil {
		if s.dialect.isUniqueViolation(err) && c.ParentID == "" {
			return cvc.WrapError(cvc.ErrInvalidParent, err, "%s already has a root commit", c.ContentItem)
		}
		return fmt.Errorf("inserting commit: %w", err)
	}
	return nil
}

// Branch operations

func (s *sqlStore) FindBranchByID(ctx context.Context, id string) (*cvc.Branch, error) {
	return s.findBranchByID(ctx, s.db, id)
}

func (s *sqlStore) findBranchByID(ctx context.Context, q sqlx.ExtContext, id string) (*cvc.Branch, error) {
	var row branchRow
	found, err := get(ctx, q, &row, "SELECT "+branchColumns+" FROM branches WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("finding branch by id: %w", err)
	}
	if !found {
		return nil, nil
	}
	return row.branch(), nil
}

func (s *sqlStore) FindActiveBranchByName(ctx context.Context, item cvc.ContentItem, name string) (*cvc.Branch, error) {
	var row branchRow
	found, err := get(ctx, s.db, &row,
		"SELECT "+branchColumns+" FROM branches WHERE content_item_type = ? AND content_item_id = ? AND name = ? AND status = 'active'",
		item.Type, item.ID, name)
	if err != nil {
		return nil, fmt.Errorf("finding branch by name: %w", err)
	}
	if !found {
		return nil, nil
	}
	return row.branch(), nil
}

func (s *sqlStore) ListBranches(ctx context.Context, item cvc.ContentItem, includeDeleted bool) ([]*cvc.Branch, error) {
	query := "SELECT " + branchColumns + " FROM branches WHERE content_item_type = ? AND content_item_id = ?"
	if !includeDeleted {
		query += " AND status = 'active'"
	}
	query += " ORDER BY created_at, id"

	var rows []branchRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), item.Type, item.ID); err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}

	branches := make([]*cvc.Branch, 0, len(rows))
	for _, row := range rows {
		branches = append(branches, row.branch())
	}
	return branches, nil
}

func (s *sqlStore) insertBranch(ctx context.Context, q sqlx.ExtContext, b *cvc.Branch) error {
	_, err := sqlx.NamedExecContext(ctx, q,
		`INSERT INTO branches (`+branchColumns+`)
		 VALUES (:id, :content_item_type, :content_item_id, :name, :branch_type, :head_commit_id,
		         :source_commit_id, :status, :deleted_at, :created_at)`,
		newBranchRow(b))
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return cvc.WrapError(cvc.ErrNameTaken, err, "branch %q already exists on %s", b.Name, b.ContentItem)
		}
		return fmt.Errorf("inserting branch: %w", err)
	}
	return nil
}

func (s *sqlStore) CreateMainBranch(ctx context.Context, branch *cvc.Branch, root *cvc.Commit) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.findRootCommit(ctx, tx, branch.ContentItem)
	if err != nil {
		return err
	}
	if existing == nil {
		if root.ContentItem != branch.ContentItem || root.ParentID != "" {
			return cvc.NewError(cvc.ErrInvalidParent, "root commit %s does not start %s", root.ID, branch.ContentItem)
		}
		if err := s.insertCommit(ctx, tx, root); err != nil {
			return err
		}
		existing = root
	}

	branch.HeadID = existing.ID
	branch.SourceID = ""
	if err := s.insertBranch(ctx, tx, branch); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *sqlStore) InsertBranch(ctx context.Context, branch *cvc.Branch) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range []string{branch.HeadID, branch.SourceID} {
		if id == "" {
			continue
		}
		var row commitRow
		found, err := get(ctx, tx, &row,
			"SELECT content_item_type, content_item_id FROM commits WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("finding branch commit: %w", err)
		}
		if !found {
			return cvc.NewError(cvc.ErrCommitNotFound, "commit %s", id)
		}
		if row.item() != branch.ContentItem {
			return cvc.NewError(cvc.ErrInvalidParent, "commit %s does not belong to %s", id, branch.ContentItem)
		}
	}

	if err := s.insertBranch(ctx, tx, branch); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *sqlStore) AdvanceBranchHead(ctx context.Context, branchID, expectedHeadID string, commit *cvc.Commit) error {
	if commit.ParentID != expectedHeadID || expectedHeadID == "" {
		return cvc.NewError(cvc.ErrInvalidParent, "commit %s must have parent %s", commit.ID, expectedHeadID)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var parent commitRow
	found, err := get(ctx, tx, &parent,
		"SELECT content_item_type, content_item_id, created_at FROM commits WHERE id = ?", commit.ParentID)
	if err != nil {
		return fmt.Errorf("finding parent commit: %w", err)
	}
	if !found {
		return cvc.NewError(cvc.ErrInvalidParent, "parent commit %s does not exist", commit.ParentID)
	}
	if parent.item() != commit.ContentItem {
		return cvc.NewError(cvc.ErrInvalidParent, "parent %s belongs to %s, not %s", commit.ParentID, parent.item(), commit.ContentItem)
	}
	if commit.CreatedAt.Before(parent.CreatedAt) {
		commit.CreatedAt = parent.CreatedAt.UTC()
	}

	if err := s.insertCommit(ctx, tx, commit); err != nil {
		return err
	}

	res, err := tx.ExecContext(ctx, tx.Rebind(
		"UPDATE branches SET head_commit_id = ? WHERE id = ? AND head_commit_id = ? AND status = 'active' AND content_item_type = ? AND content_item_id = ?"),
		commit.ID, branchID, expectedHeadID, commit.ContentItem.Type, commit.ContentItem.ID)
	if err != nil {
		return fmt.Errorf("advancing branch head: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advancing branch head: %w", err)
	}
	if n == 0 {
		return s.explainMissedBranchUpdate(ctx, tx, branchID, cvc.BranchStatusActive)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// explainMissedBranchUpdate turns a guarded UPDATE that matched no rows into
// the error describing why.
func (s *sqlStore) explainMissedBranchUpdate(ctx context.Context, q sqlx.ExtContext, branchID string, wantStatus cvc.BranchStatus) error {
	b, err := s.findBranchByID(ctx, q, branchID)
	if err != nil {
		return fmt.Errorf("re-reading branch: %w", err)
	}
	switch {
	case b == nil:
		return cvc.NewError(cvc.ErrBranchNotFound, "branch %s", branchID)
	case b.Status != wantStatus && wantStatus == cvc.BranchStatusActive:
		return cvc.NewError(cvc.ErrBranchNotActive, "branch %s is %s", b.ID, b.Status)
	case b.Status != wantStatus:
		return cvc.NewError(cvc.ErrBranchNotDeleted, "branch %s is %s", b.ID, b.Status)
	default:
		return cvc.NewError(cvc.ErrHeadMoved, "branch %s head moved to %s", b.ID, b.HeadID)
	}
}

func (s *sqlStore) SetBranchStatus(ctx context.Context, branchID string, from, to cvc.BranchStatus, deletedAt *time.Time) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, tx.Rebind(
		"UPDATE branches SET status = ?, deleted_at = ? WHERE id = ? AND status = ?"),
		string(to), nullTime(deletedAt), branchID, string(from))
	if err != nil {
		if s.dialect.isUniqueViolation(err) {
			return cvc.WrapError(cvc.ErrNameTaken, err, "branch %s name is in use", branchID)
		}
		return fmt.Errorf("updating branch status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating branch status: %w", err)
	}
	if n == 0 {
		return s.explainMissedBranchUpdate(ctx, tx, branchID, from)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Operation journal

func (s *sqlStore) CreateOperation(ctx context.Context, operation, parameters string, startedAt time.Time) (*cvc.Operation, error) {
	op := &cvc.Operation{
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  startedAt.UTC(),
		Status:     "running",
	}
	err := s.db.GetContext(ctx, &op.ID, s.db.Rebind(
		"INSERT INTO operations (operation, parameters, started_at, status) VALUES (?, ?, ?, ?) RETURNING id"),
		op.Operation, op.Parameters, op.StartedAt, op.Status)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return op, nil
}

func (s *sqlStore) FinishOperation(ctx context.Context, id int64, status string, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		"UPDATE operations SET status = ?, finished_at = ? WHERE id = ?"), status, finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *sqlStore) ListOperations(ctx context.Context, limit int) ([]*cvc.Operation, error) {
	var rows []operationRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		"SELECT "+operationColumns+" FROM operations ORDER BY id DESC LIMIT ?"), limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}

	ops := make([]*cvc.Operation, 0, len(rows))
	for _, row := range rows {
		ops = append(ops, row.operation())
	}
	return ops, nil
}

func (s *sqlStore) MaxOperationID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.db.GetContext(ctx, &id, "SELECT COALESCE(MAX(id), 0) FROM operations"); err != nil {
		return 0, fmt.Errorf("finding max operation id: %w", err)
	}
	return id, nil
}
