package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"cvc-go/internal/cvc"
)

// newPostgresTestDB connects to CVC_TEST_DATABASE_URL. Tests share the
// database, so each one works on its own content item.
func newPostgresTestDB(t *testing.T) *PostgresDatabase {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	url := os.Getenv("CVC_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CVC_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := NewPostgresDatabase(ctx, url)
	if err != nil {
		t.Fatalf("NewPostgresDatabase() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	if err := db.CheckMigrations(); err != nil {
		t.Fatalf("CheckMigrations() error = %v", err)
	}
	return db
}

func uniqueItem() cvc.ContentItem {
	return cvc.ContentItem{Type: "page", ID: uuid.NewString()}
}

func TestPostgresDatabase_BranchLifecycle(t *testing.T) {
	db := newPostgresTestDB(t)
	ctx := context.Background()
	item := uniqueItem()

	root := &cvc.Commit{ID: uuid.NewString(), ContentItem: item, Payload: []byte{}, Message: "Initial version", CreatedAt: testTime}
	main := &cvc.Branch{
		ID:          uuid.NewString(),
		ContentItem: item,
		Name:        cvc.MainBranchName,
		Type:        cvc.BranchTypeMain,
		Status:      cvc.BranchStatusActive,
		CreatedAt:   testTime,
	}
	if err := db.CreateMainBranch(ctx, main, root); err != nil {
		t.Fatalf("CreateMainBranch() error = %v", err)
	}

	dup := &cvc.Branch{
		ID:          uuid.NewString(),
		ContentItem: item,
		Name:        cvc.MainBranchName,
		Type:        cvc.BranchTypeMain,
		Status:      cvc.BranchStatusActive,
		CreatedAt:   testTime,
	}
	err := db.CreateMainBranch(ctx, dup, &cvc.Commit{ID: uuid.NewString(), ContentItem: item, CreatedAt: testTime})
	if !errors.Is(err, cvc.ErrNameTaken) {
		t.Errorf("second CreateMainBranch() error = %v, want ErrNameTaken", err)
	}

	child := childOf(root.ID, uuid.NewString(), item, testTime.Add(time.Minute))
	if err := db.AdvanceBranchHead(ctx, main.ID, root.ID, child); err != nil {
		t.Fatalf("AdvanceBranchHead() error = %v", err)
	}

	stale := childOf(root.ID, uuid.NewString(), item, testTime.Add(2*time.Minute))
	if err := db.AdvanceBranchHead(ctx, main.ID, root.ID, stale); !errors.Is(err, cvc.ErrHeadMoved) {
		t.Errorf("stale AdvanceBranchHead() error = %v, want ErrHeadMoved", err)
	}

	got, err := db.FindBranchByID(ctx, main.ID)
	if err != nil {
		t.Fatalf("FindBranchByID() error = %v", err)
	}
	if got.HeadID != child.ID {
		t.Errorf("HeadID = %s, want %s", got.HeadID, child.ID)
	}

	link, err := db.FindCommitLink(ctx, child.ID)
	if err != nil {
		t.Fatalf("FindCommitLink() error = %v", err)
	}
	if link.ParentID != root.ID {
		t.Errorf("ParentID = %s, want %s", link.ParentID, root.ID)
	}
}

func TestPostgresDatabase_Operations(t *testing.T) {
	db := newPostgresTestDB(t)
	ctx := context.Background()

	op, err := db.CreateOperation(ctx, "CheckoutNewVersion", "item=page/x", testTime)
	if err != nil {
		t.Fatalf("CreateOperation() error = %v", err)
	}
	if err := db.FinishOperation(ctx, op.ID, "success", testTime.Add(time.Second)); err != nil {
		t.Fatalf("FinishOperation() error = %v", err)
	}

	maxID, err := db.MaxOperationID(ctx)
	if err != nil {
		t.Fatalf("MaxOperationID() error = %v", err)
	}
	if maxID < op.ID {
		t.Errorf("MaxOperationID() = %d, want >= %d", maxID, op.ID)
	}

	if err := db.BackupTo(t.TempDir() + "/x.db"); !errors.Is(err, cvc.ErrSnapshotUnsupported) {
		t.Errorf("BackupTo() error = %v, want ErrSnapshotUnsupported", err)
	}
}
