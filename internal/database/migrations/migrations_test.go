package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{"commits", "branches", "operations", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	err := CheckDBMigrationStatus(db)
	if err == nil {
		t.Fatal("CheckDBMigrationStatus() expected error for fresh database, got nil")
	}
	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckDBMigrationStatus() error = %q, want error about needing migration", err.Error())
	}
}

func TestCheckDBMigrationStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}
	if err := MigrateUp(db); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}
	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
	}
}

func TestForeignKeyConstraints(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`
		INSERT INTO commits (id, content_item_type, content_item_id, parent_id, payload, message, author_id, created_at)
		VALUES ('c1', 'page', 'p1', 'missing', x'', 'm', 'a', datetime('now'))
	`)
	if err == nil {
		t.Error("Expected foreign key constraint violation, but insert succeeded")
	}
}

func TestSchema_CommitsAreImmutable(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec(`
		INSERT INTO commits (id, content_item_type, content_item_id, parent_id, payload, message, author_id, created_at)
		VALUES ('c1', 'page', 'p1', NULL, x'', 'Initial version', 'a', datetime('now'))
	`)
	if err != nil {
		t.Fatalf("Failed to insert commit: %v", err)
	}

	if _, err := db.Exec("UPDATE commits SET message = 'changed' WHERE id = 'c1'"); err == nil {
		t.Error("Expected UPDATE on commits to be blocked, but it succeeded")
	}
	if _, err := db.Exec("DELETE FROM commits WHERE id = 'c1'"); err == nil {
		t.Error("Expected DELETE on commits to be blocked, but it succeeded")
	}
}

func TestSchema_OneRootPerItem(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	insert := `INSERT INTO commits (id, content_item_type, content_item_id, parent_id, payload, message, author_id, created_at)
		VALUES (?, 'page', ?, NULL, x'', 'Initial version', 'a', datetime('now'))`
	if _, err := db.Exec(insert, "r1", "p1"); err != nil {
		t.Fatalf("Failed to insert first root: %v", err)
	}
	if _, err := db.Exec(insert, "r2", "p2"); err != nil {
		t.Fatalf("Failed to insert root of another item: %v", err)
	}
	if _, err := db.Exec(insert, "r3", "p1"); err == nil {
		t.Error("Expected unique violation for a second root, but insert succeeded")
	}
}

func TestSchema_ActiveBranchNameUnique(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO commits (id, content_item_type, content_item_id, parent_id, payload, message, author_id, created_at)
		VALUES ('r1', 'page', 'p1', NULL, x'', 'Initial version', 'a', datetime('now'))`); err != nil {
		t.Fatalf("Failed to insert root: %v", err)
	}

	insert := `INSERT INTO branches (id, content_item_type, content_item_id, name, branch_type, head_commit_id, source_commit_id, status, created_at)
		VALUES (?, 'page', 'p1', 'feature/x', 'feature', 'r1', 'r1', ?, datetime('now'))`
	if _, err := db.Exec(insert, "b1", "deleted"); err != nil {
		t.Fatalf("Failed to insert deleted branch: %v", err)
	}
	if _, err := db.Exec(insert, "b2", "active"); err != nil {
		t.Fatalf("Failed to insert active branch with a deleted namesake: %v", err)
	}
	if _, err := db.Exec(insert, "b3", "active"); err == nil {
		t.Error("Expected unique violation for a second active branch, but insert succeeded")
	}
}

func TestPgx5URL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"postgres://u:p@localhost:5432/cvc?sslmode=disable", "pgx5://u:p@localhost:5432/cvc?sslmode=disable"},
		{"postgresql://localhost/cvc", "pgx5://localhost/cvc"},
		{"pgx5://localhost/cvc", "pgx5://localhost/cvc"},
	}
	for _, tt := range tests {
		if got := pgx5URL(tt.in); got != tt.want {
			t.Errorf("pgx5URL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every pooled connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	return db
}
