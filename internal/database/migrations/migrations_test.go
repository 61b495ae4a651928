package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	tables := []string{"profiles", "sections", "resources", "activities", "views", "site_settings", "schema_migrations"}
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

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}
	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)

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

func TestMigrateDown_DropsTables(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}
	if err := MigrateDown(db); err != nil {
		t.Fatalf("MigrateDown() failed: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='sections'").Scan(&count); err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	if count != 0 {
		t.Errorf("sections table still present after MigrateDown")
	}
}

func TestForeignKeyConstraints(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// A resource pointing at a missing section must be rejected.
	_, err := db.Exec(`
		INSERT INTO resources (id, section_id, type, title, created_at, updated_at)
		VALUES ('res-1', 'missing-section', 'docs', 'Guide', datetime('now'), datetime('now'))
	`)
	if err == nil {
		t.Error("Expected foreign key constraint violation, but insert succeeded")
	}
}

func TestSchema_DeletingSectionCascades(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	stmts := []string{
		"INSERT INTO sections (section_id, name, created_at, updated_at) VALUES ('ops', 'Ops', datetime('now'), datetime('now'))",
		"INSERT INTO resources (id, section_id, type, title, created_at, updated_at) VALUES ('r1', 'ops', 'docs', 'Guide', datetime('now'), datetime('now'))",
		"DELETE FROM sections WHERE section_id = 'ops'",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Exec(%q) error = %v", stmt, err)
		}
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM resources").Scan(&count); err != nil {
		t.Fatalf("counting resources: %v", err)
	}
	if count != 0 {
		t.Errorf("resources after section delete = %d, want 0", count)
	}
}

func TestSchema_ViewsUniquePerUserAndResource(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec("INSERT INTO views (id, user_id, resource_id, count, last_viewed_at) VALUES ('v1', 'u1', 'r1', 1, datetime('now'))")
	if err != nil {
		t.Fatalf("Failed to insert first view: %v", err)
	}

	_, err = db.Exec("INSERT INTO views (id, user_id, resource_id, count, last_viewed_at) VALUES ('v2', 'u1', 'r1', 1, datetime('now'))")
	if err == nil {
		t.Error("Expected unique constraint violation for duplicate (user_id, resource_id), but insert succeeded")
	}
}

func TestSchema_ProfileRoleChecked(t *testing.T) {
	db := openTestDB(t)

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	_, err := db.Exec("INSERT INTO profiles (id, username, role, created_at) VALUES ('u1', 'root', 'superuser', datetime('now'))")
	if err == nil {
		t.Error("Expected check constraint violation for unknown role, but insert succeeded")
	}
}

// openTestDB opens an in-memory SQLite database for testing.
// A single connection keeps every statement on the same in-memory database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	return db
}
