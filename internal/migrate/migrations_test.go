package migrate

import (
	"testing"

	"quorumline/internal/db"
)

func TestMigrateRecordsLedger(t *testing.T) {
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	var rows int
	if err := conn.QueryRow(`SELECT count(*) FROM schema_migrations`).Scan(&rows); err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if rows == 0 {
		t.Fatal("expected at least one ledger row")
	}
	var name string
	if err := conn.QueryRow(`SELECT name FROM schema_migrations WHERE version = 1`).Scan(&name); err != nil {
		t.Fatalf("read version 1: %v", err)
	}
	if name != "0001_init.sql" {
		t.Fatalf("unexpected migration name %q", name)
	}

	// a second run is a no-op
	if err := Migrate(conn); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	var again int
	if err := conn.QueryRow(`SELECT count(*) FROM schema_migrations`).Scan(&again); err != nil {
		t.Fatalf("re-read ledger: %v", err)
	}
	if again != rows {
		t.Fatalf("re-run changed the ledger: %d != %d", again, rows)
	}
}
