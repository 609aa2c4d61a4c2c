package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrateSQLite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	// legacy layout: no event_json column, no primary key on id
	schema := `CREATE TABLE events (
  id TEXT NOT NULL,
  ts TEXT NOT NULL,
  kind TEXT NOT NULL,
  username TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	seed := `INSERT INTO events (id, ts, kind, username)
VALUES
  ('ev-1', '2026-01-18T20:00:00Z', 'superchat', 'alice'),
  ('ev-1', '2026-01-18T20:00:00Z', 'superchat', 'alice'),
  ('ev-2', '2026-01-18T20:01:00Z', 'guard', 'bob');
`
	if _, err := db.Exec(seed); err != nil {
		t.Fatalf("seed rows: %v", err)
	}

	if err := migrateSQLite(context.Background(), db); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}

	cols, err := sqliteTableInfo(context.Background(), db, "events")
	if err != nil {
		t.Fatalf("inspect columns: %v", err)
	}
	eventJSON, ok := cols["event_json"]
	if !ok {
		t.Fatalf("expected event_json column to exist")
	}
	if !eventJSON.NotNull || eventJSON.DefaultText == "" {
		t.Fatalf("expected event_json column to be NOT NULL with default, got %+v", eventJSON)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM events WHERE id='ev-1';`).Scan(&count); err != nil {
		t.Fatalf("count duplicates: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 ev-1 row after dedupe, got %d", count)
	}

	var nulls int
	if err := db.QueryRow(`SELECT COUNT(*) FROM events WHERE event_json IS NULL;`).Scan(&nulls); err != nil {
		t.Fatalf("count nulls: %v", err)
	}
	if nulls != 0 {
		t.Fatalf("expected no NULL event_json rows, got %d", nulls)
	}

	if _, err := db.Exec(`INSERT INTO events (id, ts, kind, username, event_json)
VALUES ('ev-1', '2026-01-18T20:02:00Z', 'superchat', 'carol', '{}');`); err == nil {
		t.Fatalf("expected unique index to prevent duplicate insert")
	}

	hasTS, err := sqliteHasIndex(context.Background(), db, "events", "events_ts")
	if err != nil {
		t.Fatalf("inspect indices: %v", err)
	}
	if !hasTS {
		t.Fatalf("expected events_ts index to exist")
	}

	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected db file: %v", err)
	}
}
