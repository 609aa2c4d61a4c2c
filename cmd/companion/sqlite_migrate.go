package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
)

type sqliteColumn struct {
	Name        string
	Type        string
	NotNull     bool
	DefaultText string
}

// migrateSQLite upgrades archives written by earlier builds in place: it adds
// the event_json column where missing, backfills NULLs, removes duplicate
// event ids and ensures the timestamp index exists.
func migrateSQLite(ctx context.Context, db *sql.DB) error {
	path := sqlitePath(ctx, db)
	userVersion, err := sqliteUserVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("sqlite: user_version: %w", err)
	}

	log.Printf("companion: sqlite: path=%s user_version=%d", path, userVersion)

	columns, err := sqliteTableInfo(ctx, db, "events")
	if err != nil {
		return fmt.Errorf("sqlite: describe events: %w", err)
	}
	if len(columns) == 0 {
		log.Printf("companion: sqlite: events table missing; skipping migration")
		return nil
	}

	if _, ok := columns["event_json"]; !ok {
		if _, err := db.ExecContext(ctx, `ALTER TABLE events ADD COLUMN event_json TEXT NOT NULL DEFAULT '{}';`); err != nil {
			return fmt.Errorf("sqlite: ensure event_json column: %w", err)
		}
		log.Printf("companion: sqlite: added event_json column to events")
	}

	if res, execErr := db.ExecContext(ctx, `UPDATE events SET event_json='{}' WHERE event_json IS NULL;`); execErr != nil {
		return fmt.Errorf("sqlite: normalize event_json: %w", execErr)
	} else if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("companion: sqlite: normalized event_json nulls=%d", n)
	}

	dedupeSQL := `DELETE FROM events
WHERE TRIM(id) != ''
  AND rowid NOT IN (
    SELECT MIN(rowid)
    FROM events
    WHERE TRIM(id) != ''
    GROUP BY id
);`
	if res, execErr := db.ExecContext(ctx, dedupeSQL); execErr != nil {
		return fmt.Errorf("sqlite: dedupe event ids: %w", execErr)
	} else if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("companion: sqlite: removed %d duplicate events", n)
	}

	if _, err := db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS events_uq_id ON events(id);`); err != nil {
		return fmt.Errorf("sqlite: ensure events_uq_id: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS events_ts ON events(ts);`); err != nil {
		return fmt.Errorf("sqlite: ensure events_ts: %w", err)
	}

	columns, err = sqliteTableInfo(ctx, db, "events")
	if err != nil {
		return fmt.Errorf("sqlite: refresh events schema: %w", err)
	}

	_, hasEventJSON := columns["event_json"]

	hasIndex, err := sqliteHasIndex(ctx, db, "events", "events_ts")
	if err != nil {
		return fmt.Errorf("sqlite: inspect indices: %w", err)
	}

	var nullCount int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE event_json IS NULL;`).Scan(&nullCount); err != nil {
		return fmt.Errorf("sqlite: count null event_json: %w", err)
	}

	log.Printf("companion: sqlite: event_json_column=%v events_ts=%v event_json_nulls=%d",
		hasEventJSON,
		hasIndex,
		nullCount,
	)

	return nil
}

func sqlitePath(ctx context.Context, db *sql.DB) string {
	rows, err := db.QueryContext(ctx, `PRAGMA database_list;`)
	if err != nil {
		return "(unknown)"
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return "(unknown)"
		}
		if strings.EqualFold(strings.TrimSpace(name), "main") {
			if file.Valid && strings.TrimSpace(file.String) != "" {
				return file.String
			}
			return "(memory)"
		}
	}
	if err := rows.Err(); err != nil {
		return "(unknown)"
	}
	return "(unknown)"
}

func sqliteUserVersion(ctx context.Context, db *sql.DB) (int, error) {
	var userVersion int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&userVersion); err != nil {
		return 0, err
	}
	return userVersion, nil
}

func sqliteTableInfo(ctx context.Context, db *sql.DB, table string) (map[string]sqliteColumn, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s);`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]sqliteColumn)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		lower := strings.ToLower(strings.TrimSpace(name))
		out[lower] = sqliteColumn{
			Name:        name,
			Type:        strings.TrimSpace(colType),
			NotNull:     notNull == 1,
			DefaultText: strings.TrimSpace(defaultVal.String),
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func sqliteHasIndex(ctx context.Context, db *sql.DB, table, index string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_list('%s');`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return false, err
		}
		if strings.EqualFold(strings.TrimSpace(name), index) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return false, nil
}
