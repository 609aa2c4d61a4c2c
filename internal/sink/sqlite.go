package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/bili-companion/internal/core"
	"github.com/you/bili-companion/internal/httpapi"
)

const schema = `CREATE TABLE IF NOT EXISTS events (
  id TEXT NOT NULL PRIMARY KEY,
  ts TEXT NOT NULL,
  kind TEXT NOT NULL,
  username TEXT NOT NULL,
  event_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS events_ts ON events (ts);`

type SQLiteSink struct {
	db *sql.DB
}

const defaultListLimit = 100

func OpenSQLite(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	ApplySQLitePragmas(context.Background(), db)
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Close() error { return s.db.Close() }

// RawDB exposes the underlying handle for startup migrations.
func (s *SQLiteSink) RawDB() *sql.DB { return s.db }

// Write archives one event. Event ids are deterministic, so replaying a log
// file after a restart dedupes on the primary key instead of double-inserting.
func (s *SQLiteSink) Write(ev *core.ChatEvent) error {
	if ev == nil {
		return errors.New("nil event")
	}
	blob, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	const q = `INSERT INTO events (id, ts, kind, username, event_json)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING;`
	ts := ev.Ts.UTC().Format(time.RFC3339Nano)
	_, err = s.db.Exec(q, ev.ID, ts, string(ev.Kind), ev.Username, string(blob))
	return errors.Wrap(err, "insert event")
}

func (s *SQLiteSink) Ping() error {
	return s.db.Ping()
}

func (s *SQLiteSink) String() string {
	return fmt.Sprintf("SQLiteSink{%p}", s.db)
}

func (s *SQLiteSink) CountEvents(ctx context.Context, filters httpapi.Filters) (int64, error) {
	query, args := buildEventQuery(filters, true)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count")
	}
	return n, nil
}

func (s *SQLiteSink) ListEvents(ctx context.Context, filters httpapi.Filters) ([]*core.ChatEvent, error) {
	query, args := buildEventQuery(filters, false)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	defer rows.Close()

	var out []*core.ChatEvent
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		var ev core.ChatEvent
		if err := json.Unmarshal([]byte(blob), &ev); err != nil {
			return nil, errors.Wrap(err, "decode event")
		}
		out = append(out, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate events")
	}
	return out, nil
}

func buildEventQuery(filters httpapi.Filters, count bool) (string, []any) {
	var builder strings.Builder
	if count {
		builder.WriteString("SELECT COUNT(*) FROM events")
	} else {
		builder.WriteString("SELECT event_json FROM events")
	}

	var (
		conditions []string
		args       []any
	)

	if len(filters.Kinds) > 0 {
		placeholders := make([]string, 0, len(filters.Kinds))
		for _, k := range filters.Kinds {
			placeholders = append(placeholders, "?")
			args = append(args, k)
		}
		conditions = append(conditions, fmt.Sprintf("kind IN (%s)", strings.Join(placeholders, ",")))
	}

	if len(filters.Usernames) > 0 {
		ors := make([]string, 0, len(filters.Usernames))
		for _, u := range filters.Usernames {
			ors = append(ors, "LOWER(username) LIKE '%' || ? || '%'")
			args = append(args, u)
		}
		conditions = append(conditions, fmt.Sprintf("(%s)", strings.Join(ors, " OR ")))
	}

	if filters.Since != nil {
		conditions = append(conditions, "ts >= ?")
		args = append(args, filters.Since.UTC().Format(time.RFC3339Nano))
	}

	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}

	if !count {
		order := "DESC"
		if filters.Order == httpapi.OrderAsc {
			order = "ASC"
		}
		builder.WriteString(" ORDER BY ts ")
		builder.WriteString(order)
		limit := filters.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		builder.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	builder.WriteString(";")
	return builder.String(), args
}
