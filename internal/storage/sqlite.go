package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Golevka2001/awtrix-scripts/internal/task"
	logx "github.com/Golevka2001/awtrix-scripts/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadRunRecords(ctx context.Context) (RunRecords, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, started_at FROM run_records`)
	if err != nil {
		return nil, mapClosed(err)
	}
	defer rows.Close()

	out := RunRecords{}
	for rows.Next() {
		var name string
		var ns int64
		if err := rows.Scan(&name, &ns); err != nil {
			return nil, err
		}
		if ns > 0 {
			out[name] = time.Unix(0, ns)
		}
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveRunRecords(ctx context.Context, r RunRecords) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for name, t := range r {
			if t.IsZero() {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO run_records(name, started_at) VALUES(?,?)
				 ON CONFLICT(name) DO UPDATE SET started_at=excluded.started_at`,
				name, t.UnixNano(),
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) LoadEnabledRecords(ctx context.Context) (EnabledRecords, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, enabled FROM enabled_records`)
	if err != nil {
		return nil, mapClosed(err)
	}
	defer rows.Close()

	out := EnabledRecords{}
	for rows.Next() {
		var name string
		var enabled int
		if err := rows.Scan(&name, &enabled); err != nil {
			return nil, err
		}
		out[name] = enabled != 0
	}
	return out, rows.Err()
}

// SaveEnabledRecords replaces the whole snapshot; tasks absent from r are
// forgotten.
func (s *sqliteStore) SaveEnabledRecords(ctx context.Context, r EnabledRecords) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM enabled_records`); err != nil {
			return err
		}
		for name, enabled := range r {
			v := 0
			if enabled {
				v = 1
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO enabled_records(name, enabled) VALUES(?,?)`, name, v,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *sqliteStore) LoadCached(ctx context.Context, name string) (task.Payload, bool, error) {
	if !validName(name) {
		return nil, false, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM cached_results WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapClosed(err)
	}
	var p task.Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, false, fmt.Errorf("decode cached %s: %w", name, err)
	}
	if p == nil {
		return nil, false, nil
	}
	return p, true, nil
}

func (s *sqliteStore) SaveCached(ctx context.Context, name string, p task.Payload) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	raw, err := p.Encode()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cached_results(name, payload, updated_at) VALUES(?,?,?)
		 ON CONFLICT(name) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		name, raw, time.Now().UnixMilli(),
	)
	return mapClosed(err)
}

func (s *sqliteStore) DeleteCached(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cached_results WHERE name = ?`, name)
	return mapClosed(err)
}

func (s *sqliteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapClosed(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func mapClosed(err error) error {
	if err != nil && strings.Contains(err.Error(), "database is closed") {
		return ErrClosed
	}
	return err
}
