package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/glynnbird/qrate/pkg/logx"
)

//go:embed migrations.sql
var migrations string

// pruneEvery is how many inserts pass between trims to Keep rows.
const pruneEvery = 100

type sqliteStore struct {
	db   *sql.DB
	log  logx.Logger
	keep int

	inserts atomic.Uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("history.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer at a time suits SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log, keep: cfg.Keep}, nil
}

func (s *sqliteStore) Append(ctx context.Context, r Record) error {
	if s.db == nil {
		return ErrClosed
	}
	r = withID(r)
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	ok := 0
	if r.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(id, run_id, queue, task_id, source, command, ok, err, exit_code, started, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.RunID, r.Queue, int64(r.TaskID), r.Source, r.Command, ok, nullStr(r.Error),
		r.ExitCode, r.Started.UTC().Format(time.RFC3339Nano), r.Duration.Milliseconds(),
	)
	if err == nil && s.inserts.Add(1)%pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("history prune failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) Recent(ctx context.Context, n int) ([]Record, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if n <= 0 || n > s.keep {
		n = s.keep
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, queue, task_id, source, command, ok, err, exit_code, started, took_ms
		 FROM history ORDER BY seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r       Record
			taskID  int64
			ok      int
			errStr  sql.NullString
			started string
			tookMS  int64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Queue, &taskID, &r.Source, &r.Command, &ok, &errStr, &r.ExitCode, &started, &tookMS); err != nil {
			return nil, err
		}
		r.TaskID = uint64(taskID)
		r.OK = ok == 1
		r.Error = errStr.String
		t, err := time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, fmt.Errorf("history: record %s: bad started %q: %w", r.ID, started, err)
		}
		r.Started = t
		r.Duration = time.Duration(tookMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM history WHERE seq <= (SELECT seq FROM history ORDER BY seq DESC LIMIT 1 OFFSET ?)`, s.keep)
	return err
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
