package store

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

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &sqliteStore{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
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

func (s *sqliteStore) Read(ctx context.Context, userID string) ([]reminder.Reminder, bool, error) {
	set, _, exists, err := s.readRow(ctx, userID)
	return set, exists, err
}

func (s *sqliteStore) readRow(ctx context.Context, userID string) ([]reminder.Reminder, int64, bool, error) {
	var (
		raw string
		ver int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT reminders, version FROM reminder_sets WHERE user_id = ?`, userID,
	).Scan(&raw, &ver)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	var set []reminder.Reminder
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		return nil, 0, false, fmt.Errorf("decode reminder set for %s: %w", userID, err)
	}
	return set, ver, true, nil
}

func (s *sqliteStore) RunTransaction(ctx context.Context, userID string, fn TxFunc) error {
	for attempt := 0; attempt < txMaxAttempts; attempt++ {
		cur, ver, exists, err := s.readRow(ctx, userID)
		if err != nil {
			return err
		}

		next, err := fn(cur, exists)
		if err != nil {
			return err
		}

		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		now := time.Now().UTC().Format(time.RFC3339Nano)

		var res sql.Result
		if exists {
			res, err = s.db.ExecContext(ctx,
				`UPDATE reminder_sets SET reminders = ?, version = version + 1, updated_at = ?
				 WHERE user_id = ? AND version = ?`,
				string(raw), now, userID, ver,
			)
		} else {
			res, err = s.db.ExecContext(ctx,
				`INSERT INTO reminder_sets(user_id, reminders, version, updated_at)
				 VALUES(?,?,1,?) ON CONFLICT(user_id) DO NOTHING`,
				userID, string(raw), now,
			)
		}
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 1 {
			return nil
		}

		// Version moved (or the row appeared) under us; retry.
		s.log.Debug("transaction conflict, retrying",
			logx.String("user", userID), logx.Int("attempt", attempt+1))
		if err := sleepCtx(ctx, txBackoff(attempt)); err != nil {
			return err
		}
	}
	return ErrConflict
}

func (s *sqliteStore) Users(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM reminder_sets ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
