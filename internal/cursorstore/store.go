// Package cursorstore persists subscription replay cursors in SQLite, so a
// restarted subscriber resumes after the last event it handled.
//
// Every save is also appended to a short per-key history, which lets a
// subscriber rewind to an earlier checkpoint.
package cursorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/dmitrijs2005/sfpubsub/internal/common"
	"github.com/dmitrijs2005/sfpubsub/internal/cursorstore/migrations"
	"github.com/dmitrijs2005/sfpubsub/internal/dbx"
	"github.com/dmitrijs2005/sfpubsub/internal/filex"
)

// HistoryLimit is the number of checkpoints kept per key.
const HistoryLimit = 20

// Cursor is a saved replay position.
type Cursor struct {
	Key       string
	ReplayID  []byte
	UpdatedAt time.Time
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// RunMigrations applies the embedded migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// Open opens (creating if needed) the SQLite database at dsn and migrates
// it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if _, err := filex.EnsureParentDir(dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	// one writer at a time; SQLite would report SQLITE_BUSY otherwise
	db.SetMaxOpenConns(1)

	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Load returns the saved replay id for key, or nil if there is none.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	var id []byte
	err := s.db.QueryRowContext(ctx, `SELECT replay_id FROM replay_cursors WHERE key = ?`, key).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cursor[%s]: %w", key, err)
	}
	return id, nil
}

// Save stores replayID as the cursor for key and records it in the history.
func (s *Store) Save(ctx context.Context, key string, replayID []byte) error {
	if len(replayID) == 0 {
		return fmt.Errorf("%w: empty replay id for cursor[%s]", common.ErrInvalidArgument, key)
	}
	now := s.now().UnixMilli()

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO replay_cursors (key, replay_id, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET replay_id = excluded.replay_id, updated_at = excluded.updated_at
		`, key, replayID, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO replay_cursor_history (key, replay_id, saved_at) VALUES (?, ?, ?)`,
			key, replayID, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			DELETE FROM replay_cursor_history
			WHERE key = ? AND id NOT IN (
				SELECT id FROM replay_cursor_history WHERE key = ? ORDER BY id DESC LIMIT ?
			)
		`, key, key, HistoryLimit)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save cursor[%s]: %w", key, err)
	}
	return nil
}

// History returns the saved checkpoints for key, newest first.
func (s *Store) History(ctx context.Context, key string) ([]Cursor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, replay_id, saved_at FROM replay_cursor_history WHERE key = ? ORDER BY id DESC`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query history[%s]: %w", key, err)
	}
	return scanCursors(rows)
}

// List returns the current cursor of every key, ordered by key.
func (s *Store) List(ctx context.Context) ([]Cursor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, replay_id, updated_at FROM replay_cursors ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	return scanCursors(rows)
}

// Delete forgets the cursor and history of key.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM replay_cursors WHERE key = ?`, key); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM replay_cursor_history WHERE key = ?`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete cursor[%s]: %w", key, err)
	}
	return nil
}

func scanCursors(rows *sql.Rows) ([]Cursor, error) {
	defer rows.Close()

	var out []Cursor
	for rows.Next() {
		var (
			c  Cursor
			ms int64
		)
		if err := rows.Scan(&c.Key, &c.ReplayID, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan cursor row: %w", err)
		}
		c.UpdatedAt = time.UnixMilli(ms)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cursor rows: %w", err)
	}
	return out, nil
}
