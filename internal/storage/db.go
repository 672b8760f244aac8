// Package storage persists pattern history in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/dejo1307/resonance/internal/catalog"
)

const schema = `
CREATE TABLE IF NOT EXISTS pattern_history (
	pattern_type          TEXT PRIMARY KEY,
	detection_count       INTEGER NOT NULL DEFAULT 0,
	fix_success_rate      REAL    NOT NULL DEFAULT 0,
	average_cascade_score REAL    NOT NULL DEFAULT 0,
	last_updated          TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS pattern_files (
	pattern_type TEXT NOT NULL REFERENCES pattern_history(pattern_type) ON DELETE CASCADE,
	file_path    TEXT NOT NULL,
	PRIMARY KEY (pattern_type, file_path)
);
`

// HistoryDB is a SQLite-backed catalog.HistoryStore.
type HistoryDB struct {
	conn   *sql.DB
	logger *zap.Logger
	path   string
}

var _ catalog.HistoryStore = (*HistoryDB)(nil)

// Open opens or creates the history database at path.
func Open(path string, logger *zap.Logger) (*HistoryDB, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; WAL lets readers proceed alongside it.
	conn.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Debug("history database open", zap.String("path", path))
	return &HistoryDB{conn: conn, logger: logger.Named("storage"), path: path}, nil
}

// Close closes the database connection.
func (db *HistoryDB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Path returns the database file path.
func (db *HistoryDB) Path() string { return db.path }

// withTx runs fn in a transaction, rolling back when it fails.
func (db *HistoryDB) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("failed to rollback transaction", zap.Error(err), zap.NamedError("rollback_error", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadHistory reads every pattern's history.
func (db *HistoryDB) LoadHistory(ctx context.Context) (map[string]catalog.PatternHistory, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT pattern_type, detection_count, fix_success_rate, average_cascade_score, last_updated
		FROM pattern_history`)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	out := make(map[string]catalog.PatternHistory)
	for rows.Next() {
		var (
			patternType string
			h           catalog.PatternHistory
			updated     string
		)
		if err := rows.Scan(&patternType, &h.DetectionCount, &h.FixSuccessRate, &h.AverageCascadeScore, &updated); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			h.LastUpdated = t
		}
		out[patternType] = h
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	files, err := db.conn.QueryContext(ctx, `
		SELECT pattern_type, file_path FROM pattern_files ORDER BY pattern_type, file_path`)
	if err != nil {
		return nil, fmt.Errorf("querying affected files: %w", err)
	}
	defer files.Close()
	for files.Next() {
		var patternType, path string
		if err := files.Scan(&patternType, &path); err != nil {
			return nil, fmt.Errorf("scanning affected files: %w", err)
		}
		if h, ok := out[patternType]; ok {
			h.AffectedFiles = append(h.AffectedFiles, path)
			out[patternType] = h
		}
	}
	return out, files.Err()
}

// SaveHistory upserts every pattern's history in one transaction. Patterns
// absent from history are left untouched.
func (db *HistoryDB) SaveHistory(ctx context.Context, history map[string]catalog.PatternHistory) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		for patternType, h := range history {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO pattern_history (pattern_type, detection_count, fix_success_rate, average_cascade_score, last_updated)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(pattern_type) DO UPDATE SET
					detection_count = excluded.detection_count,
					fix_success_rate = excluded.fix_success_rate,
					average_cascade_score = excluded.average_cascade_score,
					last_updated = excluded.last_updated`,
				patternType, h.DetectionCount, h.FixSuccessRate, h.AverageCascadeScore,
				h.LastUpdated.UTC().Format(time.RFC3339Nano),
			); err != nil {
				return fmt.Errorf("saving history of %s: %w", patternType, err)
			}

			if _, err := tx.ExecContext(ctx, `DELETE FROM pattern_files WHERE pattern_type = ?`, patternType); err != nil {
				return fmt.Errorf("clearing files of %s: %w", patternType, err)
			}
			for _, f := range h.AffectedFiles {
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO pattern_files (pattern_type, file_path) VALUES (?, ?)`,
					patternType, f,
				); err != nil {
					return fmt.Errorf("saving file of %s: %w", patternType, err)
				}
			}
		}
		return nil
	})
}
