// Package checkpoint persists context store snapshots to SQLite so a
// planning run can be restored after a restart. Only the store's
// Export/Import snapshot contract is consumed here.
package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"ctxengine/internal/entry"
	"ctxengine/internal/logging"
	"ctxengine/internal/store"
)

// Info describes one saved checkpoint.
type Info struct {
	ID         int64
	SavedAt    time.Time
	EntryCount int
}

// CheckpointStore is a SQLite-backed snapshot archive. A single connection is
// used; callers serialize access the same way they own the context store.
type CheckpointStore struct {
	db   *sql.DB
	path string
}

// Open initializes the checkpoint database at the given path, creating the
// directory and schema as needed.
func Open(path string) (*CheckpointStore, error) {
	timer := logging.StartTimer(logging.CategoryCheckpoint, "Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.Get(logging.CategoryCheckpoint).Warn("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.Get(logging.CategoryCheckpoint).Warn("failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.Get(logging.CategoryCheckpoint).Warn("failed to set synchronous=NORMAL: %v", err)
	}

	cs := &CheckpointStore{db: db, path: path}
	if err := cs.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Checkpoint("checkpoint store ready at %s", path)
	return cs, nil
}

func (cs *CheckpointStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		saved_at TEXT NOT NULL,
		entry_count INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS context_entries (
		checkpoint_id INTEGER NOT NULL,
		entry_id TEXT NOT NULL,
		record TEXT NOT NULL,
		PRIMARY KEY (checkpoint_id, entry_id)
	);
	CREATE INDEX IF NOT EXISTS idx_context_entries_checkpoint ON context_entries(checkpoint_id);
	`
	if _, err := cs.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create checkpoint schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (cs *CheckpointStore) Close() error {
	logging.Checkpoint("closing checkpoint store")
	return cs.db.Close()
}

// Save writes one snapshot atomically and returns the new checkpoint id.
func (cs *CheckpointStore) Save(snap store.Snapshot) (int64, error) {
	timer := logging.StartTimer(logging.CategoryCheckpoint, "Save")
	defer timer.Stop()

	tx, err := cs.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin checkpoint transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		"INSERT INTO checkpoints (saved_at, entry_count) VALUES (?, ?)",
		time.Now().UTC().Format(entry.TimeLayout), len(snap),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert checkpoint row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read checkpoint id: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO context_entries (checkpoint_id, entry_id, record) VALUES (?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("failed to prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for entryID, rec := range snap {
		blob, err := json.Marshal(rec)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal entry %s: %w", entryID, err)
		}
		if _, err := stmt.Exec(id, entryID, string(blob)); err != nil {
			return 0, fmt.Errorf("failed to insert entry %s: %w", entryID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit checkpoint: %w", err)
	}

	logging.Checkpoint("saved checkpoint %d with %d entries", id, len(snap))
	return id, nil
}

// Load returns the snapshot stored under a checkpoint id.
func (cs *CheckpointStore) Load(id int64) (store.Snapshot, error) {
	timer := logging.StartTimer(logging.CategoryCheckpoint, "Load")
	defer timer.Stop()

	var count int
	err := cs.db.QueryRow("SELECT entry_count FROM checkpoints WHERE id = ?", id).Scan(&count)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("checkpoint %d does not exist", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %d: %w", id, err)
	}

	rows, err := cs.db.Query("SELECT entry_id, record FROM context_entries WHERE checkpoint_id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoint %d entries: %w", id, err)
	}
	defer rows.Close()

	snap := make(store.Snapshot, count)
	for rows.Next() {
		var entryID, blob string
		if err := rows.Scan(&entryID, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint entry: %w", err)
		}
		var rec entry.Record
		if err := json.Unmarshal([]byte(blob), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry %s: %w", entryID, err)
		}
		snap[entryID] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checkpoint entries: %w", err)
	}

	logging.Checkpoint("loaded checkpoint %d with %d entries", id, len(snap))
	return snap, nil
}

// LoadLatest returns the most recent snapshot and its checkpoint id. A
// database with no checkpoints returns an empty snapshot and id 0.
func (cs *CheckpointStore) LoadLatest() (store.Snapshot, int64, error) {
	var id int64
	err := cs.db.QueryRow("SELECT id FROM checkpoints ORDER BY id DESC LIMIT 1").Scan(&id)
	if err == sql.ErrNoRows {
		return store.Snapshot{}, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("failed to find latest checkpoint: %w", err)
	}

	snap, err := cs.Load(id)
	if err != nil {
		return nil, 0, err
	}
	return snap, id, nil
}

// List returns all checkpoints, newest first.
func (cs *CheckpointStore) List() ([]Info, error) {
	rows, err := cs.db.Query("SELECT id, saved_at, entry_count FROM checkpoints ORDER BY id DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		var savedAt string
		if err := rows.Scan(&info.ID, &savedAt, &info.EntryCount); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint row: %w", err)
		}
		if t, err := time.Parse(entry.TimeLayout, savedAt); err == nil {
			info.SavedAt = t
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Prune deletes all but the newest n checkpoints and returns how many were
// removed.
func (cs *CheckpointStore) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	tx, err := cs.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin prune transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		DELETE FROM checkpoints WHERE id NOT IN (
			SELECT id FROM checkpoints ORDER BY id DESC LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune checkpoints: %w", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := tx.Exec(`
		DELETE FROM context_entries WHERE checkpoint_id NOT IN (
			SELECT id FROM checkpoints
		)`); err != nil {
		return 0, fmt.Errorf("failed to prune checkpoint entries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}

	logging.Checkpoint("pruned %d checkpoints, kept %d", removed, keep)
	return int(removed), nil
}
