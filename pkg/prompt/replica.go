package prompt

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// ReplicaKey identifies one stored prompt version.
type ReplicaKey struct {
	Name    string
	Version int
}

// ReplicaRecord is one prompt version as stored locally. Labels and Config
// hold the registry's JSON verbatim.
type ReplicaRecord struct {
	Name          string
	Version       int
	Text          string
	UpdatedAt     string
	CreatedAt     string
	Labels        string
	Config        string
	CreatedBy     string
	CommitMessage string
}

const replicaSchema = `
CREATE TABLE IF NOT EXISTS prompt_replica (
	prompt_name    TEXT NOT NULL,
	version        INTEGER NOT NULL,
	prompt_text    TEXT NOT NULL,
	updated_at     TEXT,
	created_at     TEXT,
	labels         TEXT,
	config         TEXT,
	created_by     TEXT,
	commit_message TEXT,
	PRIMARY KEY (prompt_name, version)
)`

// Replica is an append-only local copy of every prompt version the service
// has seen. It exists so historical prompt text survives registry-side
// edits and outages.
type Replica struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenReplica opens the SQLite replica at path, creating the file and
// schema when missing.
func OpenReplica(path string) (*Replica, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open replica database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping replica database: %w", err)
	}
	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(replicaSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize replica schema: %w", err)
	}

	logger := slog.With("component", "replica")
	logger.Info("Prompt replica store ready", "path", path)
	return &Replica{db: db, logger: logger}, nil
}

// StoreIfNew inserts one prompt version unless that (name, version) row
// already exists. Returns true when a row was inserted.
func (r *Replica) StoreIfNew(ctx context.Context, rec ReplicaRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO prompt_replica
			(prompt_name, version, prompt_text, updated_at, created_at, labels, config, created_by, commit_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Name, rec.Version, rec.Text, rec.UpdatedAt, rec.CreatedAt,
		rec.Labels, rec.Config, rec.CreatedBy, rec.CommitMessage)
	if err != nil {
		return false, fmt.Errorf("failed to store prompt %s v%d: %w", rec.Name, rec.Version, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		r.logger.Debug("Replicated prompt", "prompt", rec.Name, "version", rec.Version)
	}
	return n > 0, nil
}

// Delete removes one stored prompt version. Returns true when a row was
// removed. Intended for maintenance; nothing in the serving path deletes.
func (r *Replica) Delete(ctx context.Context, name string, version int) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM prompt_replica WHERE prompt_name = ? AND version = ?", name, version)
	if err != nil {
		return false, fmt.Errorf("failed to delete prompt %s v%d: %w", name, version, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Entries returns the set of (name, version) pairs currently stored.
func (r *Replica) Entries(ctx context.Context) (map[ReplicaKey]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT prompt_name, version FROM prompt_replica")
	if err != nil {
		return nil, fmt.Errorf("failed to list replica entries: %w", err)
	}
	defer rows.Close()

	out := make(map[ReplicaKey]struct{})
	for rows.Next() {
		var k ReplicaKey
		if err := rows.Scan(&k.Name, &k.Version); err != nil {
			return nil, err
		}
		out[k] = struct{}{}
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (r *Replica) Close() error {
	return r.db.Close()
}
