package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	domain "github.com/hearthside/api/internal/domain"
	"github.com/hearthside/api/internal/repositories"
)

const (
	defaultAuditListLimit = 50
	maxAuditListLimit     = 500
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	target_ref TEXT NOT NULL,
	severity TEXT NOT NULL,
	metadata TEXT,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_target_ref ON audit_log(target_ref);
CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
`

// AuditLogRepository keeps the append-only audit trail in a local SQLite
// database. Rows are only ever inserted.
type AuditLogRepository struct {
	db *sql.DB
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

// Open creates (or reuses) the audit database at path and prepares the schema.
func Open(ctx context.Context, path string) (*AuditLogRepository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("audit log: database path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit log: open %s: %w", path, err)
	}
	// A single writer keeps SQLite's locking simple.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA foreign_keys = ON;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("audit log: apply pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit log: create schema: %w", err)
	}

	return &AuditLogRepository{db: db}, nil
}

// Close releases the database handle.
func (r *AuditLogRepository) Close() error {
	return r.db.Close()
}

// Append inserts one entry. The id and created_at stored are taken from the
// entry itself so callers control the clock.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	var metadata sql.NullString
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit log: encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (actor, action, target_ref, severity, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Actor, entry.Action, entry.TargetRef, entry.Severity,
		metadata, entry.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("audit log: insert: %w", err)
	}
	return nil
}

// List returns recent entries, newest first, optionally filtered by target
// and action.
func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) ([]domain.AuditLogEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditListLimit
	}
	if limit > maxAuditListLimit {
		limit = maxAuditListLimit
	}

	query := `SELECT id, actor, action, target_ref, severity, metadata, created_at FROM audit_log`
	var (
		conds []string
		args  []any
	)
	if target := strings.TrimSpace(filter.TargetRef); target != "" {
		conds = append(conds, "target_ref = ?")
		args = append(args, target)
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		conds = append(conds, "action = ?")
		args = append(args, action)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit log: query: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditLogEntry
	for rows.Next() {
		var (
			entry     domain.AuditLogEntry
			metadata  sql.NullString
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.Action, &entry.TargetRef, &entry.Severity, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("audit log: scan: %w", err)
		}
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("audit log: decode metadata: %w", err)
			}
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("audit log: parse created_at: %w", err)
		}
		entry.CreatedAt = ts
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit log: iterate: %w", err)
	}
	return entries, nil
}
