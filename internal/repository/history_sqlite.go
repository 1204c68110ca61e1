package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"chatbot-agent/internal/domain"
)

// SQLiteHistoryStore keeps the per-identity history in a local SQLite file.
// Insert and prune run in one transaction.
type SQLiteHistoryStore struct {
	db         *sql.DB
	maxRecords int
	now        func() time.Time
}

// SQLiteHistoryDSNForFile builds the DSN used for file-backed stores.
func SQLiteHistoryDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite history store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

// NewSQLiteHistoryStore opens dsn and creates the schema if needed.
func NewSQLiteHistoryStore(dsn string, maxRecords int) (*SQLiteHistoryStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite history store: empty dsn")
	}
	if maxRecords <= 0 {
		maxRecords = DefaultHistoryLimit
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite history store: open")
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	s := &SQLiteHistoryStore{db: db, maxRecords: maxRecords, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteHistoryStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteHistoryStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS history (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			identity      TEXT NOT NULL,
			role          TEXT,
			text          TEXT,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS history_by_identity ON history(identity, created_at_ms, id);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite history store: migrate")
		}
	}
	return nil
}

func (s *SQLiteHistoryStore) Append(ctx context.Context, identity, text string, role domain.Role) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return errors.New("sqlite history store: identity is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite history store: begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history (identity, role, text, created_at_ms) VALUES (?, ?, ?, ?)`,
		identity, string(role), text, s.now().UnixMilli(),
	); err != nil {
		return errors.Wrap(err, "sqlite history store: insert")
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM history
		WHERE identity = ?
		AND id NOT IN (
			SELECT id FROM history
			WHERE identity = ?
			ORDER BY created_at_ms DESC, id DESC
			LIMIT ?
		)`,
		identity, identity, s.maxRecords,
	); err != nil {
		return errors.Wrap(err, "sqlite history store: prune")
	}
	return errors.Wrap(tx.Commit(), "sqlite history store: commit")
}

// Recent returns the newest limit records for identity, oldest first. A limit
// below the stored count drops the oldest records, not the newest.
func (s *SQLiteHistoryStore) Recent(ctx context.Context, identity string, limit int) ([]domain.HistoryRecord, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, errors.New("sqlite history store: identity is empty")
	}
	if limit <= 0 || limit > s.maxRecords {
		limit = s.maxRecords
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, text, created_at_ms FROM (
			SELECT id, role, text, created_at_ms FROM history
			WHERE identity = ?
			ORDER BY created_at_ms DESC, id DESC
			LIMIT ?
		) ORDER BY created_at_ms ASC, id ASC`,
		identity, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite history store: query recent")
	}
	defer func() { _ = rows.Close() }()

	var out []domain.HistoryRecord
	for rows.Next() {
		var (
			id        int64
			role      sql.NullString
			text      sql.NullString
			createdMs int64
		)
		if err := rows.Scan(&id, &role, &text, &createdMs); err != nil {
			return nil, errors.Wrap(err, "sqlite history store: scan")
		}
		out = append(out, domain.HistoryRecord{
			Identity:  identity,
			Role:      domain.ParseRole(role.String),
			Text:      text.String,
			Seq:       id,
			CreatedAt: time.UnixMilli(createdMs).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite history store: rows")
	}
	return out, nil
}
