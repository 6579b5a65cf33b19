package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dontdude/walq/internal/domain"
	_ "github.com/lib/pq"
)

const createJournalTable = `
	CREATE TABLE IF NOT EXISTS walq_journal (
		seq     BIGSERIAL PRIMARY KEY,
		op      TEXT   NOT NULL,
		job_id  BIGINT NOT NULL,
		payload TEXT   NOT NULL DEFAULT ''
	)`

// PostgresJournal stores records as rows ordered by a serial column.
type PostgresJournal struct {
	db *sql.DB
}

var _ domain.Journal = (*PostgresJournal)(nil)

// OpenPostgres connects with dsn and creates the journal table if missing.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresJournal, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	j := NewPostgresJournal(db)
	if err := j.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func NewPostgresJournal(db *sql.DB) *PostgresJournal {
	return &PostgresJournal{db: db}
}

func (p *PostgresJournal) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, createJournalTable); err != nil {
		return fmt.Errorf("failed to create journal table: %w", err)
	}
	return nil
}

func (p *PostgresJournal) Append(ctx context.Context, rec domain.Record) error {
	if _, err := EncodeLine(rec); err != nil {
		return err
	}
	query := `INSERT INTO walq_journal (op, job_id, payload) VALUES ($1, $2, $3)`
	if _, err := p.db.ExecContext(ctx, query, string(rec.Op), int64(rec.ID), rec.Payload); err != nil {
		return fmt.Errorf("failed to append journal record: %w", err)
	}
	return nil
}

func (p *PostgresJournal) Replay(ctx context.Context, fn func(domain.Record) error) error {
	rows, err := p.db.QueryContext(ctx, `SELECT op, job_id, payload FROM walq_journal ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			op      string
			id      int64
			payload string
		)
		if err := rows.Scan(&op, &id, &payload); err != nil {
			return fmt.Errorf("failed to scan journal row: %w", err)
		}
		rec := domain.Record{Op: domain.Op(op), ID: uint64(id), Payload: payload}
		if rec.Op != domain.OpAdd && rec.Op != domain.OpDone {
			return fmt.Errorf("%w: unknown op %q", ErrMalformedRecord, op)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (p *PostgresJournal) Close() error {
	return p.db.Close()
}
