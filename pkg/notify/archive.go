package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Archiver keeps a durable copy of every qualified lead in Postgres so a
// lost notification can be recovered by hand. It is an optional sink: the
// funnel runs without it.
type Archiver struct {
	pool *pgxpool.Pool
}

const createLeadsTable = `
CREATE TABLE IF NOT EXISTS leads (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	grade       TEXT NOT NULL,
	priority    TEXT NOT NULL,
	score       INT NOT NULL,
	payload     JSONB NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL
)`

const insertLead = `
INSERT INTO leads (id, session_id, grade, priority, score, payload, captured_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`

// NewArchiver connects to Postgres and ensures the leads table exists.
func NewArchiver(ctx context.Context, dsn string) (*Archiver, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect lead archive: %w", err)
	}
	if _, err := pool.Exec(ctx, createLeadsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure leads table: %w", err)
	}
	return &Archiver{pool: pool}, nil
}

// Notify implements Notifier.
func (a *Archiver) Notify(ctx context.Context, lead Lead) (Delivery, error) {
	payload, err := json.Marshal(lead)
	if err != nil {
		return Delivery{}, fmt.Errorf("marshal lead: %w", err)
	}

	_, err = a.pool.Exec(ctx, insertLead,
		lead.ID,
		lead.SessionID,
		string(lead.Qualification.Grade),
		string(lead.Qualification.Priority),
		lead.Qualification.NumericScore,
		payload,
		lead.CapturedAt,
	)
	if err != nil {
		return Delivery{}, fmt.Errorf("archive lead: %w", err)
	}
	return Delivery{DeliveryID: lead.ID, Channel: "postgres"}, nil
}

// Close releases the connection pool.
func (a *Archiver) Close() {
	a.pool.Close()
}

var _ Notifier = (*Archiver)(nil)
