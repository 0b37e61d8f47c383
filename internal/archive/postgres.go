package archive

import (
	"context"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

const tableName = "eventshot_items"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Postgres writes records into a single table, one row per item. A record
// for an item already present replaces the earlier row.
type Postgres struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

// OpenPostgres connects and creates the table if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect archive database: %w", err)
	}
	if err := initSchema(ctx, conn); err != nil {
		_ = conn.Close(ctx)
		return nil, fmt.Errorf("initialize archive schema: %w", err)
	}
	return &Postgres{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	_, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+tableName+` (
			item_id TEXT PRIMARY KEY,
			identity TEXT NOT NULL,
			path TEXT NOT NULL,
			outcome TEXT NOT NULL,
			stage TEXT NOT NULL,
			attempts INT NOT NULL,
			error TEXT,
			faces INT NOT NULL DEFAULT 0,
			candidate TEXT,
			fell_back BOOLEAN NOT NULL DEFAULT FALSE,
			location TEXT,
			discovered_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS `+tableName+`_outcome_idx ON `+tableName+` (outcome);
	`)
	return err
}

// insertQuery builds the upsert for r.
func insertQuery(r Record) (string, []any, error) {
	return psql.Insert(tableName).
		Columns("item_id", "identity", "path", "outcome", "stage", "attempts", "error",
			"faces", "candidate", "fell_back", "location", "discovered_at", "completed_at", "duration_ms").
		Values(r.ItemID, r.Identity, r.Path, r.Outcome, r.Stage, r.Attempts, r.Error,
			r.Faces, r.Candidate, r.FellBack, r.Location, r.DiscoveredAt, r.CompletedAt, r.Duration.Milliseconds()).
		Suffix(`ON CONFLICT (item_id) DO UPDATE SET outcome = EXCLUDED.outcome, stage = EXCLUDED.stage,
			attempts = EXCLUDED.attempts, error = EXCLUDED.error, location = EXCLUDED.location,
			completed_at = EXCLUDED.completed_at, duration_ms = EXCLUDED.duration_ms`).
		ToSql()
}

func (p *Postgres) Record(ctx context.Context, r Record) error {
	query, args, err := insertQuery(r)
	if err != nil {
		return fmt.Errorf("build archive insert: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return fmt.Errorf("archive database closed")
	}
	if _, err := p.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("archive item %s: %w", r.ItemID, err)
	}
	return nil
}

// Outcomes returns the number of archived items per outcome.
func (p *Postgres) Outcomes(ctx context.Context) (map[string]int, error) {
	query, args, err := psql.Select("outcome", "COUNT(*)").From(tableName).GroupBy("outcome").ToSql()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	rows, err := p.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		out[outcome] = n
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close(context.Background())
	p.conn = nil
	return err
}
