package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/repocard/internal/model"
)

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	CopyFrom(ctx context.Context, table pgx.Identifier, columns []string, src pgx.CopyFromSource) (int64, error)
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	kind          TEXT NOT NULL,
	repository    TEXT NOT NULL DEFAULT '',
	evidence_hash TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'queued',
	summary       JSONB,
	error         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS evidence_cache (
	hash             TEXT PRIMARY KEY,
	data             BYTEA NOT NULL,
	cached_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_accessed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS decisions (
	seq             BIGSERIAL PRIMARY KEY,
	run_id          TEXT NOT NULL,
	path            TEXT NOT NULL,
	decision        TEXT NOT NULL,
	edited_value    JSONB,
	anchors         JSONB,
	lock            BOOLEAN NOT NULL DEFAULT false,
	skip_generation BOOLEAN NOT NULL DEFAULT false,
	recorded_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_repository ON runs(repository);
CREATE INDEX IF NOT EXISTS idx_evidence_cache_accessed ON evidence_cache(last_accessed_at DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_path_seq ON decisions(path, seq DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	id := run.ID
	if id == "" {
		id = uuid.New().String()
	}
	r := newRun(run, id, s.now().UTC())

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, kind, repository, evidence_hash, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, string(r.Kind), r.Repository, r.EvidenceHash, string(r.Status), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return r, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), s.now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	return checkTag(tag, "run", runID)
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET summary = $1, status = $2, updated_at = $3 WHERE id = $4`,
		summaryJSON, string(model.RunStatusComplete), s.now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	return checkTag(tag, "run", runID)
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, cause error) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET error = $1, status = $2, updated_at = $3 WHERE id = $4`,
		errorText(cause), string(model.RunStatusFailed), s.now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	return checkTag(tag, "run", runID)
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanPgRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	if filter.Repository != "" {
		query += fmt.Sprintf(` AND repository = $%d`, argIdx)
		args = append(args, filter.Repository)
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPgRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// GetCachedEvidence returns nil when hash is not cached. A hit refreshes
// last_accessed_at in the same statement.
func (s *PostgresStore) GetCachedEvidence(ctx context.Context, hash string) (*CacheEntry, error) {
	var e CacheEntry
	err := s.pool.QueryRow(ctx,
		`UPDATE evidence_cache SET last_accessed_at = $2 WHERE hash = $1
		 RETURNING hash, data, cached_at, last_accessed_at`,
		hash, s.now().UTC(),
	).Scan(&e.Hash, &e.Data, &e.CachedAt, &e.LastAccessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached evidence")
	}
	return &e, nil
}

func (s *PostgresStore) PutCachedEvidence(ctx context.Context, hash string, data []byte) error {
	now := s.now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO evidence_cache (hash, data, cached_at, last_accessed_at) VALUES ($1, $2, $3, $3)
		 ON CONFLICT (hash) DO UPDATE SET data = $2, last_accessed_at = $3`,
		hash, data, now,
	)
	return eris.Wrap(err, "postgres: put cached evidence")
}

// EvictEvidence removes entries cached longer than MaxAge, then the least
// recently accessed entries beyond MaxEntries.
func (s *PostgresStore) EvictEvidence(ctx context.Context, policy EvictPolicy) (int, error) {
	var total int64
	if policy.MaxAge > 0 {
		tag, err := s.pool.Exec(ctx,
			`DELETE FROM evidence_cache WHERE cached_at < $1`,
			s.now().UTC().Add(-policy.MaxAge),
		)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: evict aged evidence")
		}
		total += tag.RowsAffected()
	}
	if policy.MaxEntries > 0 {
		tag, err := s.pool.Exec(ctx,
			`DELETE FROM evidence_cache WHERE hash IN (
				SELECT hash FROM evidence_cache ORDER BY last_accessed_at DESC, hash OFFSET $1
			)`,
			policy.MaxEntries,
		)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: evict surplus evidence")
		}
		total += tag.RowsAffected()
	}
	return int(total), nil
}

var decisionColumns = []string{"run_id", "path", "decision", "edited_value", "anchors", "lock", "skip_generation", "recorded_at"}

// SaveDecisions bulk-inserts a run's decisions with COPY.
func (s *PostgresStore) SaveDecisions(ctx context.Context, runID string, decisions []model.Decision) error {
	if len(decisions) == 0 {
		return nil
	}
	now := s.now().UTC()
	rows := make([][]any, 0, len(decisions))
	for _, d := range decisions {
		row, err := decisionRow(runID, d)
		if err != nil {
			return err
		}
		for i, v := range row {
			if str, ok := v.(string); ok && (i == 3 || i == 4) {
				row[i] = json.RawMessage(str)
			}
		}
		rows = append(rows, append(row, now))
	}

	n, err := s.pool.CopyFrom(ctx, pgx.Identifier{"decisions"}, decisionColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return eris.Wrapf(err, "postgres: copy decisions for run %s", runID)
	}
	if int(n) != len(rows) {
		return eris.Errorf("postgres: copied %d of %d decisions for run %s", n, len(rows), runID)
	}
	return nil
}

// LatestDecisions returns the most recent decision per path, sorted by path.
func (s *PostgresStore) LatestDecisions(ctx context.Context) ([]model.Decision, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (path) path, decision, edited_value, anchors, lock, skip_generation
		 FROM decisions ORDER BY path, seq DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest decisions")
	}
	defer rows.Close()

	out := []model.Decision{}
	for rows.Next() {
		var d model.Decision
		var kind string
		var edited, anchors []byte
		if err := rows.Scan(&d.Path, &kind, &edited, &anchors, &d.Lock, &d.SkipGeneration); err != nil {
			return nil, eris.Wrap(err, "postgres: scan decision")
		}
		d.Decision = model.DecisionKind(kind)
		if err := decodeDecisionJSON(&d, edited, anchors); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: latest decisions iterate")
}

func checkTag(tag pgconn.CommandTag, entity, id string) error {
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

func scanPgRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	var kind, status string
	var summaryJSON []byte
	if err := row.Scan(&r.ID, &kind, &r.Repository, &r.EvidenceHash, &status, &summaryJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Kind = model.RunKind(kind)
	r.Status = model.RunStatus(status)
	if len(summaryJSON) > 0 && string(summaryJSON) != "null" {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal(summaryJSON, r.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal summary")
		}
	}
	return &r, nil
}
