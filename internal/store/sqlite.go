package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/repocard/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Cache timestamps are unix nanoseconds so age and recency compare numerically.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	kind          TEXT NOT NULL,
	repository    TEXT NOT NULL DEFAULT '',
	evidence_hash TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL DEFAULT 'queued',
	summary       TEXT,
	error         TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS evidence_cache (
	hash             TEXT PRIMARY KEY,
	data             BLOB NOT NULL,
	cached_at        INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id          TEXT NOT NULL,
	path            TEXT NOT NULL,
	decision        TEXT NOT NULL,
	edited_value    TEXT,
	anchors         TEXT,
	lock            INTEGER NOT NULL DEFAULT 0,
	skip_generation INTEGER NOT NULL DEFAULT 0,
	recorded_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_repository ON runs(repository);
CREATE INDEX IF NOT EXISTS idx_evidence_cache_accessed ON evidence_cache(last_accessed_at);
CREATE INDEX IF NOT EXISTS idx_decisions_path ON decisions(path, seq);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run model.Run) (*model.Run, error) {
	id := run.ID
	if id == "" {
		id = uuid.New().String()
	}
	r := newRun(run, id, s.now().UTC())

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, kind, repository, evidence_hash, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Kind), r.Repository, r.EvidenceHash, string(r.Status), r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return r, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), s.now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET summary = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(summaryJSON), string(model.RunStatusComplete), s.now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) FailRun(ctx context.Context, runID string, cause error) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET error = ?, status = ?, updated_at = ? WHERE id = ?`,
		errorText(cause), string(model.RunStatusFailed), s.now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const runColumns = `id, kind, repository, evidence_hash, status, summary, error, created_at, updated_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, runID)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Repository != "" {
		query += ` AND repository = ?`
		args = append(args, filter.Repository)
	}
	query += ` ORDER BY created_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// GetCachedEvidence returns nil when hash is not cached. A hit refreshes
// last_accessed_at.
func (s *SQLiteStore) GetCachedEvidence(ctx context.Context, hash string) (*CacheEntry, error) {
	var e CacheEntry
	var cachedAt, accessedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, data, cached_at, last_accessed_at FROM evidence_cache WHERE hash = ?`,
		hash,
	).Scan(&e.Hash, &e.Data, &cachedAt, &accessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached evidence")
	}

	now := s.now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE evidence_cache SET last_accessed_at = ? WHERE hash = ?`,
		now.UnixNano(), hash,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: touch cached evidence")
	}
	e.CachedAt = time.Unix(0, cachedAt).UTC()
	e.LastAccessedAt = now
	return &e, nil
}

func (s *SQLiteStore) PutCachedEvidence(ctx context.Context, hash string, data []byte) error {
	now := s.now().UTC().UnixNano()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evidence_cache (hash, data, cached_at, last_accessed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (hash) DO UPDATE SET data = excluded.data, last_accessed_at = excluded.last_accessed_at`,
		hash, data, now, now,
	)
	return eris.Wrap(err, "sqlite: put cached evidence")
}

// EvictEvidence removes entries cached longer than MaxAge, then the least
// recently accessed entries beyond MaxEntries.
func (s *SQLiteStore) EvictEvidence(ctx context.Context, policy EvictPolicy) (int, error) {
	var total int64
	if policy.MaxAge > 0 {
		cutoff := s.now().UTC().Add(-policy.MaxAge).UnixNano()
		res, err := s.db.ExecContext(ctx, `DELETE FROM evidence_cache WHERE cached_at < ?`, cutoff)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: evict aged evidence")
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if policy.MaxEntries > 0 {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM evidence_cache WHERE hash IN (
				SELECT hash FROM evidence_cache ORDER BY last_accessed_at DESC, hash LIMIT -1 OFFSET ?
			)`,
			policy.MaxEntries,
		)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: evict surplus evidence")
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return int(total), nil
}

func (s *SQLiteStore) SaveDecisions(ctx context.Context, runID string, decisions []model.Decision) error {
	if len(decisions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save decisions")
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now().UTC()
	for _, d := range decisions {
		row, err := decisionRow(runID, d)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO decisions (run_id, path, decision, edited_value, anchors, lock, skip_generation, recorded_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			append(row, now)...,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert decision %s", d.Path)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit decisions")
}

// LatestDecisions returns the most recent decision per path, sorted by path.
func (s *SQLiteStore) LatestDecisions(ctx context.Context) ([]model.Decision, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.path, d.decision, d.edited_value, d.anchors, d.lock, d.skip_generation
		 FROM decisions d
		 WHERE d.seq = (SELECT MAX(seq) FROM decisions WHERE path = d.path)
		 ORDER BY d.path`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest decisions")
	}
	defer rows.Close()

	out := []model.Decision{}
	for rows.Next() {
		var d model.Decision
		var edited, anchors sql.NullString
		if err := rows.Scan(&d.Path, &d.Decision, &edited, &anchors, &d.Lock, &d.SkipGeneration); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan decision")
		}
		if err := decodeDecisionJSON(&d, []byte(edited.String), []byte(anchors.String)); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: latest decisions iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var summaryJSON sql.NullString

	err := row.Scan(&r.ID, &r.Kind, &r.Repository, &r.EvidenceHash, &r.Status, &summaryJSON, &r.Error, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "run")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if summaryJSON.Valid && summaryJSON.String != "" && summaryJSON.String != "null" {
		r.Summary = &model.RunSummary{}
		if err := json.Unmarshal([]byte(summaryJSON.String), r.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal summary")
		}
	}
	return &r, nil
}

// decisionRow returns the positional column values shared by both drivers:
// run_id, path, decision, edited_value, anchors, lock, skip_generation.
func decisionRow(runID string, d model.Decision) ([]any, error) {
	var edited, anchors any
	if d.EditedValue != nil {
		raw, err := json.Marshal(d.EditedValue)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal edited value %s", d.Path)
		}
		edited = string(raw)
	}
	if len(d.Anchors) > 0 {
		raw, err := json.Marshal(d.Anchors)
		if err != nil {
			return nil, eris.Wrapf(err, "store: marshal anchors %s", d.Path)
		}
		anchors = string(raw)
	}
	return []any{runID, d.Path, string(d.Decision), edited, anchors, d.Lock, d.SkipGeneration}, nil
}

func decodeDecisionJSON(d *model.Decision, edited, anchors []byte) error {
	if len(edited) > 0 {
		if err := json.Unmarshal(edited, &d.EditedValue); err != nil {
			return eris.Wrapf(err, "store: unmarshal edited value %s", d.Path)
		}
	}
	if len(anchors) > 0 {
		if err := json.Unmarshal(anchors, &d.Anchors); err != nil {
			return eris.Wrapf(err, "store: unmarshal anchors %s", d.Path)
		}
	}
	return nil
}
