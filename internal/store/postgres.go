package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/dutchgtr/bricktrack/internal/db"
	"github.com/dutchgtr/bricktrack/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection. Job
// progress updates are the hottest path (throttled, but still frequent).
var preparedStatements = map[string]string{
	"update_job_progress": `UPDATE jobs SET found_count = found_count + $1, new_count = new_count + $2, updated_count = updated_count + $3, message = $4, last_update = $5, updated_at = $5 WHERE id = $6 AND status = 'running'`,
	"get_job":             `SELECT id, stage, dataset, status, found_count, new_count, updated_count, message, error_message, metadata, started_at, completed_at, updated_at, last_update, timeout_at FROM jobs WHERE id = $1`,
	"find_running_job":    `SELECT id, stage, dataset, status, found_count, new_count, updated_count, message, error_message, metadata, started_at, completed_at, updated_at, last_update, timeout_at FROM jobs WHERE dataset = $1 AND status = 'running' ORDER BY started_at DESC LIMIT 1`,
	"find_exact_entry":    `SELECT id, set_number, name, year, created_at FROM catalog_entries WHERE set_number = $1`,
	"find_prefix_entry":   `SELECT id, set_number, name, year, created_at FROM catalog_entries WHERE set_number LIKE $1 ORDER BY set_number ASC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	stage         TEXT NOT NULL,
	dataset       TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'running',
	found_count   INTEGER NOT NULL DEFAULT 0,
	new_count     INTEGER NOT NULL DEFAULT 0,
	updated_count INTEGER NOT NULL DEFAULT 0,
	message       TEXT,
	error_message TEXT,
	metadata      JSONB,
	started_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at  TIMESTAMPTZ,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_update   TIMESTAMPTZ,
	timeout_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_dataset_status ON jobs(dataset, status);
CREATE INDEX IF NOT EXISTS idx_jobs_dataset_stage ON jobs(dataset, stage, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_jobs_timeout ON jobs(timeout_at) WHERE status = 'running';

CREATE TABLE IF NOT EXISTS raw_listings (
	id             TEXT PRIMARY KEY,
	dataset        TEXT NOT NULL,
	capture_job_id TEXT NOT NULL,
	external_id    TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	price          INTEGER NOT NULL DEFAULT 0,
	url            TEXT NOT NULL DEFAULT '',
	captured_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	enriched_at    TIMESTAMPTZ,
	UNIQUE (capture_job_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_raw_listings_capture_job ON raw_listings(capture_job_id);

CREATE TABLE IF NOT EXISTS listings (
	id                     TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	dataset                TEXT NOT NULL,
	external_id            TEXT NOT NULL,
	title                  TEXT NOT NULL DEFAULT '',
	description            TEXT NOT NULL DEFAULT '',
	sanitised_title        TEXT NOT NULL DEFAULT '',
	sanitised_description  TEXT NOT NULL DEFAULT '',
	price                  INTEGER NOT NULL DEFAULT 0,
	url                    TEXT NOT NULL DEFAULT '',
	piece_count            INTEGER NOT NULL DEFAULT 0,
	piece_count_estimated  BOOLEAN NOT NULL DEFAULT false,
	minifig_count          INTEGER NOT NULL DEFAULT 0,
	condition              TEXT NOT NULL DEFAULT '',
	reconciled_at          TIMESTAMPTZ,
	reconciliation_version TEXT,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (dataset, external_id)
);

CREATE INDEX IF NOT EXISTS idx_listings_dataset ON listings(dataset);
CREATE INDEX IF NOT EXISTS idx_listings_reconciled ON listings(dataset, reconciled_at);

CREATE TABLE IF NOT EXISTS catalog_entries (
	id         TEXT PRIMARY KEY,
	set_number TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	year       INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_catalog_entries_set_number ON catalog_entries(set_number);

CREATE TABLE IF NOT EXISTS listing_catalog_joins (
	id                     TEXT PRIMARY KEY,
	listing_id             TEXT NOT NULL REFERENCES listings(id),
	catalog_entry_id       TEXT NOT NULL REFERENCES catalog_entries(id),
	nature                 TEXT NOT NULL DEFAULT 'mentioned',
	reconciliation_version TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'active',
	potential_year_match   BOOLEAN NOT NULL DEFAULT false,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_joins_one_active
	ON listing_catalog_joins(listing_id, catalog_entry_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_joins_listing ON listing_catalog_joins(listing_id);
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

const jobColumns = `id, stage, dataset, status, found_count, new_count, updated_count, message, error_message, metadata, started_at, completed_at, updated_at, last_update, timeout_at`

func (s *PostgresStore) CreateJob(ctx context.Context, stage model.StageType, dataset string, meta *model.JobMetadata, timeout time.Duration) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	timeoutAt := now.Add(timeout)

	var metaJSON []byte
	if meta != nil {
		var err error
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: marshal job metadata")
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, stage, dataset, status, metadata, started_at, updated_at, timeout_at) VALUES ($1, $2, $3, $4, $5, $6, $6, $7)`,
		id, string(stage), dataset, string(model.JobStatusRunning), metaJSON, now, timeoutAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	return &model.Job{
		ID:        id,
		Stage:     stage,
		Dataset:   dataset,
		Status:    model.JobStatusRunning,
		Metadata:  meta,
		StartedAt: now,
		UpdatedAt: now,
		TimeoutAt: timeoutAt,
	}, nil
}

// scanJob reads a job row from any source with jobColumns ordering.
func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var message, errorMessage *string
	var metaJSON []byte

	err := row.Scan(&j.ID, &j.Stage, &j.Dataset, &j.Status,
		&j.Stats.Found, &j.Stats.New, &j.Stats.Updated,
		&message, &errorMessage, &metaJSON,
		&j.StartedAt, &j.CompletedAt, &j.UpdatedAt, &j.LastUpdate, &j.TimeoutAt)
	if err != nil {
		return nil, err
	}
	if message != nil {
		j.Message = *message
	}
	if errorMessage != nil {
		j.ErrorMessage = *errorMessage
	}
	if metaJSON != nil {
		j.Metadata = &model.JobMetadata{}
		if err := json.Unmarshal(metaJSON, j.Metadata); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal job metadata")
		}
	}
	return &j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Dataset != "" {
		query += fmt.Sprintf(` AND dataset = $%d`, argIdx)
		args = append(args, filter.Dataset)
		argIdx++
	}
	if filter.Stage != "" {
		query += fmt.Sprintf(` AND stage = $%d`, argIdx)
		args = append(args, string(filter.Stage))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) FindRunningJob(ctx context.Context, dataset string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE dataset = $1 AND status = 'running' ORDER BY started_at DESC LIMIT 1`,
		dataset,
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find running job for %s", dataset)
	}
	return j, nil
}

func (s *PostgresStore) CompletedStages(ctx context.Context, dataset string) ([]model.StageType, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT stage FROM jobs WHERE dataset = $1 AND status = 'completed'`,
		dataset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: completed stages for %s", dataset)
	}
	defer rows.Close()

	var stages []model.StageType
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage")
		}
		stages = append(stages, model.StageType(st))
	}
	return stages, eris.Wrap(rows.Err(), "postgres: completed stages iterate")
}

func (s *PostgresStore) LatestCompletedJob(ctx context.Context, dataset string, stage model.StageType) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE dataset = $1 AND stage = $2 AND status = 'completed' ORDER BY completed_at DESC, started_at DESC LIMIT 1`,
		dataset, string(stage),
	)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: latest completed %s job for %s", stage, dataset)
	}
	return j, nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, jobID string, message string, delta model.JobStats) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET found_count = found_count + $1, new_count = new_count + $2, updated_count = updated_count + $3, message = $4, last_update = $5, updated_at = $5 WHERE id = $6 AND status = 'running'`,
		delta.Found, delta.New, delta.Updated, message, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job progress %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not running: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) UpdateJobMetadata(ctx context.Context, jobID string, meta *model.JobMetadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job metadata")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET metadata = $1, updated_at = $2 WHERE id = $3`,
		metaJSON, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job metadata %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("job not found: %s", jobID)
	}
	return nil
}

// CompleteJob transitions a running job to completed, merging the final stats
// delta. No-op if the job is already terminal.
func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string, message string, final model.JobStats) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', found_count = found_count + $1, new_count = new_count + $2, updated_count = updated_count + $3, message = $4, completed_at = $5, updated_at = $5 WHERE id = $6 AND status = 'running'`,
		final.Found, final.New, final.Updated, message, now, jobID,
	)
	return eris.Wrapf(err, "postgres: complete job %s", jobID)
}

// FailJob transitions a running job to failed. No-op if already terminal.
func (s *PostgresStore) FailJob(ctx context.Context, jobID string, errorMessage string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', error_message = $1, completed_at = $2, updated_at = $2 WHERE id = $3 AND status = 'running'`,
		errorMessage, now, jobID,
	)
	return eris.Wrapf(err, "postgres: fail job %s", jobID)
}

func (s *PostgresStore) SweepStaleJobs(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', error_message = 'timed out', completed_at = $1, updated_at = $1 WHERE status = 'running' AND timeout_at < $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: sweep stale jobs")
	}
	return int(tag.RowsAffected()), nil
}

var rawListingColumns = []string{"id", "dataset", "capture_job_id", "external_id", "title", "description", "price", "url", "captured_at"}

func (s *PostgresStore) InsertRawListings(ctx context.Context, listings []model.RawListing) (int64, error) {
	if len(listings) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(listings))
	for _, l := range listings {
		id := l.ID
		if id == "" {
			id = uuid.New().String()
		}
		capturedAt := l.CapturedAt
		if capturedAt.IsZero() {
			capturedAt = now
		}
		rows = append(rows, []any{id, l.Dataset, l.CaptureJobID, l.ExternalID, l.Title, l.Description, l.Price, l.URL, capturedAt})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "raw_listings",
		Columns:      rawListingColumns,
		ConflictKeys: []string{"capture_job_id", "external_id"},
		UpdateCols:   []string{"title", "description", "price", "url"},
	}, rows)
	return n, eris.Wrap(err, "postgres: insert raw listings")
}

func (s *PostgresStore) ListRawListingsByCaptureJob(ctx context.Context, captureJobID string) ([]model.RawListing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, dataset, capture_job_id, external_id, title, description, price, url, captured_at, enriched_at FROM raw_listings WHERE capture_job_id = $1 ORDER BY captured_at ASC`,
		captureJobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list raw listings for job %s", captureJobID)
	}
	defer rows.Close()

	var listings []model.RawListing
	for rows.Next() {
		var l model.RawListing
		if err := rows.Scan(&l.ID, &l.Dataset, &l.CaptureJobID, &l.ExternalID, &l.Title, &l.Description, &l.Price, &l.URL, &l.CapturedAt, &l.EnrichedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan raw listing")
		}
		listings = append(listings, l)
	}
	return listings, eris.Wrap(rows.Err(), "postgres: list raw listings iterate")
}

func (s *PostgresStore) MarkRawListingEnriched(ctx context.Context, rawID string, description string, price int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE raw_listings SET description = $1, price = $2, enriched_at = $3 WHERE id = $4`,
		description, price, time.Now().UTC(), rawID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark raw listing enriched %s", rawID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("raw_listing not found: %s", rawID)
	}
	return nil
}

// MaterializeCaptured promotes raw captured rows into the canonical listings
// table. Re-running for the same capture job updates in place.
func (s *PostgresStore) MaterializeCaptured(ctx context.Context, dataset string, captureJobID string) (int64, int64, error) {
	var created, updated int64
	err := s.pool.QueryRow(ctx,
		`WITH src AS (
			SELECT DISTINCT ON (external_id) dataset, external_id, title, description, price, url
			FROM raw_listings
			WHERE dataset = $1 AND capture_job_id = $2
			ORDER BY external_id, captured_at DESC
		), ins AS (
			INSERT INTO listings (id, dataset, external_id, title, description, price, url, created_at, updated_at)
			SELECT gen_random_uuid()::text, dataset, external_id, title, description, price, url, now(), now()
			FROM src
			ON CONFLICT (dataset, external_id) DO UPDATE SET
				title = EXCLUDED.title,
				description = EXCLUDED.description,
				price = EXCLUDED.price,
				url = EXCLUDED.url,
				updated_at = now()
			RETURNING (xmax = 0) AS inserted
		)
		SELECT COUNT(*) FILTER (WHERE inserted), COUNT(*) FILTER (WHERE NOT inserted) FROM ins`,
		dataset, captureJobID,
	).Scan(&created, &updated)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "postgres: materialize captured for job %s", captureJobID)
	}
	return created, updated, nil
}

const listingColumns = `id, dataset, external_id, title, description, sanitised_title, sanitised_description, price, url, piece_count, piece_count_estimated, minifig_count, condition, reconciled_at, reconciliation_version, created_at, updated_at`

func scanListing(row pgx.Row) (*model.Listing, error) {
	var l model.Listing
	var reconVer *string
	err := row.Scan(&l.ID, &l.Dataset, &l.ExternalID, &l.Title, &l.Description,
		&l.SanitisedTitle, &l.SanitisedDescription, &l.Price, &l.URL,
		&l.PieceCount, &l.PieceCountEstimated, &l.MinifigCount, &l.Condition,
		&l.ReconciledAt, &reconVer, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if reconVer != nil {
		l.ReconciliationVer = *reconVer
	}
	return &l, nil
}

func (s *PostgresStore) GetListing(ctx context.Context, listingID string) (*model.Listing, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, listingID)
	l, err := scanListing(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get listing %s", listingID)
	}
	return l, nil
}

func (s *PostgresStore) GetListingsByIDs(ctx context.Context, ids []string) ([]model.Listing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get listings by ids")
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan listing")
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "postgres: get listings by ids iterate")
}

func (s *PostgresStore) ListListingIDs(ctx context.Context, dataset string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM listings WHERE dataset = $1 ORDER BY created_at ASC`,
		dataset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list listing ids for %s", dataset)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan listing id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list listing ids iterate")
}

func (s *PostgresStore) ListUnsanitisedListings(ctx context.Context, dataset string) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE dataset = $1 AND sanitised_title = '' AND sanitised_description = '' ORDER BY created_at ASC`,
		dataset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list unsanitised listings for %s", dataset)
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan listing")
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "postgres: list unsanitised iterate")
}

func (s *PostgresStore) UpdateListingSanitised(ctx context.Context, listingID string, title, description string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET sanitised_title = $1, sanitised_description = $2, updated_at = $3 WHERE id = $4`,
		title, description, time.Now().UTC(), listingID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update listing sanitised %s", listingID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("listing not found: %s", listingID)
	}
	return nil
}

func (s *PostgresStore) UpdateListingAttributes(ctx context.Context, listingID string, pieceCount int, pieceEstimated bool, minifigCount int, condition string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET piece_count = $1, piece_count_estimated = $2, minifig_count = $3, condition = $4, updated_at = $5 WHERE id = $6`,
		pieceCount, pieceEstimated, minifigCount, condition, time.Now().UTC(), listingID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update listing attributes %s", listingID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("listing not found: %s", listingID)
	}
	return nil
}

func (s *PostgresStore) MarkListingReconciled(ctx context.Context, listingID string, version string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET reconciled_at = $1, reconciliation_version = $2, updated_at = $1 WHERE id = $3`,
		time.Now().UTC(), version, listingID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark listing reconciled %s", listingID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("listing not found: %s", listingID)
	}
	return nil
}

func (s *PostgresStore) CountListings(ctx context.Context, dataset string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings WHERE dataset = $1`, dataset).Scan(&count)
	return count, eris.Wrapf(err, "postgres: count listings for %s", dataset)
}

func (s *PostgresStore) UpsertCatalogEntries(ctx context.Context, entries []model.CatalogEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows = append(rows, []any{id, e.SetNumber, e.Name, e.Year, now})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "catalog_entries",
		Columns:      []string{"id", "set_number", "name", "year", "created_at"},
		ConflictKeys: []string{"set_number"},
		UpdateCols:   []string{"name", "year"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert catalog entries")
}

func scanCatalogEntry(row pgx.Row) (*model.CatalogEntry, error) {
	var e model.CatalogEntry
	if err := row.Scan(&e.ID, &e.SetNumber, &e.Name, &e.Year, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *PostgresStore) FindCatalogEntryBySetNumber(ctx context.Context, setNumber string) (*model.CatalogEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, set_number, name, year, created_at FROM catalog_entries WHERE set_number = $1`,
		setNumber,
	)
	e, err := scanCatalogEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find catalog entry %s", setNumber)
	}
	return e, nil
}

// FindCatalogEntryByPrefix resolves a candidate to catalog entries whose set
// number extends it with a "-" suffix. Ties break to the lexicographically
// smallest set number for determinism.
func (s *PostgresStore) FindCatalogEntryByPrefix(ctx context.Context, prefix string) (*model.CatalogEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, set_number, name, year, created_at FROM catalog_entries WHERE set_number LIKE $1 ORDER BY set_number ASC LIMIT 1`,
		prefix+"-%",
	)
	e, err := scanCatalogEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find catalog entry by prefix %s", prefix)
	}
	return e, nil
}

func (s *PostgresStore) GetCatalogEntriesByIDs(ctx context.Context, ids []string) ([]model.CatalogEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, set_number, name, year, created_at FROM catalog_entries WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get catalog entries by ids")
	}
	defer rows.Close()

	var entries []model.CatalogEntry
	for rows.Next() {
		e, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan catalog entry")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: get catalog entries iterate")
}

const joinColumns = `id, listing_id, catalog_entry_id, nature, reconciliation_version, status, potential_year_match, created_at, updated_at`

func scanJoin(row pgx.Row) (*model.ListingCatalogJoin, error) {
	var j model.ListingCatalogJoin
	if err := row.Scan(&j.ID, &j.ListingID, &j.CatalogEntryID, &j.Nature,
		&j.ReconciliationVer, &j.Status, &j.PotentialYearMatch, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) ActiveJoinsForListing(ctx context.Context, listingID string) ([]model.ListingCatalogJoin, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+joinColumns+` FROM listing_catalog_joins WHERE listing_id = $1 AND status = 'active'`,
		listingID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: active joins for listing %s", listingID)
	}
	defer rows.Close()

	var joins []model.ListingCatalogJoin
	for rows.Next() {
		j, err := scanJoin(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan join")
		}
		joins = append(joins, *j)
	}
	return joins, eris.Wrap(rows.Err(), "postgres: active joins iterate")
}

func (s *PostgresStore) InsertJoin(ctx context.Context, join *model.ListingCatalogJoin) error {
	if join.ID == "" {
		join.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	join.CreatedAt = now
	join.UpdatedAt = now
	if join.Status == "" {
		join.Status = model.JoinStatusActive
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO listing_catalog_joins (id, listing_id, catalog_entry_id, nature, reconciliation_version, status, potential_year_match, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		join.ID, join.ListingID, join.CatalogEntryID, join.Nature, join.ReconciliationVer, string(join.Status), join.PotentialYearMatch, now,
	)
	return eris.Wrap(err, "postgres: insert join")
}

func (s *PostgresStore) RefreshJoin(ctx context.Context, joinID string, version, nature string, potentialYearMatch bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listing_catalog_joins SET reconciliation_version = $1, nature = $2, potential_year_match = $3, updated_at = $4 WHERE id = $5`,
		version, nature, potentialYearMatch, time.Now().UTC(), joinID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: refresh join %s", joinID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("join not found: %s", joinID)
	}
	return nil
}

func (s *PostgresStore) SupersedeJoinsBeforeVersion(ctx context.Context, listingID string, version string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE listing_catalog_joins SET status = 'superseded', updated_at = $1 WHERE listing_id = $2 AND status = 'active' AND reconciliation_version != $3`,
		time.Now().UTC(), listingID, version,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: supersede joins for listing %s", listingID)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) DeleteJoinsBeforeVersion(ctx context.Context, listingID string, version string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM listing_catalog_joins WHERE listing_id = $1 AND status = 'active' AND reconciliation_version != $2`,
		listingID, version,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete joins for listing %s", listingID)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListJoinsForListings(ctx context.Context, listingIDs []string) ([]model.ListingCatalogJoin, error) {
	if len(listingIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+joinColumns+` FROM listing_catalog_joins WHERE listing_id = ANY($1)`,
		listingIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list joins for listings")
	}
	defer rows.Close()

	var joins []model.ListingCatalogJoin
	for rows.Next() {
		j, err := scanJoin(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan join")
		}
		joins = append(joins, *j)
	}
	return joins, eris.Wrap(rows.Err(), "postgres: list joins iterate")
}

func (s *PostgresStore) CountActiveJoins(ctx context.Context, dataset string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM listing_catalog_joins j JOIN listings l ON l.id = j.listing_id WHERE l.dataset = $1 AND j.status = 'active'`,
		dataset,
	).Scan(&count)
	return count, eris.Wrapf(err, "postgres: count active joins for %s", dataset)
}
