package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/dutchgtr/bricktrack/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It serves local
// single-process runs; Postgres is the production backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
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
	metadata      TEXT,
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME,
	updated_at    DATETIME NOT NULL,
	last_update   DATETIME,
	timeout_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_dataset_status ON jobs(dataset, status);
CREATE INDEX IF NOT EXISTS idx_jobs_dataset_stage ON jobs(dataset, stage, started_at DESC);

CREATE TABLE IF NOT EXISTS raw_listings (
	id             TEXT PRIMARY KEY,
	dataset        TEXT NOT NULL,
	capture_job_id TEXT NOT NULL,
	external_id    TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	description    TEXT NOT NULL DEFAULT '',
	price          INTEGER NOT NULL DEFAULT 0,
	url            TEXT NOT NULL DEFAULT '',
	captured_at    DATETIME NOT NULL,
	enriched_at    DATETIME,
	UNIQUE (capture_job_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_raw_listings_capture_job ON raw_listings(capture_job_id);

CREATE TABLE IF NOT EXISTS listings (
	id                     TEXT PRIMARY KEY,
	dataset                TEXT NOT NULL,
	external_id            TEXT NOT NULL,
	title                  TEXT NOT NULL DEFAULT '',
	description            TEXT NOT NULL DEFAULT '',
	sanitised_title        TEXT NOT NULL DEFAULT '',
	sanitised_description  TEXT NOT NULL DEFAULT '',
	price                  INTEGER NOT NULL DEFAULT 0,
	url                    TEXT NOT NULL DEFAULT '',
	piece_count            INTEGER NOT NULL DEFAULT 0,
	piece_count_estimated  INTEGER NOT NULL DEFAULT 0,
	minifig_count          INTEGER NOT NULL DEFAULT 0,
	condition              TEXT NOT NULL DEFAULT '',
	reconciled_at          DATETIME,
	reconciliation_version TEXT,
	created_at             DATETIME NOT NULL,
	updated_at             DATETIME NOT NULL,
	UNIQUE (dataset, external_id)
);

CREATE INDEX IF NOT EXISTS idx_listings_dataset ON listings(dataset);

CREATE TABLE IF NOT EXISTS catalog_entries (
	id         TEXT PRIMARY KEY,
	set_number TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	year       INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS listing_catalog_joins (
	id                     TEXT PRIMARY KEY,
	listing_id             TEXT NOT NULL REFERENCES listings(id),
	catalog_entry_id       TEXT NOT NULL REFERENCES catalog_entries(id),
	nature                 TEXT NOT NULL DEFAULT 'mentioned',
	reconciliation_version TEXT NOT NULL,
	status                 TEXT NOT NULL DEFAULT 'active',
	potential_year_match   INTEGER NOT NULL DEFAULT 0,
	created_at             DATETIME NOT NULL,
	updated_at             DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_joins_one_active
	ON listing_catalog_joins(listing_id, catalog_entry_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_joins_listing ON listing_catalog_joins(listing_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

// placeholders returns "?, ?, ..." for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (s *SQLiteStore) CreateJob(ctx context.Context, stage model.StageType, dataset string, meta *model.JobMetadata, timeout time.Duration) (*model.Job, error) {
	id := uuid.New().String()
	now := time.Now().UTC()
	timeoutAt := now.Add(timeout)

	var metaJSON any
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: marshal job metadata")
		}
		metaJSON = string(b)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, stage, dataset, status, metadata, started_at, updated_at, timeout_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(stage), dataset, string(model.JobStatusRunning), metaJSON, now, now, timeoutAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
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

func scanJobSQLite(row rowScanner) (*model.Job, error) {
	var j model.Job
	var message, errorMessage, metaJSON *string
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
		if err := json.Unmarshal([]byte(*metaJSON), j.Metadata); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal job metadata")
		}
	}
	return &j, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	j, err := scanJobSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return j, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any

	if filter.Dataset != "" {
		query += ` AND dataset = ?`
		args = append(args, filter.Dataset)
	}
	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJobSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) FindRunningJob(ctx context.Context, dataset string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE dataset = ? AND status = 'running' ORDER BY started_at DESC LIMIT 1`,
		dataset,
	)
	j, err := scanJobSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: find running job for %s", dataset)
	}
	return j, nil
}

func (s *SQLiteStore) CompletedStages(ctx context.Context, dataset string) ([]model.StageType, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT stage FROM jobs WHERE dataset = ? AND status = 'completed'`,
		dataset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: completed stages for %s", dataset)
	}
	defer rows.Close()

	var stages []model.StageType
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage")
		}
		stages = append(stages, model.StageType(st))
	}
	return stages, eris.Wrap(rows.Err(), "sqlite: completed stages iterate")
}

func (s *SQLiteStore) LatestCompletedJob(ctx context.Context, dataset string, stage model.StageType) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE dataset = ? AND stage = ? AND status = 'completed' ORDER BY completed_at DESC, started_at DESC LIMIT 1`,
		dataset, string(stage),
	)
	j, err := scanJobSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: latest completed %s job for %s", stage, dataset)
	}
	return j, nil
}

func (s *SQLiteStore) UpdateJobProgress(ctx context.Context, jobID string, message string, delta model.JobStats) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET found_count = found_count + ?, new_count = new_count + ?, updated_count = updated_count + ?, message = ?, last_update = ?, updated_at = ? WHERE id = ? AND status = 'running'`,
		delta.Found, delta.New, delta.Updated, message, now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job progress %s", jobID)
	}
	return checkRowsAffected(res, "running job", jobID)
}

func (s *SQLiteStore) UpdateJobMetadata(ctx context.Context, jobID string, meta *model.JobMetadata) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal job metadata")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET metadata = ?, updated_at = ? WHERE id = ?`,
		string(metaJSON), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job metadata %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string, message string, final model.JobStats) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'completed', found_count = found_count + ?, new_count = new_count + ?, updated_count = updated_count + ?, message = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = 'running'`,
		final.Found, final.New, final.Updated, message, now, now, jobID,
	)
	return eris.Wrapf(err, "sqlite: complete job %s", jobID)
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID string, errorMessage string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', error_message = ?, completed_at = ?, updated_at = ? WHERE id = ? AND status = 'running'`,
		errorMessage, now, now, jobID,
	)
	return eris.Wrapf(err, "sqlite: fail job %s", jobID)
}

func (s *SQLiteStore) SweepStaleJobs(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'failed', error_message = 'timed out', completed_at = ?, updated_at = ? WHERE status = 'running' AND timeout_at < ?`,
		now.UTC(), now.UTC(), now.UTC(),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sweep stale jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: sweep stale jobs rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) InsertRawListings(ctx context.Context, listings []model.RawListing) (int64, error) {
	if len(listings) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert raw listings")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var n int64
	for _, l := range listings {
		id := l.ID
		if id == "" {
			id = uuid.New().String()
		}
		capturedAt := l.CapturedAt
		if capturedAt.IsZero() {
			capturedAt = now
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO raw_listings (id, dataset, capture_job_id, external_id, title, description, price, url, captured_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (capture_job_id, external_id) DO UPDATE SET title = excluded.title, description = excluded.description, price = excluded.price, url = excluded.url`,
			id, l.Dataset, l.CaptureJobID, l.ExternalID, l.Title, l.Description, l.Price, l.URL, capturedAt,
		)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: insert raw listing")
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert raw listings")
	}
	return n, nil
}

func (s *SQLiteStore) ListRawListingsByCaptureJob(ctx context.Context, captureJobID string) ([]model.RawListing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dataset, capture_job_id, external_id, title, description, price, url, captured_at, enriched_at FROM raw_listings WHERE capture_job_id = ? ORDER BY captured_at ASC`,
		captureJobID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list raw listings for job %s", captureJobID)
	}
	defer rows.Close()

	var listings []model.RawListing
	for rows.Next() {
		var l model.RawListing
		if err := rows.Scan(&l.ID, &l.Dataset, &l.CaptureJobID, &l.ExternalID, &l.Title, &l.Description, &l.Price, &l.URL, &l.CapturedAt, &l.EnrichedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan raw listing")
		}
		listings = append(listings, l)
	}
	return listings, eris.Wrap(rows.Err(), "sqlite: list raw listings iterate")
}

func (s *SQLiteStore) MarkRawListingEnriched(ctx context.Context, rawID string, description string, price int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE raw_listings SET description = ?, price = ?, enriched_at = ? WHERE id = ?`,
		description, price, time.Now().UTC(), rawID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark raw listing enriched %s", rawID)
	}
	return checkRowsAffected(res, "raw_listing", rawID)
}

func (s *SQLiteStore) MaterializeCaptured(ctx context.Context, dataset string, captureJobID string) (int64, int64, error) {
	raws, err := s.ListRawListingsByCaptureJob(ctx, captureJobID)
	if err != nil {
		return 0, 0, err
	}

	// Keep the most recently captured row per external id.
	latest := make(map[string]model.RawListing, len(raws))
	for _, r := range raws {
		if r.Dataset != dataset {
			continue
		}
		prev, ok := latest[r.ExternalID]
		if !ok || r.CapturedAt.After(prev.CapturedAt) {
			latest[r.ExternalID] = r
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: begin materialize")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var created, updated int64
	for _, r := range latest {
		res, err := tx.ExecContext(ctx,
			`UPDATE listings SET title = ?, description = ?, price = ?, url = ?, updated_at = ? WHERE dataset = ? AND external_id = ?`,
			r.Title, r.Description, r.Price, r.URL, now, dataset, r.ExternalID,
		)
		if err != nil {
			return 0, 0, eris.Wrap(err, "sqlite: materialize update")
		}
		if n, _ := res.RowsAffected(); n > 0 {
			updated += n
			continue
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO listings (id, dataset, external_id, title, description, price, url, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.New().String(), dataset, r.ExternalID, r.Title, r.Description, r.Price, r.URL, now, now,
		)
		if err != nil {
			return 0, 0, eris.Wrap(err, "sqlite: materialize insert")
		}
		created++
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, eris.Wrap(err, "sqlite: commit materialize")
	}
	return created, updated, nil
}

func scanListingSQLite(row rowScanner) (*model.Listing, error) {
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

func (s *SQLiteStore) GetListing(ctx context.Context, listingID string) (*model.Listing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = ?`, listingID)
	l, err := scanListingSQLite(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get listing %s", listingID)
	}
	return l, nil
}

func (s *SQLiteStore) GetListingsByIDs(ctx context.Context, ids []string) ([]model.Listing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get listings by ids")
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListingSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan listing")
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "sqlite: get listings by ids iterate")
}

func (s *SQLiteStore) ListListingIDs(ctx context.Context, dataset string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM listings WHERE dataset = ? ORDER BY created_at ASC`,
		dataset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list listing ids for %s", dataset)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan listing id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: list listing ids iterate")
}

func (s *SQLiteStore) ListUnsanitisedListings(ctx context.Context, dataset string) ([]model.Listing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE dataset = ? AND sanitised_title = '' AND sanitised_description = '' ORDER BY created_at ASC`,
		dataset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list unsanitised listings for %s", dataset)
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListingSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan listing")
		}
		listings = append(listings, *l)
	}
	return listings, eris.Wrap(rows.Err(), "sqlite: list unsanitised iterate")
}

func (s *SQLiteStore) UpdateListingSanitised(ctx context.Context, listingID string, title, description string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET sanitised_title = ?, sanitised_description = ?, updated_at = ? WHERE id = ?`,
		title, description, time.Now().UTC(), listingID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update listing sanitised %s", listingID)
	}
	return checkRowsAffected(res, "listing", listingID)
}

func (s *SQLiteStore) UpdateListingAttributes(ctx context.Context, listingID string, pieceCount int, pieceEstimated bool, minifigCount int, condition string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET piece_count = ?, piece_count_estimated = ?, minifig_count = ?, condition = ?, updated_at = ? WHERE id = ?`,
		pieceCount, pieceEstimated, minifigCount, condition, time.Now().UTC(), listingID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update listing attributes %s", listingID)
	}
	return checkRowsAffected(res, "listing", listingID)
}

func (s *SQLiteStore) MarkListingReconciled(ctx context.Context, listingID string, version string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET reconciled_at = ?, reconciliation_version = ?, updated_at = ? WHERE id = ?`,
		now, version, now, listingID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark listing reconciled %s", listingID)
	}
	return checkRowsAffected(res, "listing", listingID)
}

func (s *SQLiteStore) CountListings(ctx context.Context, dataset string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings WHERE dataset = ?`, dataset).Scan(&count)
	return count, eris.Wrapf(err, "sqlite: count listings for %s", dataset)
}

func (s *SQLiteStore) UpsertCatalogEntries(ctx context.Context, entries []model.CatalogEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert catalog entries")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var n int64
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = uuid.New().String()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO catalog_entries (id, set_number, name, year, created_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (set_number) DO UPDATE SET name = excluded.name, year = excluded.year`,
			id, e.SetNumber, e.Name, e.Year, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert catalog entry %s", e.SetNumber)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert catalog entries")
	}
	return n, nil
}

func scanCatalogEntrySQLite(row rowScanner) (*model.CatalogEntry, error) {
	var e model.CatalogEntry
	if err := row.Scan(&e.ID, &e.SetNumber, &e.Name, &e.Year, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *SQLiteStore) FindCatalogEntryBySetNumber(ctx context.Context, setNumber string) (*model.CatalogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, set_number, name, year, created_at FROM catalog_entries WHERE set_number = ?`,
		setNumber,
	)
	e, err := scanCatalogEntrySQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: find catalog entry %s", setNumber)
	}
	return e, nil
}

func (s *SQLiteStore) FindCatalogEntryByPrefix(ctx context.Context, prefix string) (*model.CatalogEntry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, set_number, name, year, created_at FROM catalog_entries WHERE set_number LIKE ? ORDER BY set_number ASC LIMIT 1`,
		prefix+"-%",
	)
	e, err := scanCatalogEntrySQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: find catalog entry by prefix %s", prefix)
	}
	return e, nil
}

func (s *SQLiteStore) GetCatalogEntriesByIDs(ctx context.Context, ids []string) ([]model.CatalogEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, set_number, name, year, created_at FROM catalog_entries WHERE id IN (`+placeholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get catalog entries by ids")
	}
	defer rows.Close()

	var entries []model.CatalogEntry
	for rows.Next() {
		e, err := scanCatalogEntrySQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan catalog entry")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: get catalog entries iterate")
}

func scanJoinSQLite(row rowScanner) (*model.ListingCatalogJoin, error) {
	var j model.ListingCatalogJoin
	if err := row.Scan(&j.ID, &j.ListingID, &j.CatalogEntryID, &j.Nature,
		&j.ReconciliationVer, &j.Status, &j.PotentialYearMatch, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *SQLiteStore) ActiveJoinsForListing(ctx context.Context, listingID string) ([]model.ListingCatalogJoin, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+joinColumns+` FROM listing_catalog_joins WHERE listing_id = ? AND status = 'active'`,
		listingID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: active joins for listing %s", listingID)
	}
	defer rows.Close()

	var joins []model.ListingCatalogJoin
	for rows.Next() {
		j, err := scanJoinSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan join")
		}
		joins = append(joins, *j)
	}
	return joins, eris.Wrap(rows.Err(), "sqlite: active joins iterate")
}

func (s *SQLiteStore) InsertJoin(ctx context.Context, join *model.ListingCatalogJoin) error {
	if join.ID == "" {
		join.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	join.CreatedAt = now
	join.UpdatedAt = now
	if join.Status == "" {
		join.Status = model.JoinStatusActive
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO listing_catalog_joins (id, listing_id, catalog_entry_id, nature, reconciliation_version, status, potential_year_match, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		join.ID, join.ListingID, join.CatalogEntryID, join.Nature, join.ReconciliationVer, string(join.Status), join.PotentialYearMatch, now, now,
	)
	return eris.Wrap(err, "sqlite: insert join")
}

func (s *SQLiteStore) RefreshJoin(ctx context.Context, joinID string, version, nature string, potentialYearMatch bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE listing_catalog_joins SET reconciliation_version = ?, nature = ?, potential_year_match = ?, updated_at = ? WHERE id = ?`,
		version, nature, potentialYearMatch, time.Now().UTC(), joinID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: refresh join %s", joinID)
	}
	return checkRowsAffected(res, "join", joinID)
}

func (s *SQLiteStore) SupersedeJoinsBeforeVersion(ctx context.Context, listingID string, version string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE listing_catalog_joins SET status = 'superseded', updated_at = ? WHERE listing_id = ? AND status = 'active' AND reconciliation_version != ?`,
		time.Now().UTC(), listingID, version,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: supersede joins for listing %s", listingID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: supersede joins rows affected")
}

func (s *SQLiteStore) DeleteJoinsBeforeVersion(ctx context.Context, listingID string, version string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM listing_catalog_joins WHERE listing_id = ? AND status = 'active' AND reconciliation_version != ?`,
		listingID, version,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete joins for listing %s", listingID)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: delete joins rows affected")
}

func (s *SQLiteStore) ListJoinsForListings(ctx context.Context, listingIDs []string) ([]model.ListingCatalogJoin, error) {
	if len(listingIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(listingIDs))
	for i, id := range listingIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+joinColumns+` FROM listing_catalog_joins WHERE listing_id IN (`+placeholders(len(listingIDs))+`)`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list joins for listings")
	}
	defer rows.Close()

	var joins []model.ListingCatalogJoin
	for rows.Next() {
		j, err := scanJoinSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan join")
		}
		joins = append(joins, *j)
	}
	return joins, eris.Wrap(rows.Err(), "sqlite: list joins iterate")
}

func (s *SQLiteStore) CountActiveJoins(ctx context.Context, dataset string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listing_catalog_joins j JOIN listings l ON l.id = j.listing_id WHERE l.dataset = ? AND j.status = 'active'`,
		dataset,
	).Scan(&count)
	return count, eris.Wrapf(err, "sqlite: count active joins for %s", dataset)
}
