package ledger

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/gavelhound/sourcing-cli/internal/db"
	"github.com/gavelhound/sourcing-cli/internal/model"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
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
		return nil, eris.Wrap(err, "ledger: parse postgres config")
	}
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: create postgres pool")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS hunts (
	id              UUID PRIMARY KEY,
	fingerprint_id  TEXT NOT NULL UNIQUE,
	priority        INT NOT NULL DEFAULT 0,
	interval_secs   BIGINT NOT NULL,
	last_scanned_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scans (
	id                 UUID PRIMARY KEY,
	hunt_id            UUID NOT NULL REFERENCES hunts(id),
	status             TEXT NOT NULL DEFAULT 'running',
	candidates_checked INT NOT NULL DEFAULT 0,
	matches_found      INT NOT NULL DEFAULT 0,
	alerts_emitted     INT NOT NULL DEFAULT 0,
	partial            BOOLEAN NOT NULL DEFAULT false,
	error              TEXT,
	started_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at       TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS matches (
	id             UUID PRIMARY KEY,
	fingerprint_id TEXT NOT NULL,
	listing_id     TEXT NOT NULL,
	score          DOUBLE PRECISION NOT NULL,
	confidence     TEXT NOT NULL,
	decision       TEXT NOT NULL,
	gap_abs        DOUBLE PRECISION,
	gap_pct        DOUBLE PRECISION,
	reasons        JSONB NOT NULL DEFAULT '[]',
	revision       INT NOT NULL DEFAULT 1,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (fingerprint_id, listing_id)
);

CREATE TABLE IF NOT EXISTS alerts (
	id              UUID PRIMARY KEY,
	match_id        UUID NOT NULL REFERENCES matches(id),
	fingerprint_id  TEXT NOT NULL,
	listing_id      TEXT NOT NULL,
	type            TEXT NOT NULL,
	payload         JSONB NOT NULL,
	acknowledged_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_hunts_due ON hunts(priority DESC, last_scanned_at ASC NULLS FIRST);
CREATE INDEX IF NOT EXISTS idx_scans_hunt ON scans(hunt_id);
CREATE INDEX IF NOT EXISTS idx_matches_decision ON matches(decision);
CREATE INDEX IF NOT EXISTS idx_alerts_key ON alerts(fingerprint_id, listing_id, type, created_at DESC);
`

// Migrate creates the ledger schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "ledger: migrate postgres")
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const upsertMatchSQL = `
INSERT INTO matches (id, fingerprint_id, listing_id, score, confidence, decision, gap_abs, gap_pct, reasons, revision, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $10)
ON CONFLICT (fingerprint_id, listing_id) DO UPDATE SET
	score      = EXCLUDED.score,
	confidence = EXCLUDED.confidence,
	decision   = EXCLUDED.decision,
	gap_abs    = EXCLUDED.gap_abs,
	gap_pct    = EXCLUDED.gap_pct,
	reasons    = EXCLUDED.reasons,
	revision   = matches.revision + 1,
	updated_at = EXCLUDED.updated_at
RETURNING id, revision, created_at`

// UpsertMatch inserts or refreshes the single open match for the pair. The
// ON CONFLICT clause is the per-key compare-and-swap: two overlapping scans
// racing on the same pair serialize on the unique index, never duplicate.
func (s *PostgresStore) UpsertMatch(ctx context.Context, m *model.Match) (*model.Match, error) {
	reasonsJSON, err := json.Marshal(m.Reasons)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: marshal reasons")
	}

	now := time.Now().UTC()
	out := *m
	out.UpdatedAt = now

	err = s.pool.QueryRow(ctx, upsertMatchSQL,
		uuid.New().String(), m.FingerprintID, m.ListingID,
		m.Score, string(m.Confidence), string(m.Decision),
		m.GapAbs, m.GapPct, reasonsJSON, now,
	).Scan(&out.ID, &out.Revision, &out.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: upsert match %s/%s", m.FingerprintID, m.ListingID)
	}
	return &out, nil
}

// ListMatches returns matches matching the filter, newest first.
func (s *PostgresStore) ListMatches(ctx context.Context, f MatchFilter) ([]model.Match, error) {
	query := `SELECT id, fingerprint_id, listing_id, score, confidence, decision, gap_abs, gap_pct, reasons, revision, created_at, updated_at
		FROM matches WHERE 1=1`
	args := []any{}
	if f.FingerprintID != "" {
		args = append(args, f.FingerprintID)
		query += ` AND fingerprint_id = $` + strconv.Itoa(len(args))
	}
	if f.Decision != "" {
		args = append(args, string(f.Decision))
		query += ` AND decision = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY updated_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list matches")
	}
	defer rows.Close()

	var out []model.Match
	for rows.Next() {
		var m model.Match
		var reasonsJSON []byte
		if err := rows.Scan(&m.ID, &m.FingerprintID, &m.ListingID, &m.Score, &m.Confidence, &m.Decision,
			&m.GapAbs, &m.GapPct, &reasonsJSON, &m.Revision, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "ledger: scan match row")
		}
		if err := json.Unmarshal(reasonsJSON, &m.Reasons); err != nil {
			return nil, eris.Wrap(err, "ledger: unmarshal reasons")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "ledger: iterate matches")
}

// RecentAlertExists reports whether an alert of the given type exists for
// the pair since the cutoff. This is the cool-down gate.
func (s *PostgresStore) RecentAlertExists(ctx context.Context, fingerprintID, listingID string, typ model.AlertType, since time.Time) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM alerts WHERE fingerprint_id = $1 AND listing_id = $2 AND type = $3 AND created_at > $4)`,
		fingerprintID, listingID, string(typ), since,
	).Scan(&exists)
	if err != nil {
		return false, eris.Wrap(err, "ledger: recent alert check")
	}
	return exists, nil
}

// CreateAlert persists a new alert and fills in its id and creation time.
func (s *PostgresStore) CreateAlert(ctx context.Context, a *model.Alert) error {
	payloadJSON, err := json.Marshal(a.Payload)
	if err != nil {
		return eris.Wrap(err, "ledger: marshal alert payload")
	}

	a.ID = uuid.New().String()
	a.CreatedAt = time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO alerts (id, match_id, fingerprint_id, listing_id, type, payload, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.MatchID, a.FingerprintID, a.ListingID, string(a.Type), payloadJSON, a.CreatedAt,
	)
	return eris.Wrapf(err, "ledger: create alert for match %s", a.MatchID)
}

// AcknowledgeAlert sets the acknowledgement timestamp.
func (s *PostgresStore) AcknowledgeAlert(ctx context.Context, alertID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE alerts SET acknowledged_at = $1 WHERE id = $2 AND acknowledged_at IS NULL`,
		at, alertID,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: acknowledge alert %s", alertID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("ledger: alert %s not found or already acknowledged", alertID)
	}
	return nil
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *PostgresStore) ListAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, error) {
	query := `SELECT id, match_id, fingerprint_id, listing_id, type, payload, acknowledged_at, created_at FROM alerts WHERE 1=1`
	args := []any{}
	if f.Unacknowledged {
		query += ` AND acknowledged_at IS NULL`
	}
	if f.Type != "" {
		args = append(args, string(f.Type))
		query += ` AND type = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list alerts")
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var payloadJSON []byte
		if err := rows.Scan(&a.ID, &a.MatchID, &a.FingerprintID, &a.ListingID, &a.Type, &payloadJSON, &a.AcknowledgedAt, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "ledger: scan alert row")
		}
		if err := json.Unmarshal(payloadJSON, &a.Payload); err != nil {
			return nil, eris.Wrap(err, "ledger: unmarshal alert payload")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "ledger: iterate alerts")
}

// SeedHunts bulk-upserts hunts keyed by fingerprint id, refreshing priority
// and interval for hunts that already exist.
func (s *PostgresStore) SeedHunts(ctx context.Context, hunts []model.Hunt) (int64, error) {
	if len(hunts) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	rows := make([][]any, len(hunts))
	for i, h := range hunts {
		id := h.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows[i] = []any{id, h.FingerprintID, h.Priority, int64(h.Interval.Seconds()), now}
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "hunts",
		Columns:      []string{"id", "fingerprint_id", "priority", "interval_secs", "created_at"},
		ConflictKeys: []string{"fingerprint_id"},
		UpdateCols:   []string{"priority", "interval_secs"},
	}, rows)
}

// ListDueHunts returns hunts never scanned or scanned longer than their
// interval ago, highest priority and stalest first, bounded by limit.
func (s *PostgresStore) ListDueHunts(ctx context.Context, now time.Time, limit int) ([]model.Hunt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, fingerprint_id, priority, interval_secs, last_scanned_at, created_at
		FROM hunts
		WHERE last_scanned_at IS NULL
		   OR last_scanned_at + (interval_secs * interval '1 second') <= $1
		ORDER BY priority DESC, last_scanned_at ASC NULLS FIRST
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list due hunts")
	}
	defer rows.Close()

	var out []model.Hunt
	for rows.Next() {
		h, err := scanHunt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, eris.Wrap(rows.Err(), "ledger: iterate hunts")
}

// MarkHuntScanned advances the due-schedule bookkeeping for the hunt.
func (s *PostgresStore) MarkHuntScanned(ctx context.Context, huntID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE hunts SET last_scanned_at = $1 WHERE id = $2`,
		at, huntID,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: mark hunt scanned %s", huntID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("ledger: hunt %s not found", huntID)
	}
	return nil
}

// CreateScan opens a running scan row for the hunt.
func (s *PostgresStore) CreateScan(ctx context.Context, huntID string) (*model.Scan, error) {
	scan := &model.Scan{
		ID:        uuid.New().String(),
		HuntID:    huntID,
		Status:    model.ScanStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scans (id, hunt_id, status, started_at) VALUES ($1, $2, $3, $4)`,
		scan.ID, scan.HuntID, string(scan.Status), scan.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: create scan for hunt %s", huntID)
	}
	return scan, nil
}

// CompleteScan records counts and marks the scan ok.
func (s *PostgresStore) CompleteScan(ctx context.Context, scanID string, counts ScanCounts, partial bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scans SET status = $1, candidates_checked = $2, matches_found = $3, alerts_emitted = $4, partial = $5, completed_at = $6 WHERE id = $7`,
		string(model.ScanStatusOK), counts.CandidatesChecked, counts.MatchesFound, counts.AlertsEmitted, partial, time.Now().UTC(), scanID,
	)
	return eris.Wrapf(err, "ledger: complete scan %s", scanID)
}

// FailScan marks the scan errored with a hard failure reason.
func (s *PostgresStore) FailScan(ctx context.Context, scanID string, reason string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scans SET status = $1, error = $2, completed_at = $3 WHERE id = $4`,
		string(model.ScanStatusError), reason, time.Now().UTC(), scanID,
	)
	return eris.Wrapf(err, "ledger: fail scan %s", scanID)
}

func scanHunt(rows pgx.Rows) (model.Hunt, error) {
	var h model.Hunt
	var intervalSecs int64
	if err := rows.Scan(&h.ID, &h.FingerprintID, &h.Priority, &intervalSecs, &h.LastScannedAt, &h.CreatedAt); err != nil {
		return h, eris.Wrap(err, "ledger: scan hunt row")
	}
	h.Interval = time.Duration(intervalSecs) * time.Second
	return h, nil
}
