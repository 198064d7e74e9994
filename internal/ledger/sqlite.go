package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/gavelhound/sourcing-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the local/dev
// backend; Postgres is the production one.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: open sqlite")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "ledger: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS hunts (
	id              TEXT PRIMARY KEY,
	fingerprint_id  TEXT NOT NULL UNIQUE,
	priority        INTEGER NOT NULL DEFAULT 0,
	interval_secs   INTEGER NOT NULL,
	last_scanned_at DATETIME,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scans (
	id                 TEXT PRIMARY KEY,
	hunt_id            TEXT NOT NULL REFERENCES hunts(id),
	status             TEXT NOT NULL DEFAULT 'running',
	candidates_checked INTEGER NOT NULL DEFAULT 0,
	matches_found      INTEGER NOT NULL DEFAULT 0,
	alerts_emitted     INTEGER NOT NULL DEFAULT 0,
	partial            INTEGER NOT NULL DEFAULT 0,
	error              TEXT,
	started_at         DATETIME NOT NULL,
	completed_at       DATETIME
);

CREATE TABLE IF NOT EXISTS matches (
	id             TEXT PRIMARY KEY,
	fingerprint_id TEXT NOT NULL,
	listing_id     TEXT NOT NULL,
	score          REAL NOT NULL,
	confidence     TEXT NOT NULL,
	decision       TEXT NOT NULL,
	gap_abs        REAL,
	gap_pct        REAL,
	reasons        TEXT NOT NULL DEFAULT '[]',
	revision       INTEGER NOT NULL DEFAULT 1,
	created_at     DATETIME NOT NULL,
	updated_at     DATETIME NOT NULL,
	UNIQUE (fingerprint_id, listing_id)
);

CREATE TABLE IF NOT EXISTS alerts (
	id              TEXT PRIMARY KEY,
	match_id        TEXT NOT NULL REFERENCES matches(id),
	fingerprint_id  TEXT NOT NULL,
	listing_id      TEXT NOT NULL,
	type            TEXT NOT NULL,
	payload         TEXT NOT NULL,
	acknowledged_at DATETIME,
	created_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_hunts_due ON hunts(priority, last_scanned_at);
CREATE INDEX IF NOT EXISTS idx_scans_hunt ON scans(hunt_id);
CREATE INDEX IF NOT EXISTS idx_matches_decision ON matches(decision);
CREATE INDEX IF NOT EXISTS idx_alerts_key ON alerts(fingerprint_id, listing_id, type, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "ledger: migrate sqlite")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertMatch(ctx context.Context, m *model.Match) (*model.Match, error) {
	reasonsJSON, err := json.Marshal(m.Reasons)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: marshal reasons")
	}

	now := time.Now().UTC()
	out := *m
	out.UpdatedAt = now

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO matches (id, fingerprint_id, listing_id, score, confidence, decision, gap_abs, gap_pct, reasons, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (fingerprint_id, listing_id) DO UPDATE SET
			score = excluded.score, confidence = excluded.confidence, decision = excluded.decision,
			gap_abs = excluded.gap_abs, gap_pct = excluded.gap_pct, reasons = excluded.reasons,
			revision = matches.revision + 1, updated_at = excluded.updated_at
		RETURNING id, revision, created_at`,
		uuid.New().String(), m.FingerprintID, m.ListingID, m.Score, string(m.Confidence), string(m.Decision),
		m.GapAbs, m.GapPct, string(reasonsJSON), now, now,
	).Scan(&out.ID, &out.Revision, &out.CreatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: upsert match %s/%s", m.FingerprintID, m.ListingID)
	}
	return &out, nil
}

func (s *SQLiteStore) ListMatches(ctx context.Context, f MatchFilter) ([]model.Match, error) {
	query := `SELECT id, fingerprint_id, listing_id, score, confidence, decision, gap_abs, gap_pct, reasons, revision, created_at, updated_at
		FROM matches WHERE 1=1`
	args := []any{}
	if f.FingerprintID != "" {
		query += ` AND fingerprint_id = ?`
		args = append(args, f.FingerprintID)
	}
	if f.Decision != "" {
		query += ` AND decision = ?`
		args = append(args, string(f.Decision))
	}
	query += ` ORDER BY updated_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list matches")
	}
	defer rows.Close()

	var out []model.Match
	for rows.Next() {
		var m model.Match
		var reasonsJSON string
		if err := rows.Scan(&m.ID, &m.FingerprintID, &m.ListingID, &m.Score, &m.Confidence, &m.Decision,
			&m.GapAbs, &m.GapPct, &reasonsJSON, &m.Revision, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "ledger: scan match row")
		}
		if err := json.Unmarshal([]byte(reasonsJSON), &m.Reasons); err != nil {
			return nil, eris.Wrap(err, "ledger: unmarshal reasons")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "ledger: iterate matches")
}

func (s *SQLiteStore) RecentAlertExists(ctx context.Context, fingerprintID, listingID string, typ model.AlertType, since time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM alerts WHERE fingerprint_id = ? AND listing_id = ? AND type = ? AND created_at > ?`,
		fingerprintID, listingID, string(typ), since,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "ledger: recent alert check")
	}
	return n > 0, nil
}

func (s *SQLiteStore) CreateAlert(ctx context.Context, a *model.Alert) error {
	payloadJSON, err := json.Marshal(a.Payload)
	if err != nil {
		return eris.Wrap(err, "ledger: marshal alert payload")
	}

	a.ID = uuid.New().String()
	a.CreatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, match_id, fingerprint_id, listing_id, type, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.MatchID, a.FingerprintID, a.ListingID, string(a.Type), string(payloadJSON), a.CreatedAt,
	)
	return eris.Wrapf(err, "ledger: create alert for match %s", a.MatchID)
}

func (s *SQLiteStore) AcknowledgeAlert(ctx context.Context, alertID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET acknowledged_at = ? WHERE id = ? AND acknowledged_at IS NULL`,
		at, alertID,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: acknowledge alert %s", alertID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "ledger: rows affected")
	}
	if n == 0 {
		return eris.Errorf("ledger: alert %s not found or already acknowledged", alertID)
	}
	return nil
}

func (s *SQLiteStore) ListAlerts(ctx context.Context, f AlertFilter) ([]model.Alert, error) {
	query := `SELECT id, match_id, fingerprint_id, listing_id, type, payload, acknowledged_at, created_at FROM alerts WHERE 1=1`
	args := []any{}
	if f.Unacknowledged {
		query += ` AND acknowledged_at IS NULL`
	}
	if f.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(f.Type))
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list alerts")
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var a model.Alert
		var payloadJSON string
		if err := rows.Scan(&a.ID, &a.MatchID, &a.FingerprintID, &a.ListingID, &a.Type, &payloadJSON, &a.AcknowledgedAt, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "ledger: scan alert row")
		}
		if err := json.Unmarshal([]byte(payloadJSON), &a.Payload); err != nil {
			return nil, eris.Wrap(err, "ledger: unmarshal alert payload")
		}
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "ledger: iterate alerts")
}

func (s *SQLiteStore) SeedHunts(ctx context.Context, hunts []model.Hunt) (int64, error) {
	if len(hunts) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "ledger: begin seed tx")
	}
	defer tx.Rollback() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for _, h := range hunts {
		id := h.ID
		if id == "" {
			id = uuid.New().String()
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO hunts (id, fingerprint_id, priority, interval_secs, created_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (fingerprint_id) DO UPDATE SET priority = excluded.priority, interval_secs = excluded.interval_secs`,
			id, h.FingerprintID, h.Priority, int64(h.Interval.Seconds()), now,
		)
		if err != nil {
			return n, eris.Wrapf(err, "ledger: seed hunt %s", h.FingerprintID)
		}
		rows, _ := res.RowsAffected()
		n += rows
	}

	if err := tx.Commit(); err != nil {
		return n, eris.Wrap(err, "ledger: commit seed tx")
	}
	return n, nil
}

// ListDueHunts fetches hunts by priority and filters due-ness in Go, since
// SQLite cannot do per-row interval arithmetic on the stored timestamps.
// Fine at dev scale; the Postgres store pushes the predicate into SQL.
func (s *SQLiteStore) ListDueHunts(ctx context.Context, now time.Time, limit int) ([]model.Hunt, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fingerprint_id, priority, interval_secs, last_scanned_at, created_at
		FROM hunts ORDER BY priority DESC, last_scanned_at ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list due hunts")
	}
	defer rows.Close()

	var out []model.Hunt
	for rows.Next() {
		var h model.Hunt
		var intervalSecs int64
		if err := rows.Scan(&h.ID, &h.FingerprintID, &h.Priority, &intervalSecs, &h.LastScannedAt, &h.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "ledger: scan hunt row")
		}
		h.Interval = time.Duration(intervalSecs) * time.Second
		if h.Due(now) {
			out = append(out, h)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, eris.Wrap(rows.Err(), "ledger: iterate hunts")
}

func (s *SQLiteStore) MarkHuntScanned(ctx context.Context, huntID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE hunts SET last_scanned_at = ? WHERE id = ?`,
		at, huntID,
	)
	if err != nil {
		return eris.Wrapf(err, "ledger: mark hunt scanned %s", huntID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "ledger: rows affected")
	}
	if n == 0 {
		return eris.Errorf("ledger: hunt %s not found", huntID)
	}
	return nil
}

func (s *SQLiteStore) CreateScan(ctx context.Context, huntID string) (*model.Scan, error) {
	scan := &model.Scan{
		ID:        uuid.New().String(),
		HuntID:    huntID,
		Status:    model.ScanStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scans (id, hunt_id, status, started_at) VALUES (?, ?, ?, ?)`,
		scan.ID, scan.HuntID, string(scan.Status), scan.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: create scan for hunt %s", huntID)
	}
	return scan, nil
}

func (s *SQLiteStore) CompleteScan(ctx context.Context, scanID string, counts ScanCounts, partial bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scans SET status = ?, candidates_checked = ?, matches_found = ?, alerts_emitted = ?, partial = ?, completed_at = ? WHERE id = ?`,
		string(model.ScanStatusOK), counts.CandidatesChecked, counts.MatchesFound, counts.AlertsEmitted, partial, time.Now().UTC(), scanID,
	)
	return eris.Wrapf(err, "ledger: complete scan %s", scanID)
}

func (s *SQLiteStore) FailScan(ctx context.Context, scanID string, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE scans SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(model.ScanStatusError), reason, time.Now().UTC(), scanID,
	)
	return eris.Wrapf(err, "ledger: fail scan %s", scanID)
}
