package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	domain "github.com/bryanwahyu/voiceguard/internal/domain/analysis"
)

// uploaded_at is stored as unix milliseconds so range filters compare numerically.
const schema = `
CREATE TABLE IF NOT EXISTS voice_analyses (
  id          TEXT    PRIMARY KEY,
  tenant_id   TEXT    NOT NULL,
  file_name   TEXT    NOT NULL,
  size_bytes  INTEGER NOT NULL DEFAULT 0,
  media_type  TEXT    NOT NULL,
  duration    TEXT    NOT NULL DEFAULT '',
  risk_score  INTEGER NOT NULL DEFAULT 0,
  confidence  INTEGER NOT NULL DEFAULT 0,
  status      TEXT    NOT NULL,
  object_url  TEXT    NOT NULL DEFAULT '',
  analysis_ms INTEGER NOT NULL DEFAULT 0,
  uploaded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_voice_analyses_tenant ON voice_analyses (tenant_id, uploaded_at);`

// Open opens (creating if needed) the database file at path and applies the schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer; avoids SQLITE_BUSY between pipeline goroutines
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA busy_timeout=5000;", schema} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return db, nil
}

type HistoryRepository struct {
	db *sql.DB
}

func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Save inserts or updates an analysis record
func (r *HistoryRepository) Save(ctx context.Context, a *domain.Analysis) error {
	const q = `
INSERT INTO voice_analyses
  (id, tenant_id, file_name, size_bytes, media_type, duration,
   risk_score, confidence, status, object_url, analysis_ms, uploaded_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (id) DO UPDATE SET
  duration=excluded.duration,
  risk_score=excluded.risk_score,
  confidence=excluded.confidence,
  status=excluded.status,
  object_url=excluded.object_url,
  analysis_ms=excluded.analysis_ms;`
	uploaded := a.UploadedAt
	if uploaded.IsZero() {
		uploaded = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		string(a.ID), a.TenantID, a.FileName, a.SizeBytes, a.MediaType, a.Duration,
		a.RiskScore, a.Confidence, string(a.Status), a.ObjectURL, a.AnalysisMS, uploaded.UnixMilli(),
	)
	return err
}

// Latest analyses per tenant
func (r *HistoryRepository) Latest(ctx context.Context, tenant string, limit int) ([]*domain.Analysis, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, tenant_id, file_name, size_bytes, media_type, duration,
       risk_score, confidence, status, object_url, analysis_ms, uploaded_at
FROM voice_analyses
WHERE tenant_id=?
ORDER BY uploaded_at DESC, id DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Analysis
	for rows.Next() {
		var a domain.Analysis
		var uploadedMS int64
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.FileName, &a.SizeBytes, &a.MediaType, &a.Duration,
			&a.RiskScore, &a.Confidence, &a.Status, &a.ObjectURL, &a.AnalysisMS, &uploadedMS,
		); err != nil {
			return nil, err
		}
		a.UploadedAt = time.UnixMilli(uploadedMS).UTC()
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Summary counts analyses since N days
func (r *HistoryRepository) Summary(ctx context.Context, tenant string, sinceDays int) (domain.Summary, error) {
	if sinceDays <= 0 {
		sinceDays = 7
	}
	cut := time.Now().AddDate(0, 0, -sinceDays).UnixMilli()
	const q = `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN status='completed' AND risk_score < ? THEN 1 ELSE 0 END),0),
       COALESCE(SUM(CASE WHEN status='completed' AND risk_score >= ? THEN 1 ELSE 0 END),0),
       COALESCE(AVG(CASE WHEN status='completed' THEN analysis_ms END),0.0)
FROM voice_analyses
WHERE tenant_id=? AND uploaded_at >= ?;`
	var s domain.Summary
	var avgMS float64
	if err := r.db.QueryRowContext(ctx, q, domain.MediumFrom, domain.MediumFrom, tenant, cut).
		Scan(&s.TotalScans, &s.SafeCalls, &s.ThreatsDetected, &avgMS); err != nil {
		return domain.Summary{}, err
	}
	s.AvgAnalysisSeconds = avgMS / 1000
	return s, nil
}
