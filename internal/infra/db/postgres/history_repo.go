package postgres

import (
	"context"
	"database/sql"
	"time"

	domain "github.com/bryanwahyu/voiceguard/internal/domain/analysis"
)

const schema = `
CREATE TABLE IF NOT EXISTS voice_analyses (
  id          VARCHAR(128) PRIMARY KEY,
  tenant_id   VARCHAR(64)  NOT NULL,
  file_name   VARCHAR(255) NOT NULL,
  size_bytes  BIGINT       NOT NULL DEFAULT 0,
  media_type  VARCHAR(64)  NOT NULL,
  duration    VARCHAR(16)  NOT NULL DEFAULT '',
  risk_score  INTEGER      NOT NULL DEFAULT 0,
  confidence  INTEGER      NOT NULL DEFAULT 0,
  status      VARCHAR(16)  NOT NULL,
  object_url  TEXT,
  analysis_ms BIGINT       NOT NULL DEFAULT 0,
  uploaded_at TIMESTAMPTZ  NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_voice_analyses_tenant ON voice_analyses (tenant_id, uploaded_at DESC);`

type HistoryRepository struct{ db *sql.DB }

func NewHistoryRepository(db *sql.DB) *HistoryRepository { return &HistoryRepository{db: db} }

// Migrate creates the history table when missing.
func (r *HistoryRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Save inserts or updates an analysis record
func (r *HistoryRepository) Save(ctx context.Context, a *domain.Analysis) error {
	const q = `
INSERT INTO voice_analyses
  (id, tenant_id, file_name, size_bytes, media_type, duration,
   risk_score, confidence, status, object_url, analysis_ms, uploaded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO UPDATE SET
  duration=EXCLUDED.duration,
  risk_score=EXCLUDED.risk_score,
  confidence=EXCLUDED.confidence,
  status=EXCLUDED.status,
  object_url=EXCLUDED.object_url,
  analysis_ms=EXCLUDED.analysis_ms;`
	uploaded := a.UploadedAt
	if uploaded.IsZero() {
		uploaded = time.Now()
	}
	_, err := r.db.ExecContext(ctx, q,
		a.ID, stringOrDash(a.TenantID), stringOrDash(a.FileName), a.SizeBytes, stringOrDash(a.MediaType), a.Duration,
		a.RiskScore, a.Confidence, stringOrDash(string(a.Status)), a.ObjectURL, a.AnalysisMS, uploaded.UTC(),
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
       risk_score, confidence, status, COALESCE(object_url, ''), analysis_ms, uploaded_at
FROM voice_analyses
WHERE tenant_id=$1
ORDER BY uploaded_at DESC, id DESC
LIMIT $2;`
	rows, err := r.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Analysis
	for rows.Next() {
		var a domain.Analysis
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.FileName, &a.SizeBytes, &a.MediaType, &a.Duration,
			&a.RiskScore, &a.Confidence, &a.Status, &a.ObjectURL, &a.AnalysisMS, &a.UploadedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// Summary counts analyses since N days
func (r *HistoryRepository) Summary(ctx context.Context, tenant string, sinceDays int) (domain.Summary, error) {
	if sinceDays <= 0 {
		sinceDays = 7
	}
	cut := time.Now().UTC().AddDate(0, 0, -sinceDays)
	const q = `
SELECT COUNT(*),
       COALESCE(SUM(CASE WHEN status='completed' AND risk_score < $1 THEN 1 ELSE 0 END),0),
       COALESCE(SUM(CASE WHEN status='completed' AND risk_score >= $1 THEN 1 ELSE 0 END),0),
       COALESCE(AVG(CASE WHEN status='completed' THEN analysis_ms END),0)::float8
FROM voice_analyses
WHERE tenant_id=$2 AND uploaded_at >= $3;`
	var s domain.Summary
	var avgMS float64
	if err := r.db.QueryRowContext(ctx, q, domain.MediumFrom, tenant, cut).
		Scan(&s.TotalScans, &s.SafeCalls, &s.ThreatsDetected, &avgMS); err != nil {
		return domain.Summary{}, err
	}
	s.AvgAnalysisSeconds = avgMS / 1000
	return s, nil
}
