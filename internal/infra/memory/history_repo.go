package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/bryanwahyu/voiceguard/internal/domain/analysis"
)

// HistoryRepository is the in-process analysis history used when no
// database driver is configured.
type HistoryRepository struct {
	mu      sync.RWMutex
	records map[domain.SessionID]*domain.Analysis
	now     func() time.Time
}

func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{
		records: make(map[domain.SessionID]*domain.Analysis),
		now:     time.Now,
	}
}

// Save upserts by id.
func (r *HistoryRepository) Save(_ context.Context, a *domain.Analysis) error {
	cp := *a
	if cp.UploadedAt.IsZero() {
		cp.UploadedAt = r.now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[cp.ID] = &cp
	return nil
}

// Latest returns the newest records of tenant first.
func (r *HistoryRepository) Latest(_ context.Context, tenant string, limit int) ([]*domain.Analysis, error) {
	if limit <= 0 {
		limit = 20
	}
	out := r.forTenant(tenant)
	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *HistoryRepository) Summary(_ context.Context, tenant string, sinceDays int) (domain.Summary, error) {
	if sinceDays <= 0 {
		sinceDays = 7
	}
	cut := r.now().AddDate(0, 0, -sinceDays)
	return domain.Summarize(r.forTenant(tenant), cut), nil
}

func (r *HistoryRepository) forTenant(tenant string) []*domain.Analysis {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Analysis, 0, len(r.records))
	for _, a := range r.records {
		if a.TenantID != tenant {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out
}

// SeedDemo inserts the sample recordings shown on a fresh dashboard.
func SeedDemo(ctx context.Context, repo domain.Repository, tenant string, now time.Time) error {
	demo := []struct {
		name     string
		duration string
		score    int
		daysAgo  int
	}{
		{"suspicious_call_jan_08.mp3", "3:45", 85, 0},
		{"bank_call_verification.wav", "2:12", 15, 1},
		{"family_member_call.mp3", "4:30", 45, 2},
		{"tech_support_recording.wav", "8:15", 92, 3},
	}
	for i, d := range demo {
		mediaType := "audio/mpeg"
		if strings.HasSuffix(d.name, ".wav") {
			mediaType = "audio/wav"
		}
		a := &domain.Analysis{
			ID:         domain.SessionID(fmt.Sprintf("demo-%s-%d", tenant, i+1)),
			TenantID:   tenant,
			FileName:   d.name,
			MediaType:  mediaType,
			Duration:   d.duration,
			RiskScore:  d.score,
			Confidence: 90,
			Status:     domain.RecordCompleted,
			AnalysisMS: 3200,
			UploadedAt: now.AddDate(0, 0, -d.daysAgo),
		}
		if err := repo.Save(ctx, a); err != nil {
			return err
		}
	}
	return nil
}
