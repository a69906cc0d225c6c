package analysis

import (
	"time"
)

// SessionID tipe untuk Session
type SessionID string

// Status enum
type Status string

const (
	StatusIdle      Status = "idle"
	StatusUploading Status = "uploading"
	StatusAnalyzing Status = "analyzing"
	StatusComplete  Status = "complete"
)

// Busy reports whether a pipeline owns the session.
func (s Status) Busy() bool {
	return s == StatusUploading || s == StatusAnalyzing
}

// SelectedFile value object, metadata only
type SelectedFile struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	MediaType string `json:"type"`
}

// Result is produced once per session and never mutated afterwards.
type Result struct {
	RiskScore        int      `json:"risk_score"`
	Confidence       int      `json:"confidence"`
	Duration         string   `json:"duration"`
	DetectedPatterns []string `json:"detected_patterns"`
	Recommendations  []string `json:"recommendations"`
}

// Aggregate Root: Session
type Session struct {
	ID        SessionID     `json:"id"`
	TenantID  string        `json:"tenant_id"`
	Status    Status        `json:"status"`
	File      *SelectedFile `json:"file,omitempty"`
	Result    *Result       `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	ObjectURL string        `json:"object_url,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`

	// localPath is the buffered upload on disk, consumed by the upload phase.
	localPath string
}

// LocalPath returns the on-disk copy of the selected file, if any.
func (s *Session) LocalPath() string { return s.localPath }

// Clone returns a deep copy safe to hand out of a store.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.File != nil {
		f := *s.File
		c.File = &f
	}
	if s.Result != nil {
		r := s.Result.clone()
		c.Result = &r
	}
	return &c
}

func (r Result) clone() Result {
	c := r
	c.DetectedPatterns = append([]string(nil), r.DetectedPatterns...)
	c.Recommendations = append([]string(nil), r.Recommendations...)
	return c
}

// RecordStatus of a history entry
type RecordStatus string

const (
	RecordProcessing RecordStatus = "processing"
	RecordCompleted  RecordStatus = "completed"
	RecordFailed     RecordStatus = "failed"
)

// Analysis is the dashboard history row for one session.
type Analysis struct {
	ID         SessionID    `json:"id"`
	TenantID   string       `json:"tenant_id"`
	FileName   string       `json:"file_name"`
	SizeBytes  int64        `json:"size_bytes"`
	MediaType  string       `json:"media_type"`
	Duration   string       `json:"duration"`
	RiskScore  int          `json:"risk_score"`
	Confidence int          `json:"confidence"`
	Status     RecordStatus `json:"status"`
	ObjectURL  string       `json:"object_url,omitempty"`
	AnalysisMS int64        `json:"analysis_ms"`
	UploadedAt time.Time    `json:"uploaded_at"`
}

// Summary aggregates history for the dashboard stat cards.
type Summary struct {
	TotalScans         int     `json:"total_scans"`
	SafeCalls          int     `json:"safe_calls"`
	ThreatsDetected    int     `json:"threats_detected"`
	AvgAnalysisSeconds float64 `json:"avg_analysis_seconds"`
}
