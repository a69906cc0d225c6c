package analysis

import "context"

// SessionStore port, transient per-process session state
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, tenant string, id SessionID) (*Session, error)
	// Update applies fn atomically and returns the stored copy.
	Update(ctx context.Context, tenant string, id SessionID, fn func(*Session) error) (*Session, error)
	Delete(ctx context.Context, tenant string, id SessionID) error
}

// Repository port (interface untuk persistence history)
type Repository interface {
	Save(ctx context.Context, a *Analysis) error
	Latest(ctx context.Context, tenant string, limit int) ([]*Analysis, error)
	Summary(ctx context.Context, tenant string, sinceDays int) (Summary, error)
}

// AudioStore port (interface untuk penyimpanan rekaman)
type AudioStore interface {
	Upload(ctx context.Context, localPath, key string) (string, error)
	UploadAndCleanup(ctx context.Context, localPath, key string) (string, error)
}

// DetectRequest untuk Detector
type DetectRequest struct {
	File      SelectedFile
	ObjectURL string
}

// Detector port (interface untuk inference)
type Detector interface {
	Detect(ctx context.Context, req DetectRequest) (Result, error)
}
