package storage

import (
	"context"
	"time"
)

// DefaultUploadDelay is the simulated transfer time.
const DefaultUploadDelay = 1500 * time.Millisecond

// Simulated stands in for object storage: it waits Delay and returns a
// simulated:// URL. The local copy is still removed on cleanup.
type Simulated struct {
	Delay time.Duration
}

func NewSimulated(delay time.Duration) *Simulated {
	return &Simulated{Delay: delay}
}

func (s *Simulated) Upload(ctx context.Context, _ string, key string) (string, error) {
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return "", err
	}
	return "simulated://" + key, nil
}

func (s *Simulated) UploadAndCleanup(ctx context.Context, localPath, key string) (string, error) {
	url, err := s.Upload(ctx, localPath, key)
	if err != nil {
		return "", err
	}
	cleanup(localPath)
	return url, nil
}
