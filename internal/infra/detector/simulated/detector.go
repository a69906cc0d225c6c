package simulated

import (
	"context"
	"math/rand"
	"sync"
	"time"

	domain "github.com/bryanwahyu/voiceguard/internal/domain/analysis"
)

// DefaultDelay is the simulated inference time.
const DefaultDelay = 3 * time.Second

// Duration label used until real audio decoding exists.
const Duration = "2:34"

var (
	Patterns = []string{
		"Unusual voice modulation patterns detected",
		"Synthetic speech markers identified",
		"Audio splice indicators found",
	}
	Recommendations = []string{
		"Do not share sensitive information with this caller",
		"Verify the caller's identity through a separate channel",
		"Report this call to relevant authorities if fraudulent",
	}
)

// Detector waits Delay and returns an illustrative random verdict.
type Detector struct {
	Delay time.Duration

	mu         sync.Mutex
	randSource *rand.Rand
}

func NewDetector(delay time.Duration) *Detector {
	// Create a dedicated random source to avoid contention
	return NewDetectorWithSource(delay, rand.NewSource(time.Now().UnixNano()))
}

// NewDetectorWithSource is NewDetector with a caller-provided source.
func NewDetectorWithSource(delay time.Duration, src rand.Source) *Detector {
	return &Detector{Delay: delay, randSource: rand.New(src)}
}

// Detect: risk in [0,100), confidence in [85,100).
func (d *Detector) Detect(ctx context.Context, _ domain.DetectRequest) (domain.Result, error) {
	if err := wait(ctx, d.Delay); err != nil {
		return domain.Result{}, err
	}

	d.mu.Lock()
	risk := d.randSource.Intn(100)
	confidence := 85 + d.randSource.Intn(15)
	d.mu.Unlock()

	return domain.Result{
		RiskScore:        risk,
		Confidence:       confidence,
		Duration:         Duration,
		DetectedPatterns: append([]string(nil), Patterns...),
		Recommendations:  append([]string(nil), Recommendations...),
	}, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
