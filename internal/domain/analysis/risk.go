package analysis

import "time"

// Band is the display classification of a risk score. It is derived, never stored.
type Band string

const (
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandHigh   Band = "high"
)

// Band thresholds. Repositories that aggregate in SQL use the same values.
const (
	MediumFrom = 30
	HighFrom   = 70
)

// BandFor maps a score to its band: <30 low, <70 medium, otherwise high.
func BandFor(score int) Band {
	switch {
	case score < MediumFrom:
		return BandLow
	case score < HighFrom:
		return BandMedium
	default:
		return BandHigh
	}
}

// Level is the label shown on meters and result headers.
func (b Band) Level() string {
	switch b {
	case BandLow:
		return "Low Risk"
	case BandMedium:
		return "Medium Risk"
	default:
		return "High Risk"
	}
}

// Badge is the short verdict used on history cards.
func (b Band) Badge() string {
	switch b {
	case BandLow:
		return "Safe"
	case BandMedium:
		return "Suspicious"
	default:
		return "Dangerous"
	}
}

func (b Band) Description() string {
	switch b {
	case BandLow:
		return "This audio appears to be authentic with no significant deepfake markers detected."
	case BandMedium:
		return "Some suspicious patterns detected. We recommend additional verification before trusting this audio."
	default:
		return "High probability of synthetic or manipulated audio. Exercise extreme caution with this recording."
	}
}

// BandInfo is the rendered form attached to API payloads.
type BandInfo struct {
	Band        Band   `json:"band"`
	Level       string `json:"level"`
	Badge       string `json:"badge"`
	Description string `json:"description"`
}

// Describe renders the band of a score.
func Describe(score int) BandInfo {
	b := BandFor(score)
	return BandInfo{Band: b, Level: b.Level(), Badge: b.Badge(), Description: b.Description()}
}

// Summarize aggregates completed records created at or after since.
func Summarize(records []*Analysis, since time.Time) Summary {
	var sum Summary
	var totalMS int64
	completed := 0
	for _, a := range records {
		if a.UploadedAt.Before(since) {
			continue
		}
		sum.TotalScans++
		if a.Status != RecordCompleted {
			continue
		}
		completed++
		totalMS += a.AnalysisMS
		if BandFor(a.RiskScore) == BandLow {
			sum.SafeCalls++
		} else {
			sum.ThreatsDetected++
		}
	}
	if completed > 0 {
		sum.AvgAnalysisSeconds = float64(totalMS) / float64(completed) / 1000
	}
	return sum
}
