package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	domain "github.com/bryanwahyu/voiceguard/internal/domain/analysis"
)

// GetSystemPrompt provides strict directions and schema for JSON output.
func GetSystemPrompt() string {
	return `You are a voice-fraud analyst who assesses whether call recordings contain synthetic or manipulated speech. You must produce one valid JSON object only (no markdown, no commentary) that follows the schema below. Do not include code fences.

Requirements:
- Output must be a single JSON object.
- risk_score is an integer from 0 to 100: the likelihood the audio is synthetic.
- confidence is an integer from 0 to 100: your certainty in risk_score.
- duration is the recording length as m:ss, or "--:--" when unknown.
- detected_patterns and recommendations are short sentences, at most five each, most important first.
- If the audio itself cannot be inspected, reason from the metadata conservatively and lower confidence.

Schema (example with empty values):
{
  "risk_score": 0,
  "confidence": 0,
  "duration": "<m:ss>",
  "detected_patterns": ["<string>"],
  "recommendations": ["<string>"]
}`
}

// GetUserPrompt builds a compact user message around the uploaded recording.
func GetUserPrompt(f domain.SelectedFile, objectURL string) string {
	return fmt.Sprintf(
		"Assess this call recording and respond with the JSON per schema. name: %s, type: %s, size_bytes: %d, url: %s",
		f.Name, f.MediaType, f.Size, objectURL,
	)
}

// Verdict matches the schema used by the system prompt.
type Verdict struct {
	RiskScore        *int     `json:"risk_score"`
	Confidence       *int     `json:"confidence"`
	Duration         string   `json:"duration"`
	DetectedPatterns []string `json:"detected_patterns"`
	Recommendations  []string `json:"recommendations"`
}

const maxListItems = 5

// ParseVerdict decodes a model reply into a Result. Scores are clamped to
// [0,100]; a reply without both scores is rejected.
func ParseVerdict(content string) (domain.Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var v Verdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &v); err != nil {
		return domain.Result{}, fmt.Errorf("decode verdict: %w", err)
	}
	if v.RiskScore == nil || v.Confidence == nil {
		return domain.Result{}, fmt.Errorf("verdict missing risk_score or confidence")
	}

	duration := strings.TrimSpace(v.Duration)
	if duration == "" {
		duration = "--:--"
	}
	return domain.Result{
		RiskScore:        clamp(*v.RiskScore),
		Confidence:       clamp(*v.Confidence),
		Duration:         duration,
		DetectedPatterns: compact(v.DetectedPatterns),
		Recommendations:  compact(v.Recommendations),
	}, nil
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxListItems {
			break
		}
	}
	return out
}
