package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// rawEvaluation accepts fractional scores; models occasionally emit 72.5.
type rawEvaluation struct {
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
}

// ParseEvaluation extracts {"score","feedback"} from model output, tolerating
// markdown code fences and surrounding prose.
func ParseEvaluation(text string) (Evaluation, error) {
	cleaned := stripFences(text)
	if start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}"); start >= 0 && end > start {
		cleaned = cleaned[start : end+1]
	}

	var raw rawEvaluation
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return Evaluation{}, fmt.Errorf("%w: %v (raw: %s)", ErrMalformedResponse, err, truncate(text, 100))
	}
	if raw.Score == nil || math.IsNaN(*raw.Score) || math.IsInf(*raw.Score, 0) {
		return Evaluation{}, fmt.Errorf("%w: missing score (raw: %s)", ErrMalformedResponse, truncate(text, 100))
	}

	feedback := strings.TrimSpace(raw.Feedback)
	if feedback == "" {
		feedback = "Evaluation complete."
	}
	return Evaluation{
		Score:    Clamp(int(math.Round(*raw.Score))),
		Feedback: feedback,
	}, nil
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}
