// Package scoring defines the contract for the external prompt scoring oracle
// and its Gemini-backed implementation.
package scoring

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/jason-s-yu/promptquest/internal/models"
)

var (
	// ErrRateLimited marks a transient quota or throttling failure. Callers may retry.
	ErrRateLimited = errors.New("scoring oracle rate limited")

	// ErrMalformedResponse means the oracle answered but its output could not be parsed.
	ErrMalformedResponse = errors.New("scoring oracle returned malformed output")

	// ErrUnavailable means the oracle cannot be reached or is not configured.
	ErrUnavailable = errors.New("scoring oracle unavailable")
)

const (
	MinScore = 0
	MaxScore = 100

	// NeutralScore is recorded for a seat whose evaluation failed permanently.
	NeutralScore = 50
)

// Evaluation is the oracle's judgement of one prompt.
type Evaluation struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

// Oracle scores how well a prompt describes an image.
type Oracle interface {
	Score(ctx context.Context, image models.ImageRef, prompt string) (Evaluation, error)
}

// Analyst writes a short comparison of two scored prompts. Optional.
type Analyst interface {
	Analyze(ctx context.Context, image models.ImageRef, p1, p2 models.PlayerSlot) (string, error)
}

// Retryable reports whether an oracle failure is worth another attempt.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

// Fallback is the evaluation recorded when the oracle could not score a prompt.
func Fallback(cause error) Evaluation {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	return Evaluation{
		Score:    NeutralScore,
		Feedback: "Evaluation unavailable (" + truncate(reason, 120) + "); a neutral score was assigned.",
	}
}

// Clamp bounds a raw score to the valid range.
func Clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// truncate keeps at most n runes of s. The result is always valid UTF-8 so it
// can be stored in a TEXT column.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(strings.TrimSpace(s), "\uFFFD")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// Offline is used when no oracle credentials are configured. Every call fails
// permanently, so battles still complete with neutral scores.
type Offline struct{}

func (Offline) Score(context.Context, models.ImageRef, string) (Evaluation, error) {
	return Evaluation{}, ErrUnavailable
}
