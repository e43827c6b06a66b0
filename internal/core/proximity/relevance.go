package proximity

import (
	"time"

	"github.com/samirrijal/nearby/internal/core/domain"
)

const (
	DefaultAccuracyTolerance = 10.0 // meters
	DefaultStaleAfter        = 2 * time.Minute
)

// RelevanceJudge decides whether a new fix should replace the current one.
// A candidate wins when it is at least as accurate (within tolerance) and not
// older, or when the current fix has gone stale relative to it.
type RelevanceJudge struct {
	AccuracyTolerance float64
	StaleAfter        time.Duration
}

// DefaultRelevanceJudge returns a judge with the default tolerance and staleness.
func DefaultRelevanceJudge() RelevanceJudge {
	return RelevanceJudge{
		AccuracyTolerance: DefaultAccuracyTolerance,
		StaleAfter:        DefaultStaleAfter,
	}
}

// IsMoreRelevant reports whether candidate should replace current.
func (j RelevanceJudge) IsMoreRelevant(current *domain.Location, candidate domain.Location) bool {
	if current == nil {
		return true
	}
	if candidate.Accuracy <= current.Accuracy+j.AccuracyTolerance && !candidate.Time.Before(current.Time) {
		return true
	}
	return candidate.Time.Sub(current.Time) > j.StaleAfter
}
