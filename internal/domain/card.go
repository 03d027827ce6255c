package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/conorfennell/knolsched/internal/sm2"
)

// Card represents a single question-answer-context entry.
type Card struct {
	Question string
	Answer   string
	Context  string
	Hash     string
}

// ReviewLog records a single review event for a card. It is written once, next
// to the schedule it produced, and never changed.
type ReviewLog struct {
	ID             string
	CardHash       string
	Timestamp      time.Time
	Quality        sm2.Quality
	IntervalBefore int
	IntervalAfter  int
	EaseFactor     float64 // after the review
}

// NewReviewLog builds the audit record for moving a card from before to after.
func NewReviewLog(cardHash string, q sm2.Quality, at time.Time, before, after sm2.Schedule) ReviewLog {
	return ReviewLog{
		ID:             uuid.NewString(),
		CardHash:       cardHash,
		Timestamp:      at,
		Quality:        q,
		IntervalBefore: before.Interval,
		IntervalAfter:  after.Interval,
		EaseFactor:     after.EaseFactor,
	}
}
