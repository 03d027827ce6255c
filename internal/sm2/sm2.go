package sm2

import (
	"fmt"
	"math"
	"time"
)

// Quality is the user's recall rating after a review, from 0 (blackout) to 5 (perfect).
type Quality int

const (
	MinQuality Quality = 0
	MaxQuality Quality = 5

	// PassingQuality is the lowest rating that counts as a successful recall.
	PassingQuality Quality = 3
)

const (
	InitialEaseFactor = 2.5
	MinEaseFactor     = 1.3
)

// Valid reports whether q is within 0..5.
func (q Quality) Valid() bool {
	return q >= MinQuality && q <= MaxQuality
}

// Schedule holds the spaced-repetition state of a card.
type Schedule struct {
	Repetitions int       // consecutive successful recalls since the last lapse
	EaseFactor  float64   // never below MinEaseFactor
	Interval    int       // days, always >= 1
	NextReview  time.Time // midnight of the due day
}

// NewSchedule returns the schedule of a freshly authored card, due today.
func NewSchedule(today time.Time) Schedule {
	return Schedule{
		Repetitions: 0,
		EaseFactor:  InitialEaseFactor,
		Interval:    1,
		NextReview:  StartOfDay(today),
	}
}

// Due reports whether the card should be presented on the given day.
func (s Schedule) Due(today time.Time) bool {
	return !s.NextReview.After(StartOfDay(today))
}

// Score applies one review to the schedule. The quality must be valid; callers
// validate user input before getting here.
func Score(s Schedule, q Quality, today time.Time) Schedule {
	if !q.Valid() {
		panic(fmt.Sprintf("sm2: quality %d out of range", q))
	}

	next := s
	if q >= PassingQuality {
		switch s.Repetitions {
		case 0:
			next.Interval = 1
		case 1:
			next.Interval = 6
		default:
			next.Interval = int(math.Round(float64(s.Interval) * s.EaseFactor))
		}
		next.Repetitions = s.Repetitions + 1
	} else {
		next.Repetitions = 0
		next.Interval = 1
	}
	// Interval can only shrink below one with corrupt stored state.
	if next.Interval < 1 {
		next.Interval = 1
	}

	next.EaseFactor = nextEaseFactor(s.EaseFactor, q)
	next.NextReview = StartOfDay(today).AddDate(0, 0, next.Interval)
	return next
}

// nextEaseFactor is the canonical SM-2 update, applied on lapses too.
func nextEaseFactor(ef float64, q Quality) float64 {
	miss := float64(MaxQuality - q)
	return math.Max(MinEaseFactor, ef+(0.1-miss*(0.08+miss*0.02)))
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
