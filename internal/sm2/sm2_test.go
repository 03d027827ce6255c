package sm2

import (
	"math"
	"testing"
	"time"
)

var today = time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

func TestScore(t *testing.T) {
	testCases := []struct {
		name            string
		in              Schedule
		quality         Quality
		wantRepetitions int
		wantInterval    int
		wantEase        float64
	}{
		{
			name:            "first perfect recall",
			in:              Schedule{Repetitions: 0, EaseFactor: 2.5, Interval: 1},
			quality:         5,
			wantRepetitions: 1,
			wantInterval:    1,
			wantEase:        2.6,
		},
		{
			name:            "second recall jumps to six days",
			in:              Schedule{Repetitions: 1, EaseFactor: 2.5, Interval: 1},
			quality:         4,
			wantRepetitions: 2,
			wantInterval:    6,
			wantEase:        2.5,
		},
		{
			name:            "blackout after a long streak",
			in:              Schedule{Repetitions: 5, EaseFactor: 2.0, Interval: 10},
			quality:         0,
			wantRepetitions: 0,
			wantInterval:    1,
			wantEase:        1.3,
		},
		{
			name:            "mature card multiplies by ease",
			in:              Schedule{Repetitions: 2, EaseFactor: 2.5, Interval: 6},
			quality:         5,
			wantRepetitions: 3,
			wantInterval:    15,
			wantEase:        2.6,
		},
		{
			name:            "interval rounds half away from zero",
			in:              Schedule{Repetitions: 3, EaseFactor: 2.5, Interval: 7},
			quality:         4,
			wantRepetitions: 4,
			wantInterval:    18,
			wantEase:        2.5,
		},
		{
			name:            "quality three still passes",
			in:              Schedule{Repetitions: 2, EaseFactor: 2.5, Interval: 6},
			quality:         3,
			wantRepetitions: 3,
			wantInterval:    15,
			wantEase:        2.36,
		},
		{
			name:            "quality two lapses with a smaller penalty",
			in:              Schedule{Repetitions: 4, EaseFactor: 2.5, Interval: 30},
			quality:         2,
			wantRepetitions: 0,
			wantInterval:    1,
			wantEase:        2.18,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Score(tc.in, tc.quality, today)
			if got.Repetitions != tc.wantRepetitions {
				t.Errorf("Expected repetitions %d, but got %d", tc.wantRepetitions, got.Repetitions)
			}
			if got.Interval != tc.wantInterval {
				t.Errorf("Expected interval %d, but got %d", tc.wantInterval, got.Interval)
			}
			if math.Abs(got.EaseFactor-tc.wantEase) > 1e-9 {
				t.Errorf("Expected ease factor %.4f, but got %.4f", tc.wantEase, got.EaseFactor)
			}
			wantNext := time.Date(2025, 3, 10+tc.wantInterval, 0, 0, 0, 0, time.UTC)
			if !got.NextReview.Equal(wantNext) {
				t.Errorf("Expected next review %v, but got %v", wantNext, got.NextReview)
			}
		})
	}
}

func TestScoreSuccessProperties(t *testing.T) {
	for q := PassingQuality; q <= MaxQuality; q++ {
		fresh := Score(Schedule{Repetitions: 0, EaseFactor: 2.5, Interval: 9}, q, today)
		if fresh.Interval != 1 || fresh.Repetitions != 1 {
			t.Errorf("quality %d from zero repetitions: got interval %d, repetitions %d", q, fresh.Interval, fresh.Repetitions)
		}
		second := Score(Schedule{Repetitions: 1, EaseFactor: 1.3, Interval: 1}, q, today)
		if second.Interval != 6 {
			t.Errorf("quality %d from one repetition: got interval %d, want 6", q, second.Interval)
		}
	}
}

func TestScoreLapseResets(t *testing.T) {
	for q := MinQuality; q < PassingQuality; q++ {
		for _, reps := range []int{0, 1, 2, 17} {
			got := Score(Schedule{Repetitions: reps, EaseFactor: 2.8, Interval: 120}, q, today)
			if got.Repetitions != 0 || got.Interval != 1 {
				t.Errorf("quality %d reps %d: got repetitions %d interval %d", q, reps, got.Repetitions, got.Interval)
			}
		}
	}
}

func TestEaseFactorFloor(t *testing.T) {
	s := NewSchedule(today)
	for i := 0; i < 1000; i++ {
		s = Score(s, 0, today)
		if s.EaseFactor < MinEaseFactor {
			t.Fatalf("ease factor fell to %.4f after %d lapses", s.EaseFactor, i+1)
		}
	}
	if s.EaseFactor != MinEaseFactor {
		t.Errorf("Expected ease factor to settle at %.1f, but got %.4f", MinEaseFactor, s.EaseFactor)
	}
}

func TestNewScheduleIsDueToday(t *testing.T) {
	s := NewSchedule(today)
	if !s.Due(today) {
		t.Error("Expected a new card to be due on its creation day")
	}
	if s.Interval != 1 || s.Repetitions != 0 || s.EaseFactor != InitialEaseFactor {
		t.Errorf("unexpected initial schedule %+v", s)
	}

	reviewed := Score(s, 5, today)
	if reviewed.Due(today) {
		t.Error("Expected a reviewed card not to be due again the same day")
	}
	if !reviewed.Due(today.AddDate(0, 0, 1)) {
		t.Error("Expected the card to be due the next day")
	}
}

func TestScorePanicsOnInvalidQuality(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected Score to panic for quality 6")
		}
	}()
	Score(NewSchedule(today), 6, today)
}
