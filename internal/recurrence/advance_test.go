package recurrence

import (
	"errors"
	"testing"
	"time"
)

func date(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func window(start time.Time, d time.Duration) Window {
	return Window{Start: start, End: start.Add(d)}
}

func mustPattern(t *testing.T, s string) Pattern {
	t.Helper()
	p, err := ParsePattern(s)
	if err != nil {
		t.Fatalf("ParsePattern(%q): %v", s, err)
	}
	return p
}

func TestAdvance(t *testing.T) {
	testCases := []struct {
		name      string
		start     time.Time
		pattern   string
		reference time.Time
		wantStart time.Time
	}{
		{
			name:      "daily across a gap",
			start:     date(2025, 3, 1, 18, 0),
			pattern:   "daily",
			reference: date(2025, 3, 5, 9, 0),
			wantStart: date(2025, 3, 5, 18, 0),
		},
		{
			name:      "daily earlier the same day is not advanced",
			start:     date(2025, 3, 5, 6, 0),
			pattern:   "daily",
			reference: date(2025, 3, 5, 23, 0),
			wantStart: date(2025, 3, 5, 6, 0),
		},
		{
			name:      "future window untouched",
			start:     date(2025, 4, 1, 8, 0),
			pattern:   "weekly",
			reference: date(2025, 3, 5, 9, 0),
			wantStart: date(2025, 4, 1, 8, 0),
		},
		{
			name:      "weekly lands on or after the reference",
			start:     date(2025, 3, 3, 8, 0),
			pattern:   "weekly",
			reference: date(2025, 3, 20, 0, 0),
			wantStart: date(2025, 3, 24, 8, 0),
		},
		{
			name:      "weekly exactly on the reference day",
			start:     date(2025, 3, 3, 8, 0),
			pattern:   "weekly",
			reference: date(2025, 3, 17, 12, 0),
			wantStart: date(2025, 3, 17, 8, 0),
		},
		{
			// Wed 2025-03-05, Sat 2025-03-08: Fri then wrap to Mon.
			name:      "custom mon wed fri wraps the week",
			start:     date(2025, 3, 5, 7, 30),
			pattern:   "custom:1,3,5",
			reference: date(2025, 3, 8, 10, 0),
			wantStart: date(2025, 3, 10, 7, 30),
		},
		{
			name:      "custom from a day outside the set",
			start:     date(2025, 3, 4, 7, 30), // Tuesday
			pattern:   "custom:sat",
			reference: date(2025, 3, 5, 0, 0),
			wantStart: date(2025, 3, 8, 7, 30),
		},
		{
			name:      "custom single weekday behaves weekly",
			start:     date(2025, 3, 2, 20, 0), // Sunday
			pattern:   "custom:0",
			reference: date(2025, 3, 20, 0, 0),
			wantStart: date(2025, 3, 23, 20, 0),
		},
		{
			name:      "monthly clamps into february and recovers",
			start:     date(2025, 1, 31, 9, 0),
			pattern:   "monthly",
			reference: date(2025, 3, 15, 0, 0),
			wantStart: date(2025, 3, 31, 9, 0),
		},
		{
			name:      "monthly stops on the clamped day",
			start:     date(2025, 1, 31, 9, 0),
			pattern:   "monthly",
			reference: date(2025, 2, 10, 0, 0),
			wantStart: date(2025, 2, 28, 9, 0),
		},
		{
			name:      "monthly leap year",
			start:     date(2024, 1, 30, 9, 0),
			pattern:   "monthly",
			reference: date(2024, 2, 1, 0, 0),
			wantStart: date(2024, 2, 29, 9, 0),
		},
		{
			name:      "anchored monthly resumes from a clamped window",
			start:     date(2025, 2, 28, 9, 0),
			pattern:   "monthly:31",
			reference: date(2025, 3, 1, 0, 0),
			wantStart: date(2025, 3, 31, 9, 0),
		},
		{
			name:      "monthly across a year boundary",
			start:     date(2024, 11, 15, 9, 0),
			pattern:   "monthly",
			reference: date(2025, 1, 16, 0, 0),
			wantStart: date(2025, 2, 15, 9, 0),
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			const length = 90 * time.Minute
			got, err := Advance(window(tc.start, length), mustPattern(t, tc.pattern), tc.reference)
			if err != nil {
				t.Fatalf("Advance() returned an unexpected error: %v", err)
			}
			if !got.Start.Equal(tc.wantStart) {
				t.Errorf("Expected start %v, but got %v", tc.wantStart, got.Start)
			}
			if got.Duration() != length {
				t.Errorf("Expected duration %v to be preserved, but got %v", length, got.Duration())
			}
		})
	}
}

func TestAdvanceIsIdempotent(t *testing.T) {
	patterns := []string{"daily", "weekly", "monthly", "custom:2,4", "custom:sun,sat"}
	reference := date(2025, 6, 18, 4, 0)
	for _, s := range patterns {
		t.Run(s, func(t *testing.T) {
			p := mustPattern(t, s)
			first, err := Advance(window(date(2025, 1, 31, 19, 0), 45*time.Minute), p, reference)
			if err != nil {
				t.Fatalf("first Advance: %v", err)
			}
			second, err := Advance(first, p, reference)
			if err != nil {
				t.Fatalf("second Advance: %v", err)
			}
			if second != first {
				t.Errorf("Expected second call to be a no-op, got %v then %v", first.Start, second.Start)
			}
			if first.Start.Before(startOfDay(reference)) {
				t.Errorf("start %v is still before the reference day", first.Start)
			}
		})
	}
}

func TestAdvanceCustomLandsOnPermittedDays(t *testing.T) {
	p := mustPattern(t, "custom:1,3,5")
	w := window(date(2025, 3, 3, 7, 0), time.Hour)
	moves := 0
	for day := 4; day < 60; day++ {
		ref := date(2025, 3, day, 0, 0)
		next, err := Advance(w, p, ref)
		if err != nil {
			t.Fatalf("Advance: %v", err)
		}
		if !p.Weekdays().Has(next.Start.Weekday()) {
			t.Fatalf("landed on %v, which is not in the set", next.Start.Weekday())
		}
		if next.Start.Before(w.Start) {
			t.Fatalf("start moved backwards: %v -> %v", w.Start, next.Start)
		}
		if next.Start.Before(startOfDay(ref)) {
			t.Fatalf("start %v is before the reference day %v", next.Start, ref)
		}
		if w.Start.Before(startOfDay(ref)) != next.Start.After(w.Start) {
			t.Fatalf("window %v moved to %v for reference %v", w.Start, next.Start, ref)
		}
		if next.Start.After(w.Start) {
			moves++
		}
		w = next
	}
	// Mon/Wed/Fri from Mar 4 through Apr 28.
	if moves != 24 {
		t.Errorf("Expected 24 moves, got %d", moves)
	}
}

func TestAdvanceKeepsWallClockAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Dublin")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}
	start := time.Date(2025, 3, 29, 18, 0, 0, 0, loc)
	got, err := Advance(Window{Start: start, End: start.Add(time.Hour)}, EveryDay(), time.Date(2025, 3, 31, 0, 0, 0, 0, loc))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if got.Start.Hour() != 18 || got.Start.Day() != 31 {
		t.Errorf("Expected 18:00 on the 31st, but got %v", got.Start)
	}
	if got.Duration() != time.Hour {
		t.Errorf("Expected duration to stay one hour, got %v", got.Duration())
	}
}

func TestAdvanceErrors(t *testing.T) {
	w := window(date(2025, 3, 1, 8, 0), time.Hour)
	ref := date(2025, 3, 10, 0, 0)

	t.Run("none is not recurring", func(t *testing.T) {
		got, err := Advance(w, NoRepeat(), ref)
		if !errors.Is(err, ErrNotRecurring) {
			t.Fatalf("Expected ErrNotRecurring, got %v", err)
		}
		if got != w {
			t.Errorf("Expected window unchanged, got %v", got)
		}
	})

	t.Run("custom without weekdays", func(t *testing.T) {
		_, err := Advance(w, Pattern{kind: Custom}, ref)
		if !errors.Is(err, ErrInvalidPattern) {
			t.Fatalf("Expected ErrInvalidPattern, got %v", err)
		}
	})

	t.Run("out of range weekdays only", func(t *testing.T) {
		_, err := Advance(w, Pattern{kind: Custom, weekdays: 1 << 7}, ref)
		if !errors.Is(err, ErrInvalidPattern) {
			t.Fatalf("Expected ErrInvalidPattern, got %v", err)
		}
	})

	t.Run("too far behind", func(t *testing.T) {
		_, err := Advance(window(date(1000, 1, 1, 8, 0), time.Hour), EveryDay(), ref)
		if !errors.Is(err, ErrAdvancementStalled) {
			t.Fatalf("Expected ErrAdvancementStalled, got %v", err)
		}
	})
}

func TestReconcile(t *testing.T) {
	prev := window(date(2025, 3, 1, 8, 0), time.Hour)
	moved := window(date(2025, 3, 2, 8, 0), time.Hour)

	for _, st := range []Status{Upcoming, DueNow, InProgress, Completed, Overdue} {
		if got := Reconcile(prev, moved, st); got != Upcoming {
			t.Errorf("moved window with %v: got %v, want upcoming", st, got)
		}
		if got := Reconcile(prev, prev, st); got != st {
			t.Errorf("unmoved window with %v: got %v", st, got)
		}
	}
}
