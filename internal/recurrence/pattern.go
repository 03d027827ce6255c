package recurrence

import (
	"encoding"
	"fmt"
	"math/bits"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind tags the variant held by a Pattern.
type Kind int

const (
	None Kind = iota
	Daily
	Weekly
	Monthly
	Custom
)

var kindNames = [...]string{None: "none", Daily: "daily", Weekly: "weekly", Monthly: "monthly", Custom: "custom"}

func (k Kind) String() string {
	if k >= None && k <= Custom {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Weekdays is a set of weekdays, bit i set for time.Weekday(i) (0 = Sunday).
type Weekdays uint8

const allWeekdays Weekdays = 1<<7 - 1

var weekdayAbbrev = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// NewWeekdays builds a set from weekday indices, ignoring anything outside 0..6.
// It fails if no usable weekday remains.
func NewWeekdays(days ...int) (Weekdays, error) {
	var w Weekdays
	for _, d := range days {
		if d >= 0 && d <= 6 {
			w |= 1 << uint(d)
		}
	}
	if w == 0 {
		return 0, fmt.Errorf("%w: no weekday in 0..6 among %v", ErrInvalidPattern, days)
	}
	return w, nil
}

// Has reports whether d is in the set.
func (w Weekdays) Has(d time.Weekday) bool {
	return d >= time.Sunday && d <= time.Saturday && w&(1<<uint(d)) != 0
}

// Len returns the number of weekdays in the set.
func (w Weekdays) Len() int {
	return bits.OnesCount8(uint8(w & allWeekdays))
}

// Days returns the set in ascending order.
func (w Weekdays) Days() []time.Weekday {
	out := make([]time.Weekday, 0, w.Len())
	for d := time.Sunday; d <= time.Saturday; d++ {
		if w.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// after returns the smallest weekday in the set strictly greater than d.
func (w Weekdays) after(d time.Weekday) (time.Weekday, bool) {
	for next := d + 1; next <= time.Saturday; next++ {
		if w.Has(next) {
			return next, true
		}
	}
	return 0, false
}

func (w Weekdays) first() (time.Weekday, bool) {
	return w.after(-1)
}

// Pattern describes how an occurrence advances to its successor. The zero value
// is the non-recurring pattern.
type Pattern struct {
	kind     Kind
	weekdays Weekdays
	monthDay int
}

// Compile-time interface checks.
var (
	_ fmt.Stringer             = Pattern{}
	_ encoding.TextMarshaler   = Pattern{}
	_ encoding.TextUnmarshaler = (*Pattern)(nil)
)

// NoRepeat returns the non-recurring pattern.
func NoRepeat() Pattern { return Pattern{kind: None} }

// EveryDay returns the daily pattern.
func EveryDay() Pattern { return Pattern{kind: Daily} }

// EveryWeek returns the weekly pattern.
func EveryWeek() Pattern { return Pattern{kind: Weekly} }

// EveryMonth returns a monthly pattern anchored on whatever day-of-month the
// occurrence currently sits on. Pin it with Anchored before storing it, or a
// clamped month moves the anchor for every later run.
func EveryMonth() Pattern { return Pattern{kind: Monthly} }

// EveryMonthOn returns a monthly pattern anchored on day (1..31). Months shorter
// than the anchor clamp to their last day.
func EveryMonthOn(day int) (Pattern, error) {
	if day < 1 || day > 31 {
		return Pattern{}, fmt.Errorf("%w: day of month %d", ErrInvalidPattern, day)
	}
	return Pattern{kind: Monthly, monthDay: day}, nil
}

// OnWeekdays returns a custom pattern firing on the given weekday indices.
func OnWeekdays(days ...int) (Pattern, error) {
	w, err := NewWeekdays(days...)
	if err != nil {
		return Pattern{}, err
	}
	return Pattern{kind: Custom, weekdays: w}, nil
}

// Kind returns the variant tag.
func (p Pattern) Kind() Kind { return p.kind }

// Weekdays returns the weekday set of a custom pattern.
func (p Pattern) Weekdays() Weekdays { return p.weekdays }

// MonthDay returns the anchor day of a monthly pattern, 0 when unanchored.
func (p Pattern) MonthDay() int { return p.monthDay }

// Recurs reports whether the pattern produces further occurrences.
func (p Pattern) Recurs() bool { return p.kind != None }

// Anchored returns p with a monthly anchor pinned to start's day-of-month.
// Other patterns are returned as is.
func (p Pattern) Anchored(start time.Time) Pattern {
	if p.kind == Monthly && p.monthDay == 0 {
		p.monthDay = start.Day()
	}
	return p
}

func (p Pattern) validate() error {
	switch p.kind {
	case None, Daily, Weekly:
		return nil
	case Monthly:
		if p.monthDay < 0 || p.monthDay > 31 {
			return fmt.Errorf("%w: day of month %d", ErrInvalidPattern, p.monthDay)
		}
		return nil
	case Custom:
		if p.weekdays&allWeekdays == 0 {
			return fmt.Errorf("%w: custom pattern without weekdays", ErrInvalidPattern)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidPattern, int(p.kind))
	}
}

// String renders the pattern in the form accepted by ParsePattern.
func (p Pattern) String() string {
	switch p.kind {
	case Monthly:
		if p.monthDay > 0 {
			return "monthly:" + strconv.Itoa(p.monthDay)
		}
		return "monthly"
	case Custom:
		days := p.weekdays.Days()
		parts := make([]string, len(days))
		for i, d := range days {
			parts[i] = strconv.Itoa(int(d))
		}
		return "custom:" + strings.Join(parts, ",")
	default:
		return p.kind.String()
	}
}

// ParsePattern reads "none", "daily", "weekly", "monthly", "monthly:<day>" or
// "custom:<days>", where days are comma or space separated weekday numbers
// (0 = Sunday) or three-letter names.
func ParsePattern(s string) (Pattern, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	head, tail, hasTail := strings.Cut(s, ":")
	head = strings.TrimSpace(head)
	if !hasTail {
		// "custom mon,wed" reads naturally in decks.
		if rest, ok := strings.CutPrefix(head, "custom "); ok {
			head, tail, hasTail = "custom", rest, true
		}
	}

	switch head {
	case "", "none":
		if hasTail {
			break
		}
		return NoRepeat(), nil
	case "daily":
		if hasTail {
			break
		}
		return EveryDay(), nil
	case "weekly":
		if hasTail {
			break
		}
		return EveryWeek(), nil
	case "monthly":
		if !hasTail {
			return EveryMonth(), nil
		}
		day, err := strconv.Atoi(strings.TrimSpace(tail))
		if err != nil {
			return Pattern{}, fmt.Errorf("%w: day of month %q", ErrInvalidPattern, tail)
		}
		return EveryMonthOn(day)
	case "custom":
		days, err := parseWeekdayList(tail)
		if err != nil {
			return Pattern{}, err
		}
		return OnWeekdays(days...)
	}
	return Pattern{}, fmt.Errorf("%w: %q", ErrInvalidPattern, s)
}

func parseWeekdayList(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	days := make([]int, 0, len(fields))
	for _, f := range fields {
		if d, ok := weekdayAbbrev[f]; ok {
			days = append(days, int(d))
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%w: weekday %q", ErrInvalidPattern, f)
		}
		days = append(days, n)
	}
	sort.Ints(days)
	return days, nil
}

// MarshalText implements encoding.TextMarshaler.
func (p Pattern) MarshalText() ([]byte, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pattern) UnmarshalText(text []byte) error {
	v, err := ParsePattern(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
