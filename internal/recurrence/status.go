package recurrence

import (
	"encoding"
	"encoding/json"
	"fmt"
)

// Status is the lifecycle state of one session occurrence.
type Status int

const (
	Upcoming Status = iota
	DueNow
	InProgress
	Completed
	Overdue
)

var (
	statusNames  = [...]string{Upcoming: "upcoming", DueNow: "due_now", InProgress: "in_progress", Completed: "completed", Overdue: "overdue"}
	statusByName = map[string]Status{
		"upcoming":    Upcoming,
		"due_now":     DueNow,
		"in_progress": InProgress,
		"completed":   Completed,
		"overdue":     Overdue,
	}
)

// Compile-time interface checks.
var (
	_ fmt.Stringer             = Status(0)
	_ json.Marshaler           = Status(0)
	_ json.Unmarshaler         = (*Status)(nil)
	_ encoding.TextMarshaler   = Status(0)
	_ encoding.TextUnmarshaler = (*Status)(nil)
)

// Valid reports whether s is one of the defined statuses.
func (s Status) Valid() bool {
	return s >= Upcoming && s <= Overdue
}

func (s Status) String() string {
	if s.Valid() {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus reads the name produced by String.
func ParseStatus(name string) (Status, error) {
	s, ok := statusByName[name]
	if !ok {
		return 0, fmt.Errorf("recurrence: invalid status: %q", name)
	}
	return s, nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("recurrence: invalid status: %d", int(s))
	}
	return []byte(statusNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MarshalJSON implements json.Marshaler. Status serializes as a JSON string.
func (s Status) MarshalJSON() ([]byte, error) {
	text, err := s.MarshalText()
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(text))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("recurrence: invalid status: %s", data)
	}
	return s.UnmarshalText([]byte(str))
}
