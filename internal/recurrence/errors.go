package recurrence

import "errors"

// Sentinel errors for the recurrence package. Check with errors.Is.
var (
	ErrInvalidPattern     = errors.New("recurrence: invalid pattern")
	ErrAdvancementStalled = errors.New("recurrence: advancement stalled")
	ErrNotRecurring       = errors.New("recurrence: session does not recur")
)
