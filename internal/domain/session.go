package domain

import "github.com/conorfennell/knolsched/internal/recurrence"

// Session is a study session definition read from a deck. Key is the content
// hash of its definition.
type Session struct {
	Key     string
	Title   string
	Window  recurrence.Window
	Pattern recurrence.Pattern
}
