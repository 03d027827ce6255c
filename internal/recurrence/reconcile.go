package recurrence

// Reconcile decides the status after an advancement. A window that moved is a
// new occurrence and starts over as Upcoming, whatever happened to the previous
// one. An unmoved window keeps current.
func Reconcile(previous, next Window, current Status) Status {
	if !next.Start.Equal(previous.Start) {
		return Upcoming
	}
	return current
}
