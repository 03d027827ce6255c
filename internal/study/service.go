package study

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/recurrence"
	"github.com/conorfennell/knolsched/internal/sm2"
	"github.com/conorfennell/knolsched/internal/storage"
)

var (
	ErrInvalidQuality  = errors.New("study: quality must be between 0 and 5")
	ErrCardNotFound    = errors.New("study: card not found")
	ErrSessionNotFound = errors.New("study: session not found")
)

// Options tune the session reset batch.
type Options struct {
	// Workers is how many sessions are reset concurrently.
	Workers int
	// MaxRetries is how often a session write is retried after a version conflict.
	MaxRetries int
}

// Service connects the schedulers to storage.
type Service struct {
	db   *storage.DB
	opts Options
}

// NewService returns a Service over db.
func NewService(db *storage.DB, opts Options) *Service {
	opts.Workers = max(opts.Workers, 1)
	opts.MaxRetries = max(opts.MaxRetries, 0)
	return &Service{db: db, opts: opts}
}

// Location is the timezone whole days are counted in.
func (s *Service) Location() *time.Location {
	return s.db.Location()
}

// ReviewResult is the outcome of one recorded review.
type ReviewResult struct {
	Card storage.CardState
	Log  domain.ReviewLog
}

// RecordReview applies one rating to a card and stores the new schedule and its audit log.
func (s *Service) RecordReview(ctx context.Context, cardHash string, quality int, now time.Time) (*ReviewResult, error) {
	q := sm2.Quality(quality)
	if !q.Valid() {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidQuality, quality)
	}

	card, err := s.db.FindCardStateByHash(ctx, cardHash)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, fmt.Errorf("%w: %s", ErrCardNotFound, cardHash)
	}

	now = now.In(s.Location())
	before := card.Schedule
	card.Schedule = sm2.Score(before, q, now)
	log := domain.NewReviewLog(card.Hash, q, now, before, card.Schedule)

	if err := s.db.SaveReview(ctx, card, log); err != nil {
		return nil, err
	}
	card.LastReview = &log.Timestamp

	slog.Debug("Review recorded",
		"hash", card.Hash,
		"quality", quality,
		"interval", card.Schedule.Interval,
		"ease_factor", card.Schedule.EaseFactor,
	)
	return &ReviewResult{Card: *card, Log: log}, nil
}

// DueCards lists cards due on the day of now.
func (s *Service) DueCards(ctx context.Context, now time.Time) ([]storage.CardState, error) {
	return s.db.GetDueCards(ctx, now.In(s.Location()))
}

// Card looks a card up by hash.
func (s *Service) Card(ctx context.Context, hash string) (*storage.CardState, error) {
	card, err := s.db.FindCardStateByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if card == nil {
		return nil, fmt.Errorf("%w: %s", ErrCardNotFound, hash)
	}
	return card, nil
}

// Session is a stored session decoded into domain types.
type Session struct {
	ID      int64              `json:"id"`
	Key     string             `json:"key"`
	Title   string             `json:"title"`
	Pattern recurrence.Pattern `json:"pattern"`
	Window  recurrence.Window  `json:"window"`
	Status  recurrence.Status  `json:"status"`
}

func (s *Service) decodeSession(st storage.SessionState) (Session, error) {
	pattern, err := recurrence.ParsePattern(st.Pattern)
	if err != nil {
		return Session{}, fmt.Errorf("session %d: %w", st.ID, err)
	}
	status, err := recurrence.ParseStatus(st.Status)
	if err != nil {
		return Session{}, fmt.Errorf("session %d: %w", st.ID, err)
	}
	loc := s.Location()
	return Session{
		ID:      st.ID,
		Key:     st.Key,
		Title:   st.Title,
		Pattern: pattern,
		Window:  recurrence.Window{Start: st.Window.Start.In(loc), End: st.Window.End.In(loc)},
		Status:  status,
	}, nil
}

// Sessions lists all sessions. Rows that cannot be decoded are logged and skipped.
func (s *Service) Sessions(ctx context.Context) ([]Session, error) {
	stored, err := s.db.GetAllSessions(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(stored))
	for _, st := range stored {
		sess, err := s.decodeSession(st)
		if err != nil {
			slog.Warn("Skipping unreadable session", "session_id", st.ID, "error", err)
			continue
		}
		out = append(out, sess)
	}
	return out, nil
}

// SetSessionStatus records a status change made while the session is in use.
func (s *Service) SetSessionStatus(ctx context.Context, id int64, status recurrence.Status) (*Session, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("study: invalid status %d", int(status))
	}
	var out Session
	err := s.withRetry(ctx, id, func(st *storage.SessionState) (bool, error) {
		st.Status = status.String()
		return true, nil
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SessionReset is the outcome of resetting one recurring session.
type SessionReset struct {
	SessionID int64             `json:"session_id"`
	Window    recurrence.Window `json:"window"`
	Status    recurrence.Status `json:"status"`
	Advanced  bool              `json:"advanced"`
	Err       error             `json:"-"`
}

// ResetRecurringSessions moves every recurring session to its next occurrence on
// or after reference and resets the status of sessions that moved. A failing
// session is logged and reported on its item; the others still run. The
// returned error is only set when the session list could not be loaded or ctx
// was cancelled.
func (s *Service) ResetRecurringSessions(ctx context.Context, reference time.Time) ([]SessionReset, error) {
	ids, err := s.db.GetRecurringSessionIDs(ctx)
	if err != nil {
		return nil, err
	}
	reference = reference.In(s.Location())

	// ids arrive sorted, so results stay ordered by session ID.
	results := make([]SessionReset, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := s.resetSession(gctx, id, reference)
			if res.Err != nil {
				slog.Error("Failed to reset session", "session_id", id, "error", res.Err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var advanced, failed int
	for _, r := range results {
		if r.Err != nil {
			failed++
		} else if r.Advanced {
			advanced++
		}
	}
	slog.Info("Recurring sessions reset",
		"reference", reference.Format(time.DateOnly),
		"sessions", len(results),
		"advanced", advanced,
		"failed", failed,
	)
	return results, nil
}

func (s *Service) resetSession(ctx context.Context, id int64, reference time.Time) SessionReset {
	res := SessionReset{SessionID: id}
	var out Session
	err := s.withRetry(ctx, id, func(st *storage.SessionState) (bool, error) {
		sess, err := s.decodeSession(*st)
		if err != nil {
			return false, err
		}
		next, err := recurrence.Advance(sess.Window, sess.Pattern, reference)
		if err != nil {
			return false, fmt.Errorf("session %d: %w", id, err)
		}
		status := recurrence.Reconcile(sess.Window, next, sess.Status)
		res.Advanced = !next.Start.Equal(sess.Window.Start)
		if !res.Advanced && status == sess.Status {
			return false, nil
		}
		st.Window = next
		st.Status = status.String()
		return true, nil
	}, &out)
	if err != nil {
		res.Err = err
		return res
	}
	res.Window = out.Window
	res.Status = out.Status
	return res
}

// withRetry loads a session, lets mutate change it and writes it back
// conditioned on the version read. Conflicts reload and try again. When mutate
// reports no change nothing is written. The final state is decoded into out.
func (s *Service) withRetry(ctx context.Context, id int64, mutate func(*storage.SessionState) (bool, error), out *Session) error {
	for attempt := 0; ; attempt++ {
		st, err := s.db.FindSession(ctx, id)
		if err != nil {
			return err
		}
		if st == nil {
			return fmt.Errorf("%w: %d", ErrSessionNotFound, id)
		}

		changed, err := mutate(st)
		if err != nil {
			return err
		}
		if changed {
			err = s.db.UpdateSession(ctx, st)
			if errors.Is(err, storage.ErrConflict) && attempt < s.opts.MaxRetries {
				slog.Debug("Session changed underneath, retrying", "session_id", id, "attempt", attempt+1)
				continue
			}
			if err != nil {
				return err
			}
		}

		decoded, err := s.decodeSession(*st)
		if err != nil {
			return err
		}
		*out = decoded
		return nil
	}
}
