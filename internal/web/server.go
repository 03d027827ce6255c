package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/knolsched/internal/gitsource"
	"github.com/conorfennell/knolsched/internal/recurrence"
	"github.com/conorfennell/knolsched/internal/storage"
	"github.com/conorfennell/knolsched/internal/study"
	"github.com/conorfennell/knolsched/internal/sync"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	db       *storage.DB
	svc      *study.Service
	router   *http.ServeMux
	validate *validator.Validate
	reposDir string
	now      func() time.Time
}

// NewServer creates and configures a new server.
func NewServer(db *storage.DB, svc *study.Service, reposDir string) *Server {
	s := &Server{
		db:       db,
		svc:      svc,
		router:   http.NewServeMux(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		reposDir: reposDir,
		now:      time.Now,
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /cards/due", s.handleGetDueCards())
	s.router.HandleFunc("GET /cards/{hash}", s.handleGetCard())
	s.router.HandleFunc("POST /cards/{hash}/review", s.handlePostReview())

	s.router.HandleFunc("GET /sessions", s.handleGetSessions())
	s.router.HandleFunc("PUT /sessions/{id}/status", s.handlePutSessionStatus())
	s.router.HandleFunc("POST /sessions/reset", s.handlePostReset())

	// Source management routes
	s.router.HandleFunc("GET /sources", s.handleGetSources())
	s.router.HandleFunc("POST /sources", s.handlePostSource())
	s.router.HandleFunc("DELETE /sources/{id}", s.handleDeleteSource())
	s.router.HandleFunc("POST /sync", s.handlePostSync())
}

type cardResponse struct {
	Hash        string     `json:"hash"`
	Question    string     `json:"question"`
	Answer      string     `json:"answer"`
	Context     string     `json:"context,omitempty"`
	Repetitions int        `json:"repetitions"`
	EaseFactor  float64    `json:"ease_factor"`
	Interval    int        `json:"interval"`
	NextReview  string     `json:"next_review"`
	LastReview  *time.Time `json:"last_review,omitempty"`
}

func toCardResponse(cs storage.CardState) cardResponse {
	return cardResponse{
		Hash:        cs.Hash,
		Question:    cs.Question,
		Answer:      cs.Answer,
		Context:     cs.Context,
		Repetitions: cs.Schedule.Repetitions,
		EaseFactor:  cs.Schedule.EaseFactor,
		Interval:    cs.Schedule.Interval,
		NextReview:  cs.Schedule.NextReview.Format(time.DateOnly),
		LastReview:  cs.LastReview,
	}
}

// handleGetDueCards lists the cards due today.
func (s *Server) handleGetDueCards() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cards, err := s.svc.DueCards(r.Context(), s.now())
		if err != nil {
			s.serverError(w, "Error getting due cards", err)
			return
		}
		out := make([]cardResponse, 0, len(cards))
		for _, c := range cards {
			out = append(out, toCardResponse(c))
		}
		writeJSON(w, http.StatusOK, map[string]any{"due_count": len(out), "cards": out})
	}
}

// handleGetCard returns one card with its schedule.
func (s *Server) handleGetCard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		card, err := s.svc.Card(r.Context(), r.PathValue("hash"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toCardResponse(*card))
	}
}

type reviewRequest struct {
	Quality *int `json:"quality" validate:"required,min=0,max=5"`
}

// handlePostReview records a rating and returns the card's new schedule.
func (s *Server) handlePostReview() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reviewRequest
		if !s.decode(w, r, &req) {
			return
		}

		res, err := s.svc.RecordReview(r.Context(), r.PathValue("hash"), *req.Quality, s.now())
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"card":      toCardResponse(res.Card),
			"review_id": res.Log.ID,
		})
	}
}

// handleGetSessions lists all study sessions.
func (s *Server) handleGetSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := s.svc.Sessions(r.Context())
		if err != nil {
			s.serverError(w, "Error getting sessions", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
	}
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=upcoming due_now in_progress completed overdue"`
}

// handlePutSessionStatus sets the status of the current occurrence.
func (s *Server) handlePutSessionStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid session ID", http.StatusBadRequest)
			return
		}
		var req statusRequest
		if !s.decode(w, r, &req) {
			return
		}
		status, err := recurrence.ParseStatus(req.Status)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		sess, err := s.svc.SetSessionStatus(r.Context(), id, status)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

type resetItem struct {
	study.SessionReset
	Error string `json:"error,omitempty"`
}

// handlePostReset runs the recurring session reset for ?date=YYYY-MM-DD, or today.
func (s *Server) handlePostReset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reference := s.now()
		if d := r.URL.Query().Get("date"); d != "" {
			parsed, err := time.ParseInLocation(time.DateOnly, d, s.svc.Location())
			if err != nil {
				http.Error(w, "Invalid date, want YYYY-MM-DD", http.StatusBadRequest)
				return
			}
			reference = parsed
		}

		results, err := s.svc.ResetRecurringSessions(r.Context(), reference)
		if err != nil {
			s.serverError(w, "Error resetting sessions", err)
			return
		}
		items := make([]resetItem, 0, len(results))
		for _, res := range results {
			item := resetItem{SessionReset: res}
			if res.Err != nil {
				item.Error = res.Err.Error()
			}
			items = append(items, item)
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": items})
	}
}

// handleGetSources lists the configured sources.
func (s *Server) handleGetSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := s.db.GetAllSources(r.Context())
		if err != nil {
			s.serverError(w, "Error getting sources", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
	}
}

type sourceRequest struct {
	Path string `json:"path" validate:"required"`
}

// handlePostSource adds a new source.
func (s *Server) handlePostSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sourceRequest
		if !s.decode(w, r, &req) {
			return
		}

		sourceType := storage.SourceLocal
		if gitsource.IsGitURL(req.Path) {
			sourceType = storage.SourceGit
		}

		id, err := s.db.InsertSource(r.Context(), req.Path, sourceType)
		if err != nil {
			s.serverError(w, "Error inserting new source", err)
			return
		}
		writeJSON(w, http.StatusCreated, storage.Source{ID: id, Path: req.Path, Type: sourceType})
	}
}

// handleDeleteSource deletes a source with its cards and sessions.
func (s *Server) handleDeleteSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid source ID", http.StatusBadRequest)
			return
		}

		if err := s.db.DeleteSource(r.Context(), id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				http.NotFound(w, r)
				return
			}
			s.serverError(w, "Error deleting source", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type syncItem struct {
	SourceID        int64    `json:"source_id"`
	Path            string   `json:"path"`
	NewCards        int      `json:"new_cards"`
	DeletedCards    int      `json:"deleted_cards"`
	NewSessions     int      `json:"new_sessions"`
	DeletedSessions int      `json:"deleted_sessions"`
	Problems        []string `json:"problems,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// handlePostSync triggers a sync and reports what changed per source.
func (s *Server) handlePostSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Run in the foreground to make the user wait
		reports, err := sync.RunSync(r.Context(), s.db, sync.Options{ReposDir: s.reposDir, Now: s.now()})
		if err != nil {
			s.serverError(w, "Error running sync", err)
			return
		}
		items := make([]syncItem, 0, len(reports))
		for _, rep := range reports {
			item := syncItem{
				SourceID:        rep.SourceID,
				Path:            rep.Path,
				NewCards:        rep.NewCards,
				DeletedCards:    rep.DeletedCards,
				NewSessions:     rep.NewSessions,
				DeletedSessions: rep.DeletedSessions,
			}
			for _, p := range rep.Problems {
				item.Problems = append(item.Problems, p.Error())
			}
			if rep.Err != nil {
				item.Error = rep.Err.Error()
			}
			items = append(items, item)
		}
		writeJSON(w, http.StatusOK, map[string]any{"sources": items})
	}
}

// decode reads and validates a JSON body, answering 400 itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		http.Error(w, "Invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, study.ErrInvalidQuality):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, study.ErrCardNotFound), errors.Is(err, study.ErrSessionNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, storage.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, context.Canceled):
		// Client went away.
	default:
		s.serverError(w, "Request failed", err)
	}
}

func (s *Server) serverError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	http.Error(w, "Internal Server Error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}
