package sync

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conorfennell/knolsched/internal/gitsource"
	"github.com/conorfennell/knolsched/internal/knol"
	"github.com/conorfennell/knolsched/internal/parser"
	"github.com/conorfennell/knolsched/internal/sm2"
	"github.com/conorfennell/knolsched/internal/storage"
)

// Options configure a sync run.
type Options struct {
	ReposDir string
	Now      time.Time
	// Progress receives git clone/pull output; nil discards it.
	Progress io.Writer
}

// Report summarises one source's reconciliation.
type Report struct {
	SourceID        int64
	Path            string
	Cards           int
	NewCards        int
	DeletedCards    int
	Sessions        int
	NewSessions     int
	DeletedSessions int
	Problems        []error
	Err             error
}

// RunSync iterates over all sources and reconciles them. A failing source is
// logged and reported; the others are still synced.
func RunSync(ctx context.Context, db *storage.DB, opts Options) ([]Report, error) {
	slog.Info("Starting sync process for all sources...")
	sources, err := db.GetAllSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("get sources: %w", err)
	}

	if len(sources) == 0 {
		slog.Info("No sources configured. Add one with --add-source <path/or/url.git>")
		return nil, nil
	}

	if err := os.MkdirAll(opts.ReposDir, os.ModePerm); err != nil {
		return nil, fmt.Errorf("create repos directory: %w", err)
	}

	reports := make([]Report, 0, len(sources))
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		slog.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

		report := Report{SourceID: source.ID, Path: source.Path}
		dir := source.Path
		if source.Type == storage.SourceGit {
			dir, err = gitsource.LocalPath(opts.ReposDir, source.Path)
			if err != nil {
				report.Err = err
			} else if err := gitsource.Sync(ctx, source.Path, dir, opts.Progress); err != nil {
				report.Err = err
			}
		}
		if report.Err == nil {
			report.Err = reconcileLocalSource(ctx, db, source.ID, dir, opts.Now, &report)
		}
		if report.Err != nil {
			slog.Error("Error syncing source", "id", source.ID, "path", source.Path, "error", report.Err)
		}
		reports = append(reports, report)
	}
	slog.Info("Sync process complete.")
	return reports, nil
}

func reconcileLocalSource(ctx context.Context, db *storage.DB, sourceID int64, dir string, now time.Time, report *Report) error {
	loc := db.Location()
	today := now.In(loc)
	foundCards := make(map[string]bool)
	foundSessions := make(map[string]bool)

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}

		deck, parseErr := parser.ParseFile(path, loc)
		if parseErr != nil {
			report.Problems = append(report.Problems, fmt.Errorf("parsing %s: %w", path, parseErr))
			return nil
		}
		for _, p := range deck.Problems {
			report.Problems = append(report.Problems, fmt.Errorf("%s: %w", path, p))
		}

		for _, card := range deck.Cards {
			card.Hash = knol.Hash(card)
			if foundCards[card.Hash] {
				continue
			}
			foundCards[card.Hash] = true
			report.Cards++

			existing, err := db.FindCardStateByHash(ctx, card.Hash)
			if err != nil {
				report.Problems = append(report.Problems, fmt.Errorf("db check for %s: %w", card.Hash, err))
				continue
			}
			if existing == nil {
				slog.Debug("New card found, inserting...", "hash", card.Hash)
				if err := db.InsertCard(ctx, card, sm2.NewSchedule(today), sourceID); err != nil {
					report.Problems = append(report.Problems, fmt.Errorf("db insert for %s: %w", card.Hash, err))
					continue
				}
				report.NewCards++
			}
		}

		for _, session := range deck.Sessions {
			session.Key = knol.SessionHash(session)
			if foundSessions[session.Key] {
				continue
			}
			foundSessions[session.Key] = true
			report.Sessions++

			existing, err := db.FindSessionByKey(ctx, session.Key)
			if err != nil {
				report.Problems = append(report.Problems, fmt.Errorf("db check for session %s: %w", session.Key, err))
				continue
			}
			if existing == nil {
				slog.Debug("New session found, inserting...", "key", session.Key, "title", session.Title)
				if _, err := db.InsertSession(ctx, session, sourceID); err != nil {
					report.Problems = append(report.Problems, fmt.Errorf("db insert for session %s: %w", session.Key, err))
					continue
				}
				report.NewSessions++
			}
		}
		return nil
	})
	if walkErr != nil {
		return fmt.Errorf("walking %s: %w", dir, walkErr)
	}

	dbCards, err := db.GetCardsBySourceID(ctx, sourceID)
	if err != nil {
		return err
	}
	for _, dbCard := range dbCards {
		if foundCards[dbCard.Hash] {
			continue
		}
		slog.Info("Orphaned card, deleting", "hash", dbCard.Hash)
		if err := db.DeleteCardByHash(ctx, dbCard.Hash); err != nil {
			slog.Warn("Failed to delete orphaned card", "hash", dbCard.Hash, "error", err)
			continue
		}
		report.DeletedCards++
	}

	dbSessions, err := db.GetSessionsBySourceID(ctx, sourceID)
	if err != nil {
		return err
	}
	for _, s := range dbSessions {
		if foundSessions[s.Key] {
			continue
		}
		slog.Info("Orphaned session, deleting", "key", s.Key, "title", s.Title)
		if err := db.DeleteSessionByKey(ctx, s.Key); err != nil {
			slog.Warn("Failed to delete orphaned session", "key", s.Key, "error", err)
			continue
		}
		report.DeletedSessions++
	}

	if err := db.UpdateSourceLastScanned(ctx, sourceID, now); err != nil {
		slog.Warn("Failed to update last scanned for source", "source_id", sourceID, "error", err)
	}

	slog.Info("reconciliation complete",
		"path", dir,
		"cards", report.Cards,
		"new_cards", report.NewCards,
		"orphaned_cards", report.DeletedCards,
		"sessions", report.Sessions,
		"orphaned_sessions", report.DeletedSessions,
		"problems", len(report.Problems),
	)
	return nil
}
