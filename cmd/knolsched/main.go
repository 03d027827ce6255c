package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/conorfennell/knolsched/internal/config"
	"github.com/conorfennell/knolsched/internal/gitsource"
	"github.com/conorfennell/knolsched/internal/storage"
	"github.com/conorfennell/knolsched/internal/study"
	"github.com/conorfennell/knolsched/internal/sync"
	"github.com/conorfennell/knolsched/internal/web"
)

func main() {
	flags := pflag.NewFlagSet("knolsched", pflag.ExitOnError)
	config.RegisterFlags(flags)
	addSource := flags.String("add-source", "", "Add a deck source: a local directory or a git URL")
	runSync := flags.Bool("sync", false, "Sync all sources")
	review := flags.String("review", "", "Hash of a card to record a review for (with --quality)")
	quality := flags.Int("quality", -1, "Recall quality 0-5 for --review")
	reset := flags.Bool("reset-sessions", false, "Advance recurring sessions to their next occurrence")
	date := flags.String("date", "", "Reference day YYYY-MM-DD for --reset-sessions (default today)")
	serve := flags.Bool("serve", false, "Start the HTTP server")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	loc, err := cfg.Location()
	if err != nil {
		slog.Error("Invalid timezone", "timezone", cfg.Timezone, "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.DBPath, loc)
	if err != nil {
		slog.Error("Failed to open database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Debug("Database opened successfully", "path", cfg.DBPath)

	svc := study.NewService(db, study.Options{Workers: cfg.Workers, MaxRetries: cfg.MaxRetries})

	if err := run(ctx, cfg, db, svc, action{
		addSource: *addSource,
		sync:      *runSync,
		review:    *review,
		quality:   *quality,
		reset:     *reset,
		date:      *date,
		serve:     *serve,
	}); err != nil {
		slog.Error("knolsched failed", "error", err)
		db.Close()
		os.Exit(1)
	}
}

type action struct {
	addSource string
	sync      bool
	review    string
	quality   int
	reset     bool
	date      string
	serve     bool
}

func run(ctx context.Context, cfg *config.Config, db *storage.DB, svc *study.Service, a action) error {
	did := false

	if a.addSource != "" {
		did = true
		if err := addNewSource(ctx, db, a.addSource); err != nil {
			return err
		}
	}

	if a.sync {
		did = true
		reports, err := sync.RunSync(ctx, db, sync.Options{ReposDir: cfg.ReposDir, Now: time.Now(), Progress: os.Stderr})
		if err != nil {
			return err
		}
		for _, r := range reports {
			fmt.Printf("%s: %d cards (%d new, %d removed), %d sessions (%d new, %d removed), %d problems\n",
				r.Path, r.Cards, r.NewCards, r.DeletedCards, r.Sessions, r.NewSessions, r.DeletedSessions, len(r.Problems))
			for _, p := range r.Problems {
				fmt.Printf("- %s\n", p)
			}
			if r.Err != nil {
				fmt.Printf("- error: %s\n", r.Err)
			}
		}
	}

	if a.review != "" {
		did = true
		res, err := svc.RecordReview(ctx, a.review, a.quality, time.Now())
		if err != nil {
			return err
		}
		s := res.Card.Schedule
		fmt.Printf("%s: next review %s (interval %d days, ease %.2f, streak %d)\n",
			res.Card.Hash, s.NextReview.Format(time.DateOnly), s.Interval, s.EaseFactor, s.Repetitions)
	}

	if a.reset {
		did = true
		reference := time.Now()
		if a.date != "" {
			d, err := time.ParseInLocation(time.DateOnly, a.date, svc.Location())
			if err != nil {
				return fmt.Errorf("invalid --date: %w", err)
			}
			reference = d
		}
		results, err := svc.ResetRecurringSessions(ctx, reference)
		if err != nil {
			return err
		}
		for _, r := range results {
			if r.Err != nil {
				fmt.Printf("session %d: error: %s\n", r.SessionID, r.Err)
				continue
			}
			fmt.Printf("session %d: %s (%s)\n", r.SessionID, r.Window.Start.Format(time.DateTime), r.Status)
		}
	}

	if a.serve {
		did = true
		return serveHTTP(ctx, cfg, db, svc)
	}

	if !did {
		return errors.New("nothing to do: pass --add-source, --sync, --review, --reset-sessions or --serve")
	}
	return nil
}

func addNewSource(ctx context.Context, db *storage.DB, path string) error {
	existing, err := db.FindSourceByPath(ctx, path)
	if err != nil {
		return err
	}
	if existing != nil {
		slog.Info("Source already exists", "id", existing.ID, "path", path)
		return nil
	}

	sourceType := storage.SourceLocal
	if gitsource.IsGitURL(path) {
		sourceType = storage.SourceGit
	}
	id, err := db.InsertSource(ctx, path, sourceType)
	if err != nil {
		return err
	}
	slog.Info("Source added", "id", id, "type", sourceType, "path", path)
	return nil
}

func serveHTTP(ctx context.Context, cfg *config.Config, db *storage.DB, svc *study.Service) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           web.NewServer(db, svc, cfg.ReposDir),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Listening", "addr", cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
