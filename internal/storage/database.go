package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Registers the sqlite driver

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/sm2"
)

// ErrConflict is returned by conditional updates when the row changed since it was read.
var ErrConflict = errors.New("storage: concurrent update")

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sql.DB
	loc  *time.Location
}

// Open creates a new database connection and ensures the schema is up to date.
// Dates and times read back are expressed in loc.
func Open(dsn string, loc *time.Location) (*DB, error) {
	if loc == nil {
		loc = time.Local
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY from the
	// batch workers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{conn: db, loc: loc}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Location is the timezone dates are read back in.
func (db *DB) Location() *time.Location {
	return db.loc
}

// withTx runs fn inside a SQL transaction.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

// CardState is a stored card together with its schedule.
type CardState struct {
	Hash       string
	Question   string
	Answer     string
	Context    string
	Schedule   sm2.Schedule
	LastReview *time.Time
	SourceID   sql.NullInt64
}

const cardColumns = `hash, question, answer, context, repetitions, ease_factor, interval_days, next_review, last_review, source_id`

type scanner interface {
	Scan(dest ...any) error
}

func (db *DB) scanCard(row scanner) (*CardState, error) {
	var cs CardState
	var nextReview string
	var lastReview sql.NullString
	err := row.Scan(
		&cs.Hash,
		&cs.Question,
		&cs.Answer,
		&cs.Context,
		&cs.Schedule.Repetitions,
		&cs.Schedule.EaseFactor,
		&cs.Schedule.Interval,
		&nextReview,
		&lastReview,
		&cs.SourceID,
	)
	if err != nil {
		return nil, err
	}
	if cs.Schedule.NextReview, err = db.parseDay(nextReview); err != nil {
		return nil, fmt.Errorf("card %s next_review: %w", cs.Hash, err)
	}
	if lastReview.Valid {
		t, err := db.parseTime(lastReview.String)
		if err != nil {
			return nil, fmt.Errorf("card %s last_review: %w", cs.Hash, err)
		}
		cs.LastReview = &t
	}
	return &cs, nil
}

// InsertCard inserts a new card with its initial schedule.
func (db *DB) InsertCard(ctx context.Context, card domain.Card, schedule sm2.Schedule, sourceID int64) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO cards (hash, question, answer, context, repetitions, ease_factor, interval_days, next_review, source_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		card.Hash,
		card.Question,
		card.Answer,
		card.Context,
		schedule.Repetitions,
		schedule.EaseFactor,
		schedule.Interval,
		formatDay(schedule.NextReview),
		sourceID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert card %s: %w", card.Hash, err)
	}
	return nil
}

// FindCardStateByHash retrieves a card's state from the database by its hash.
func (db *DB) FindCardStateByHash(ctx context.Context, hash string) (*CardState, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE hash = ?`, hash)
	cs, err := db.scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Card not found
		}
		return nil, fmt.Errorf("failed to find card state by hash %s: %w", hash, err)
	}
	return cs, nil
}

// GetDueCards returns cards whose next review is on or before today, oldest first.
func (db *DB) GetDueCards(ctx context.Context, today time.Time) ([]CardState, error) {
	return db.queryCards(ctx, `
		SELECT `+cardColumns+` FROM cards
		WHERE next_review <= ?
		ORDER BY next_review ASC, hash ASC
	`, formatDay(today.In(db.loc)))
}

// GetCardsBySourceID retrieves all card states associated with a specific source ID.
func (db *DB) GetCardsBySourceID(ctx context.Context, sourceID int64) ([]CardState, error) {
	cards, err := db.queryCards(ctx, `SELECT `+cardColumns+` FROM cards WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cards for source ID %d: %w", sourceID, err)
	}
	return cards, nil
}

func (db *DB) queryCards(ctx context.Context, query string, args ...any) ([]CardState, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query cards: %w", err)
	}
	defer rows.Close()

	var cards []CardState
	for rows.Next() {
		cs, err := db.scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, *cs)
	}
	return cards, rows.Err()
}

// SaveReview stores the card's new schedule and its audit log atomically.
func (db *DB) SaveReview(ctx context.Context, cs *CardState, log domain.ReviewLog) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE cards
			SET repetitions = ?, ease_factor = ?, interval_days = ?, next_review = ?, last_review = ?
			WHERE hash = ?
		`,
			cs.Schedule.Repetitions,
			cs.Schedule.EaseFactor,
			cs.Schedule.Interval,
			formatDay(cs.Schedule.NextReview),
			formatTime(log.Timestamp),
			cs.Hash,
		)
		if err != nil {
			return fmt.Errorf("failed to update card state for hash %s: %w", cs.Hash, err)
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return fmt.Errorf("failed to update card state for hash %s: %w", cs.Hash, sql.ErrNoRows)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO review_logs (id, card_hash, reviewed_at, quality, interval_before, interval_after, ease_factor)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, log.ID, log.CardHash, formatTime(log.Timestamp), int(log.Quality), log.IntervalBefore, log.IntervalAfter, log.EaseFactor)
		if err != nil {
			return fmt.Errorf("failed to insert review log for hash %s: %w", cs.Hash, err)
		}
		return nil
	})
}

// ReviewLogsForCard returns a card's review history, oldest first.
func (db *DB) ReviewLogsForCard(ctx context.Context, hash string) ([]domain.ReviewLog, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, card_hash, reviewed_at, quality, interval_before, interval_after, ease_factor
		FROM review_logs WHERE card_hash = ?
		ORDER BY reviewed_at ASC
	`, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get review logs for hash %s: %w", hash, err)
	}
	defer rows.Close()

	var logs []domain.ReviewLog
	for rows.Next() {
		var l domain.ReviewLog
		var at string
		var quality int
		if err := rows.Scan(&l.ID, &l.CardHash, &at, &quality, &l.IntervalBefore, &l.IntervalAfter, &l.EaseFactor); err != nil {
			return nil, fmt.Errorf("failed to scan review log row: %w", err)
		}
		if l.Timestamp, err = db.parseTime(at); err != nil {
			return nil, fmt.Errorf("review log %s: %w", l.ID, err)
		}
		l.Quality = sm2.Quality(quality)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// DeleteCardByHash removes a card from the database by its hash. Its review logs are kept.
func (db *DB) DeleteCardByHash(ctx context.Context, hash string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM cards WHERE hash = ?`, hash)
	if err != nil {
		return fmt.Errorf("failed to delete card with hash %s: %w", hash, err)
	}
	return nil
}

func formatDay(t time.Time) string {
	return t.Format(time.DateOnly)
}

func (db *DB) parseDay(s string) (time.Time, error) {
	return time.ParseInLocation(time.DateOnly, s, db.loc)
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func (db *DB) parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(db.loc), nil
}
