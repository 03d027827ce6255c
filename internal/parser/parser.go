package parser

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/knolsched/internal/domain"
	"github.com/conorfennell/knolsched/internal/recurrence"
)

const (
	questionPrefix = "Q:"
	answerPrefix   = "A:"
	contextPrefix  = "C:"
	sessionPrefix  = "S:"
	separator      = "---"

	// TimeLayout is how session start and end times are written in decks.
	TimeLayout = "2006-01-02 15:04"
)

type state int

const (
	seeking state = iota
	readingQuestion
	readingAnswer
	readingContext
	readingSession
)

// Deck is everything found in one markdown file.
type Deck struct {
	Cards    []domain.Card
	Sessions []domain.Session
	// Problems lists session blocks that were skipped, with their line numbers.
	Problems []error
}

// sessionBlock is the raw text of an S: block before conversion.
type sessionBlock struct {
	Line     int
	Title    string `validate:"required"`
	Start    string `validate:"required"`
	End      string `validate:"required_without=Duration,excluded_with=Duration"`
	Duration string `validate:"required_without=End"`
	Repeat   string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseFile reads a file from the given path and extracts its cards and sessions.
// Session times are read in loc.
func ParseFile(path string, loc *time.Location) (Deck, error) {
	file, err := os.Open(path)
	if err != nil {
		return Deck{}, err
	}
	defer file.Close()

	return Parse(file, loc)
}

// Parse reads from an io.Reader and extracts all cards and sessions.
func Parse(r io.Reader, loc *time.Location) (Deck, error) {
	if loc == nil {
		loc = time.Local
	}

	scanner := bufio.NewScanner(r)
	var deck Deck
	var currentCard domain.Card
	var currentSession sessionBlock
	var currentBlock []string
	currentState := seeking
	lineNo := 0

	flushBlock := func() {
		if len(currentBlock) == 0 {
			return
		}
		content := strings.Join(currentBlock, "\n")
		switch currentState {
		case readingQuestion:
			currentCard.Question = content
		case readingAnswer:
			currentCard.Answer = content
		case readingContext:
			currentCard.Context = content
		}
		currentBlock = nil
	}

	finish := func() {
		flushBlock()
		if currentState == readingSession {
			s, err := currentSession.toSession(loc)
			if err != nil {
				deck.Problems = append(deck.Problems, fmt.Errorf("line %d: %w", currentSession.Line, err))
			} else {
				deck.Sessions = append(deck.Sessions, s)
			}
		} else if currentCard.Question != "" {
			deck.Cards = append(deck.Cards, currentCard)
		}
		currentCard = domain.Card{}
		currentSession = sessionBlock{}
		currentState = seeking
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if line == separator {
			finish()
			continue
		}

		// Inside a card an S: line is card text; sessions start after a separator.
		if rest, ok := cutPrefix(line, sessionPrefix); ok && (currentState == seeking || currentState == readingSession) {
			if currentState == readingSession {
				finish()
			}
			currentState = readingSession
			currentSession = sessionBlock{Line: lineNo, Title: strings.TrimSpace(rest)}
			continue
		}

		if currentState == readingSession {
			if strings.TrimSpace(line) == "" {
				continue
			}
			if rest, ok := cutPrefix(line, questionPrefix); ok {
				finish()
				currentState = readingQuestion
				currentBlock = append(currentBlock, rest)
				continue
			}
			if err := currentSession.set(line); err != nil {
				deck.Problems = append(deck.Problems, fmt.Errorf("line %d: %w", lineNo, err))
			}
			continue
		}

		if rest, ok := cutPrefix(line, questionPrefix); ok {
			flushBlock()
			if currentState != seeking { // A new question always starts a new card
				finish()
			}
			currentState = readingQuestion
			currentBlock = append(currentBlock, rest)
		} else if rest, ok := cutPrefix(line, answerPrefix); ok {
			flushBlock()
			currentState = readingAnswer
			currentBlock = append(currentBlock, rest)
		} else if rest, ok := cutPrefix(line, contextPrefix); ok {
			flushBlock()
			currentState = readingContext
			currentBlock = append(currentBlock, rest)
		} else if currentState != seeking {
			currentBlock = append(currentBlock, line)
		}
	}

	finish() // Finish the very last block in the file

	if err := scanner.Err(); err != nil {
		return Deck{}, err
	}

	return deck, nil
}

// cutPrefix strips a block prefix and the single space that usually follows it.
func cutPrefix(line, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(line, prefix)
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(rest, " "), true
}

func (b *sessionBlock) set(line string) error {
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		return fmt.Errorf("expected 'Key: value' in session %q, got %q", b.Title, line)
	}
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "start":
		b.Start = value
	case "end":
		b.End = value
	case "duration":
		b.Duration = value
	case "repeat":
		b.Repeat = value
	default:
		return fmt.Errorf("unknown session field %q in session %q", key, b.Title)
	}
	return nil
}

func (b sessionBlock) toSession(loc *time.Location) (domain.Session, error) {
	if err := validate.Struct(b); err != nil {
		return domain.Session{}, fmt.Errorf("session %q: %w", b.Title, err)
	}

	start, err := time.ParseInLocation(TimeLayout, b.Start, loc)
	if err != nil {
		return domain.Session{}, fmt.Errorf("session %q start: %w", b.Title, err)
	}

	var end time.Time
	if b.End != "" {
		end, err = time.ParseInLocation(TimeLayout, b.End, loc)
		if err != nil {
			return domain.Session{}, fmt.Errorf("session %q end: %w", b.Title, err)
		}
	} else {
		d, err := time.ParseDuration(b.Duration)
		if err != nil {
			return domain.Session{}, fmt.Errorf("session %q duration: %w", b.Title, err)
		}
		end = start.Add(d)
	}
	if !end.After(start) {
		return domain.Session{}, fmt.Errorf("session %q ends before it starts", b.Title)
	}

	pattern, err := recurrence.ParsePattern(b.Repeat)
	if err != nil {
		return domain.Session{}, fmt.Errorf("session %q: %w", b.Title, err)
	}

	return domain.Session{
		Title:   b.Title,
		Window:  recurrence.Window{Start: start, End: end},
		Pattern: pattern.Anchored(start),
	}, nil
}
