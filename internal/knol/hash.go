package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/knolsched/internal/domain"
)

func normalizePart(part string) string {
	p := strings.ToLower(part)
	p = strings.TrimSpace(p)
	p = strings.ReplaceAll(p, "\r\n", "\n")
	return p
}

// Normalize concatenates the card's content after cleaning each part.
// It trims whitespace, lowercases, and normalizes line endings for each field
// before joining them.
func Normalize(card domain.Card) string {
	// Newline-joined so "question"+"answer" never reads as "questionanswer".
	return strings.Join([]string{
		normalizePart(card.Question),
		normalizePart(card.Answer),
		normalizePart(card.Context),
	}, "\n")
}

// Hash takes a card, normalizes it, and returns its SHA-256 hash as a hex string.
func Hash(card domain.Card) string {
	return sum(Normalize(card))
}

// NormalizeSession renders the parts of a session definition that identify it.
// The current window is not part of it: a session keeps its key as it advances,
// so only the authored first occurrence is hashed by callers.
func NormalizeSession(s domain.Session) string {
	return strings.Join([]string{
		"session",
		normalizePart(s.Title),
		s.Window.Start.UTC().Format(time.RFC3339),
		s.Window.End.UTC().Format(time.RFC3339),
		s.Pattern.String(),
	}, "\n")
}

// SessionHash returns the SHA-256 hex digest of a session definition as authored.
func SessionHash(s domain.Session) string {
	return sum(NormalizeSession(s))
}

func sum(s string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(s)))
}
