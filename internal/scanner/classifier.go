// internal/scanner/classifier.go
package scanner

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"ticket-service/internal/config"
)

// ErrCodeRejected marks a scan the classifier did not accept
var ErrCodeRejected = errors.New("code rejected by classifier")

// Classifier decides whether a scan looks like a ticket token.
// Any single heuristic is enough to accept, so this is a noise filter
// and must not gate anything security sensitive.
type Classifier struct {
	prefixes  []string
	markers   []string
	minLength int
	maxLength int
}

// NewClassifier creates a classifier from configuration
func NewClassifier(cfg *config.ClassifierConfig) *Classifier {
	return &Classifier{
		prefixes:  cfg.Prefixes,
		markers:   cfg.Markers,
		minLength: cfg.MinLength,
		maxLength: cfg.MaxLength,
	}
}

// DefaultClassifier accepts QR_ and TICKET_ prefixes, the TICKET marker and 10 to 50 characters
func DefaultClassifier() *Classifier {
	return NewClassifier(&config.ClassifierConfig{
		Prefixes:  []string{"QR_", "TICKET_"},
		Markers:   []string{"TICKET"},
		MinLength: 10,
		MaxLength: 50,
	})
}

// Classify reports whether code should be looked up
func (c *Classifier) Classify(code string) bool {
	if code == "" {
		return false
	}

	for _, prefix := range c.prefixes {
		if strings.HasPrefix(code, prefix) {
			return true
		}
	}
	for _, marker := range c.markers {
		if strings.Contains(code, marker) {
			return true
		}
	}

	if n := utf8.RuneCountInString(code); c.maxLength > 0 && n >= c.minLength && n <= c.maxLength {
		return true
	}

	return isAlphanumeric(code)
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
