// Package filter decides whether chat text may be published to a room.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	goaway "github.com/TwiN/go-away"
)

type Policy string

const (
	// PolicyWord rejects text containing a blocked term as a whole word.
	PolicyWord Policy = "word"
	// PolicySubstring rejects text containing a blocked term anywhere,
	// including leetspeak spellings.
	PolicySubstring Policy = "substring"
)

var DefaultWords = []string{
	"asshole",
	"bastard",
	"bitch",
	"crap",
	"damn",
	"dick",
	"fuck",
	"piss",
	"shit",
}

type TextFilter interface {
	IsClean(text string) bool
}

type wordFilter struct {
	re *regexp.Regexp
}

func (f *wordFilter) IsClean(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	return f.re == nil || !f.re.MatchString(text)
}

type substringFilter struct {
	detector *goaway.ProfanityDetector
}

func (f *substringFilter) IsClean(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	return f.detector == nil || !f.detector.IsProfane(text)
}

// New returns a filter for the given policy. A nil or empty word list
// falls back to DefaultWords.
func New(policy Policy, words []string) (TextFilter, error) {
	words = normalizeWords(words)
	if len(words) == 0 {
		words = DefaultWords
	}

	switch policy {
	case PolicyWord, "":
		quoted := make([]string, len(words))
		for i, w := range words {
			quoted[i] = regexp.QuoteMeta(w)
		}

		re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("compile blocklist: %w", err)
		}

		return &wordFilter{re: re}, nil
	case PolicySubstring:
		detector := goaway.NewProfanityDetector().
			WithSanitizeLeetSpeak(true).
			WithCustomDictionary(words, nil, nil)

		return &substringFilter{detector: detector}, nil
	default:
		return nil, fmt.Errorf("unknown filter policy %q", policy)
	}
}

func normalizeWords(words []string) []string {
	out := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}

	return out
}
