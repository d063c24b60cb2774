package transcribe

import (
	"strings"
	"sync"
	"unicode"

	"github.com/antzucaro/matchr"
)

// Filter reasons returned by [Filter.Check].
const (
	FilterKnownPhrase = "known_phrase"
	FilterRepetition  = "repetition"
	FilterNoWords     = "no_words"
)

// DefaultSimilarity is the Jaro-Winkler score at or above which text counts
// as a known phrase.
const DefaultSimilarity = 0.92

const (
	minRepetitionTokens = 6
	repetitionShare     = 0.6
)

// DefaultPhrases are filler outputs ASR models commonly produce for silence
// or background noise.
func DefaultPhrases() []string {
	return []string{
		"thank you",
		"thanks for watching",
		"thank you for watching",
		"thank you so much for watching",
		"please subscribe",
		"like and subscribe",
		"subtitles by the amara org community",
		"subtitles by",
		"transcribed by",
		"you",
		"bye",
		"blank audio",
		"music",
		"silence",
	}
}

// Filter rejects transcripts that are ASR hallucinations rather than speech.
//
// Filter is safe for concurrent use; the phrase list and similarity can be
// replaced at runtime with [Filter.Configure].
type Filter struct {
	mu         sync.RWMutex
	phrases    []string
	similarity float64
}

// NewFilter creates a Filter. A nil phrases slice selects [DefaultPhrases];
// similarity ≤ 0 selects [DefaultSimilarity].
func NewFilter(phrases []string, similarity float64) *Filter {
	f := &Filter{}
	f.Configure(phrases, similarity)
	return f
}

// Configure replaces the phrase list and similarity threshold.
func (f *Filter) Configure(phrases []string, similarity float64) {
	if phrases == nil {
		phrases = DefaultPhrases()
	}
	if similarity <= 0 {
		similarity = DefaultSimilarity
	}
	norm := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if n := normalize(p); n != "" {
			norm = append(norm, n)
		}
	}
	f.mu.Lock()
	f.phrases = norm
	f.similarity = similarity
	f.mu.Unlock()
}

// Check returns the reason text should be discarded, or "" if it looks like
// real speech.
func (f *Filter) Check(text string) string {
	n := normalize(text)
	if n == "" {
		return FilterNoWords
	}

	f.mu.RLock()
	phrases, sim := f.phrases, f.similarity
	f.mu.RUnlock()

	for _, p := range phrases {
		if n == p {
			return FilterKnownPhrase
		}
		// Only compare strings of similar length; a long sentence that
		// starts with a filler phrase is still speech.
		if !comparableLength(n, p) {
			continue
		}
		if matchr.JaroWinkler(n, p, false) >= sim {
			return FilterKnownPhrase
		}
	}

	if repetitive(strings.Fields(n)) {
		return FilterRepetition
	}
	return ""
}

func comparableLength(a, b string) bool {
	la, lb := len(a), len(b)
	if la > lb {
		la, lb = lb, la
	}
	return la*5 >= lb*4
}

// repetitive reports whether a single token makes up most of a long enough
// transcript, e.g. "the the the the the the".
func repetitive(tokens []string) bool {
	if len(tokens) < minRepetitionTokens {
		return false
	}
	counts := make(map[string]int, len(tokens))
	top := 0
	for _, t := range tokens {
		counts[t]++
		top = max(top, counts[t])
	}
	return float64(top) > repetitionShare*float64(len(tokens))
}

// normalize lowercases s, turns punctuation into spaces, and collapses runs
// of whitespace. A result of "" means s had no letters or digits.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
