package anonymize

import (
	"sort"
	"strings"
	"unicode"
)

// Options control engine matching behavior.
type Options struct {
	// WordBoundaries requires a letter-free character (or the text edge) on
	// both sides of a match, so a key "John" never fires inside "Johnny".
	WordBoundaries bool
}

// Engine turns message text into a sequence of render segments using a
// per-conversation privacy dictionary. It is pure and safe for concurrent
// use: every call is an independent transform of its inputs.
type Engine struct {
	opts Options
}

// New creates an anonymization engine.
func New(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Anonymize splits text into literal and redacted segments. When enabled is
// false, or dictionaryJSON is empty, malformed, or not a JSON object, the
// result is the single literal segment [text]: rendering never fails because
// redaction metadata is missing or corrupt.
func (e *Engine) Anonymize(text, dictionaryJSON string, enabled bool) []Segment {
	if !enabled {
		return []Segment{{Kind: KindLiteral, Text: text}}
	}
	return e.AnonymizeWith(text, ParseDictionary(dictionaryJSON))
}

// AnonymizeWith is Anonymize with an already parsed dictionary.
func (e *Engine) AnonymizeWith(text string, dict Dictionary) []Segment {
	if dict.Len() == 0 {
		return []Segment{{Kind: KindLiteral, Text: text}}
	}

	candidates := dict.sortedForMatching()
	terms := make([][]rune, len(candidates))
	for i, c := range candidates {
		terms[i] = []rune(c.Term)
	}

	runes := []rune(text)
	segments := make([]Segment, 0, 4)
	literalStart := 0

	flushLiteral := func(end int) {
		if end > literalStart {
			segments = append(segments, Segment{
				Kind: KindLiteral,
				Text: string(runes[literalStart:end]),
			})
		}
	}

	i := 0
	for i < len(runes) {
		idx, length := e.matchAt(runes, i, candidates, terms)
		if idx < 0 {
			i++
			continue
		}

		matched := string(runes[i : i+length])
		flushLiteral(i)
		segments = append(segments, Segment{
			Kind:    KindRedacted,
			Text:    matched,
			Display: conformCase(matched, candidates[idx].Token),
		})
		i += length
		literalStart = i
	}
	flushLiteral(len(runes))

	if len(segments) == 0 {
		return []Segment{{Kind: KindLiteral, Text: text}}
	}
	return segments
}

// matchAt returns the index of the first candidate matching at position pos,
// or -1. Candidates arrive longest first, so the first hit is the longest.
func (e *Engine) matchAt(runes []rune, pos int, candidates []Entry, terms [][]rune) (int, int) {
	for idx, term := range terms {
		n := len(term)
		if n == 0 || pos+n > len(runes) {
			continue
		}
		if !strings.EqualFold(string(runes[pos:pos+n]), candidates[idx].Term) {
			continue
		}
		if e.opts.WordBoundaries && !boundaryAt(runes, pos, n) {
			continue
		}
		return idx, n
	}
	return -1, 0
}

// boundaryAt reports whether the window [pos, pos+n) is delimited by
// non-letter characters or the text edges.
func boundaryAt(runes []rune, pos, n int) bool {
	if pos > 0 && unicode.IsLetter(runes[pos-1]) {
		return false
	}
	if pos+n < len(runes) && unicode.IsLetter(runes[pos+n]) {
		return false
	}
	return true
}

// Deanonymize substitutes replacement tokens back to their originals using a
// token->original rule map. Tokens are matched literally (exact casing) and
// longest first, so "PERSON_0010" is never clipped by "PERSON_001".
func (e *Engine) Deanonymize(text string, rules map[string]string) string {
	if len(rules) == 0 {
		return text
	}

	tokens := make([]string, 0, len(rules))
	for token := range rules {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if len(tokens[i]) != len(tokens[j]) {
			return len(tokens[i]) > len(tokens[j])
		}
		return tokens[i] < tokens[j]
	})

	result := text
	for _, token := range tokens {
		result = strings.ReplaceAll(result, token, rules[token])
	}
	return result
}
