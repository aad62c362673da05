package anonymize

import (
	"strings"
	"unicode"
)

// conformCase derives the display casing of a replacement token from the
// casing of the matched source text. When both sides are multi-word with the
// same word count the rule is applied word by word, so "JANE bush" with token
// "john doe" renders as "JOHN doe"; otherwise the whole match is treated as
// one word.
func conformCase(matched, token string) string {
	if matched == "" || token == "" {
		return token
	}

	matchedWords := strings.Fields(matched)
	tokenWords := strings.Fields(token)
	if len(matchedWords) > 1 && len(matchedWords) == len(tokenWords) {
		out := make([]string, len(tokenWords))
		for i := range tokenWords {
			out[i] = conformWord(matchedWords[i], tokenWords[i])
		}
		return strings.Join(out, " ")
	}

	return conformWord(matched, token)
}

// conformWord applies the casing of a single matched word to a token:
// all-upper source gives an all-upper token, all-lower gives all-lower,
// anything else (mixed case, or no letters at all) gives a title-cased token.
func conformWord(matched, token string) string {
	switch {
	case isAllUpper(matched):
		return strings.ToUpper(token)
	case isAllLower(matched):
		return strings.ToLower(token)
	}

	r := []rune(strings.ToLower(token))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// isAllUpper reports whether s contains at least one letter and no
// lower-case letters.
func isAllUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		hasLetter = true
		if !unicode.IsUpper(r) {
			return false
		}
	}
	return hasLetter
}

// isAllLower reports whether s contains at least one letter and no
// upper-case letters.
func isAllLower(s string) bool {
	hasLetter := false
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		hasLetter = true
		if !unicode.IsLower(r) {
			return false
		}
	}
	return hasLetter
}
