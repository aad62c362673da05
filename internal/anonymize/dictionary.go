package anonymize

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ParseDictionary parses a JSON object of term->token rules, preserving key
// order. Any malformed input collapses to an empty dictionary: chat content
// must always render even if redaction metadata is absent or corrupt.
func ParseDictionary(raw string) Dictionary {
	entries, err := parseEntries(raw)
	if err != nil {
		return Dictionary{}
	}
	return Dictionary{entries: entries}
}

// ParseDictionaryStrict is the validating variant used where dictionaries are
// written rather than rendered, e.g. the dictionary PUT endpoint.
func ParseDictionaryStrict(raw string) (Dictionary, error) {
	entries, err := parseEntries(raw)
	if err != nil {
		return Dictionary{}, err
	}
	return Dictionary{entries: entries}, nil
}

// parseEntries streams the JSON object token by token so that key order
// survives; unmarshalling into a map would lose it.
func parseEntries(raw string) ([]Entry, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	dec := json.NewDecoder(strings.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("invalid dictionary: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("dictionary is not a JSON object")
	}

	var entries []Entry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid dictionary key: %w", err)
		}
		term, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("dictionary key is not a string")
		}

		valTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("invalid dictionary value: %w", err)
		}
		token, ok := valTok.(string)
		if !ok {
			return nil, fmt.Errorf("value for %q is not a string", term)
		}

		if term == "" {
			continue
		}
		entries = append(entries, Entry{Term: term, Token: token})
	}

	// Closing brace, then nothing but EOF.
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("invalid dictionary: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after dictionary object")
	}

	return entries, nil
}

// sortedForMatching returns the entries ordered for longest-match-first
// scanning: descending term length in runes, ties kept in insertion order.
func (d Dictionary) sortedForMatching() []Entry {
	sorted := make([]Entry, len(d.entries))
	copy(sorted, d.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len([]rune(sorted[i].Term)) > len([]rune(sorted[j].Term))
	})
	return sorted
}

// Append returns a dictionary with the rule added at the end. An existing
// term keeps its position and takes the new token.
func (d Dictionary) Append(term, token string) Dictionary {
	entries := make([]Entry, len(d.entries))
	copy(entries, d.entries)

	for i := range entries {
		if entries[i].Term == term {
			entries[i].Token = token
			return Dictionary{entries: entries}
		}
	}
	return Dictionary{entries: append(entries, Entry{Term: term, Token: token})}
}

// JSON serializes the dictionary as a JSON object with keys in entry order.
// encoding/json map marshalling sorts keys, so the object is built by hand.
func (d Dictionary) JSON() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range d.entries {
		if i > 0 {
			b.WriteByte(',')
		}
		key, _ := json.Marshal(e.Term)
		val, _ := json.Marshal(e.Token)
		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}
	b.WriteByte('}')
	return b.String()
}

// Merge overlays one rule map onto another; overlay wins on conflicts.
func Merge(base, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overlay))
	for term, token := range base {
		merged[term] = token
	}
	for term, token := range overlay {
		merged[term] = token
	}
	return merged
}

// NextToken returns the next free replacement token for an entity class,
// e.g. NextToken(dict, "person") -> "PERSON_003" when PERSON_001 and
// PERSON_002 are already taken. Tokens are derived from the dictionary
// itself so allocation stays deterministic across restarts.
func NextToken(rules map[string]string, class string) string {
	prefix := strings.ToUpper(strings.TrimSpace(class)) + "_"

	max := 0
	for _, token := range rules {
		if !strings.HasPrefix(token, prefix) {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(strings.TrimPrefix(token, prefix), "%d", &n); err == nil && n > max {
			max = n
		}
	}

	return fmt.Sprintf("%s%03d", prefix, max+1)
}
