package anonymize

// SegmentKind distinguishes literal text from redacted spans.
type SegmentKind string

const (
	// KindLiteral marks text rendered unchanged.
	KindLiteral SegmentKind = "literal"
	// KindRedacted marks a span displayed as its replacement token.
	KindRedacted SegmentKind = "redacted"
)

// Segment is one contiguous piece of a rendered message. Text always holds
// the original characters from the source message; for redacted segments
// Display holds the replacement token with its casing conformed to Text.
type Segment struct {
	Kind    SegmentKind `json:"kind"`
	Text    string      `json:"text"`
	Display string      `json:"display,omitempty"`
}

// Entry is a single dictionary rule: a sensitive term and its token.
type Entry struct {
	Term  string `json:"term"`
	Token string `json:"token"`
}

// Dictionary is an ordered set of anonymization rules. Order is the original
// JSON key order and is used to break ties between equally long terms.
type Dictionary struct {
	entries []Entry
}

// Len returns the number of rules.
func (d Dictionary) Len() int { return len(d.entries) }

// Entries returns the rules in their original order.
func (d Dictionary) Entries() []Entry { return d.entries }

// Map returns the rules as a plain term->token map.
func (d Dictionary) Map() map[string]string {
	m := make(map[string]string, len(d.entries))
	for _, e := range d.entries {
		m[e.Term] = e.Token
	}
	return m
}

// Original reconstructs the source text from a segment sequence. For any
// input this equals the text the segments were produced from.
func Original(segments []Segment) string {
	var b []byte
	for _, s := range segments {
		b = append(b, s.Text...)
	}
	return string(b)
}

// Flatten renders a segment sequence as a single display string, with
// redacted spans replaced by their conformed tokens. This is the form fed
// to markdown renderers, which cannot carry per-span styling.
func Flatten(segments []Segment) string {
	var b []byte
	for _, s := range segments {
		if s.Kind == KindRedacted {
			b = append(b, s.Display...)
		} else {
			b = append(b, s.Text...)
		}
	}
	return string(b)
}
