package anonymize

import (
	"testing"
)

func newTestEngine() *Engine {
	return New(Options{WordBoundaries: true})
}

func TestAnonymizeDisabled(t *testing.T) {
	e := newTestEngine()

	segments := e.Anonymize("Hello John Doe!", `{"John Doe":"PERSON_001"}`, false)
	if len(segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segments))
	}
	if segments[0].Kind != KindLiteral || segments[0].Text != "Hello John Doe!" {
		t.Errorf("disabled engine must pass text through, got %+v", segments[0])
	}
}

func TestAnonymizeDegradedDictionaries(t *testing.T) {
	e := newTestEngine()

	testCases := []struct {
		name       string
		dictionary string
	}{
		{"empty string", ""},
		{"malformed json", "invalid json"},
		{"truncated object", `{"John":`},
		{"json array", `["John"]`},
		{"json scalar", `"John"`},
		{"non-string value", `{"John": 42}`},
		{"empty object", "{}"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			segments := e.Anonymize("Hello John Doe!", tc.dictionary, true)
			if len(segments) != 1 || segments[0].Kind != KindLiteral {
				t.Fatalf("expected single literal segment, got %+v", segments)
			}
			if segments[0].Text != "Hello John Doe!" {
				t.Errorf("text altered: %q", segments[0].Text)
			}
		})
	}
}

func TestAnonymizeBasicSubstitution(t *testing.T) {
	e := newTestEngine()

	segments := e.Anonymize("Hello John Doe!", `{"John Doe":"PERSON_001"}`, true)

	want := []Segment{
		{Kind: KindLiteral, Text: "Hello "},
		{Kind: KindRedacted, Text: "John Doe", Display: "Person_001"},
		{Kind: KindLiteral, Text: "!"},
	}
	assertSegments(t, segments, want)

	if got := Flatten(segments); got != "Hello Person_001!" {
		t.Errorf("Flatten = %q, want %q", got, "Hello Person_001!")
	}
}

func TestAnonymizeCaseConformance(t *testing.T) {
	e := newTestEngine()

	segments := e.Anonymize("JOHN DOE and john doe met", `{"john doe":"person one"}`, true)

	if got := Flatten(segments); got != "PERSON ONE and person one met" {
		t.Errorf("Flatten = %q", got)
	}
	if got := Original(segments); got != "JOHN DOE and john doe met" {
		t.Errorf("Original = %q", got)
	}
}

func TestAnonymizeLongestMatchFirst(t *testing.T) {
	e := newTestEngine()

	// "John" alone must not break "John Doe" apart even though both keys
	// are present and "John" comes first in the dictionary.
	segments := e.Anonymize(
		"John Doe and John met",
		`{"John":"PERSON_002","John Doe":"PERSON_001"}`,
		true,
	)

	want := []Segment{
		{Kind: KindRedacted, Text: "John Doe", Display: "Person_001"},
		{Kind: KindLiteral, Text: " and "},
		{Kind: KindRedacted, Text: "John", Display: "Person_002"},
		{Kind: KindLiteral, Text: " met"},
	}
	assertSegments(t, segments, want)
}

func TestAnonymizeMultipleEntities(t *testing.T) {
	e := newTestEngine()

	dict := `{"John Doe":"PERSON_001","Jane Smith":"PERSON_002","John":"PERSON_003","Google":"COMPANY_001","Microsoft":"COMPANY_002"}`
	text := "John Doe works at Google with Jane Smith and John from Microsoft."

	segments := e.Anonymize(text, dict, true)

	redacted := 0
	for _, s := range segments {
		if s.Kind == KindRedacted {
			redacted++
		}
	}
	if redacted != 5 {
		t.Errorf("expected 5 redacted spans, got %d in %+v", redacted, segments)
	}

	if got := Flatten(segments); got != "Person_001 works at Company_001 with Person_002 and Person_003 from Company_002." {
		t.Errorf("Flatten = %q", got)
	}
	if got := Original(segments); got != text {
		t.Errorf("Original = %q", got)
	}
}

func TestAnonymizeWordBoundaries(t *testing.T) {
	e := newTestEngine()

	testCases := []struct {
		name string
		text string
		want string
	}{
		{"inside longer word", "Johnny called", "Johnny called"},
		{"suffix attached", "Johns", "Johns"},
		{"standalone", "John called", "Person_001 called"},
		{"punctuation boundary", "Hi, John!", "Hi, Person_001!"},
		{"digit neighbor is a boundary", "John2", "Person_0012"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			segments := e.Anonymize(tc.text, `{"John":"PERSON_001"}`, true)
			if got := Flatten(segments); got != tc.want {
				t.Errorf("Flatten(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}

func TestAnonymizeRawSubstringMode(t *testing.T) {
	e := New(Options{WordBoundaries: false})

	segments := e.Anonymize("Johnny", `{"John":"PERSON_001"}`, true)
	if got := Flatten(segments); got != "Person_001ny" {
		t.Errorf("Flatten = %q, want %q", got, "Person_001ny")
	}
}

func TestAnonymizeRoundTripProperty(t *testing.T) {
	e := newTestEngine()
	dict := `{"John Doe":"PERSON_001","Jane":"PERSON_002","Acme Corp":"COMPANY_001"}`

	texts := []string{
		"",
		"no entities here",
		"John Doe",
		"JANE and jane and JaNe",
		"Acme Corp hired John Doe; Jane approved. Acme Corp won.",
		"unicode: Jörg met Jane at the café ☕",
		"adjacent John Doe Jane tokens",
	}

	for _, text := range texts {
		for _, enabled := range []bool{true, false} {
			segments := e.Anonymize(text, dict, enabled)
			if got := Original(segments); got != text {
				t.Errorf("round trip failed for %q (enabled=%v): got %q", text, enabled, got)
			}
		}
	}
}

func TestAnonymizeEmptyText(t *testing.T) {
	e := newTestEngine()

	segments := e.Anonymize("", `{"John":"PERSON_001"}`, true)
	if len(segments) != 1 || segments[0].Kind != KindLiteral || segments[0].Text != "" {
		t.Errorf("expected single empty literal, got %+v", segments)
	}
}

func TestDeanonymize(t *testing.T) {
	e := newTestEngine()

	testCases := []struct {
		name  string
		text  string
		rules map[string]string
		want  string
	}{
		{
			"simple token",
			"Person_001 called",
			map[string]string{"Person_001": "John Doe"},
			"John Doe called",
		},
		{
			"longest token first",
			"PERSON_0010 and PERSON_001",
			map[string]string{"PERSON_001": "John", "PERSON_0010": "Jane"},
			"Jane and John",
		},
		{
			"no rules",
			"unchanged",
			nil,
			"unchanged",
		},
		{
			"unknown token untouched",
			"PERSON_099 speaking",
			map[string]string{"PERSON_001": "John"},
			"PERSON_099 speaking",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := e.Deanonymize(tc.text, tc.rules); got != tc.want {
				t.Errorf("Deanonymize = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAnonymizeDeanonymizeRoundTrip(t *testing.T) {
	e := newTestEngine()

	dict := ParseDictionary(`{"john doe":"PERSON_001","acme":"COMPANY_001"}`)
	text := "john doe left acme last year"

	segments := e.AnonymizeWith(text, dict)
	display := Flatten(segments)
	if display == text {
		t.Fatal("nothing was anonymized")
	}

	// Reverse rules are token->original. The lowercase source means the
	// conformed tokens are lowercase too, so reversal restores the input.
	reverse := map[string]string{"person_001": "john doe", "company_001": "acme"}
	if got := e.Deanonymize(display, reverse); got != text {
		t.Errorf("round trip = %q, want %q", got, text)
	}
}

func assertSegments(t *testing.T, got, want []Segment) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("segment count = %d, want %d (%+v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("segment %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
