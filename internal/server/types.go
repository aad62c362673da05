package server

import "chatveil/internal/anonymize"

// AnonymizeRequest is the body of POST /v1/anonymize.
type AnonymizeRequest struct {
	// ConversationID selects the stored dictionary when Dictionary is absent.
	ConversationID string `json:"conversation_id,omitempty"`
	// Role tags the message for hashing ("user", "assistant"); optional.
	Role string `json:"role,omitempty"`
	Text string `json:"text"`
	// Dictionary, when present, overrides any stored dictionary. It may be
	// malformed; rendering degrades to the unredacted text in that case.
	Dictionary *string `json:"dictionary,omitempty"`
	// Enabled defaults to the server's privacy.enabled setting.
	Enabled *bool `json:"enabled,omitempty"`
}

// AnonymizeResponse carries both presentation forms: segments for callers
// that style redacted spans individually, and the flattened display string
// for callers that feed a markdown renderer.
type AnonymizeResponse struct {
	Segments      []anonymize.Segment `json:"segments"`
	Display       string              `json:"display"`
	RedactedCount int                 `json:"redacted_count"`
	ProcessingMS  float64             `json:"processing_ms"`
}

// DeanonymizeRequest is the body of POST /v1/deanonymize. Rules map tokens
// back to originals; when empty and a conversation is given, the stored
// dictionary is inverted instead.
type DeanonymizeRequest struct {
	ConversationID string            `json:"conversation_id,omitempty"`
	Text           string            `json:"text"`
	Rules          map[string]string `json:"rules,omitempty"`
}

// DeanonymizeResponse is the body returned by POST /v1/deanonymize.
type DeanonymizeResponse struct {
	Text string `json:"text"`
}

// AddTermRequest is the body of POST /v1/conversations/{id}/dictionary/terms.
type AddTermRequest struct {
	Term  string `json:"term"`
	Class string `json:"class"`
}

// AddTermResponse reports the token allocated for a newly added term.
type AddTermResponse struct {
	Term  string `json:"term"`
	Token string `json:"token"`
}

// ConversationsResponse is the body of GET /v1/conversations.
type ConversationsResponse struct {
	Conversations []string `json:"conversations"`
}

// ErrorResponse is the generic error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
