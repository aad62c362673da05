package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeRedaction represents a dictionary redaction event
	EventTypeRedaction EventType = "redaction"
	// EventTypeRequestLog represents a request logging event
	EventTypeRequestLog EventType = "request_log"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// RedactionFinding summarizes how often one replacement token fired. Only
// tokens travel over the wire, never matched source text.
type RedactionFinding struct {
	Token string `json:"token"`
	Count int    `json:"count"`
}

// RedactionEvent represents a completed anonymization pass
type RedactionEvent struct {
	RequestID      string             `json:"request_id"`
	ConversationID string             `json:"conversation_id,omitempty"`
	Findings       []RedactionFinding `json:"findings"`
	TotalRedacted  int                `json:"total_redacted"`
	TextLength     int                `json:"text_length"`
	ProcessingMS   float64            `json:"processing_ms"`
}

// RequestLogEvent represents a request logging event
type RequestLogEvent struct {
	RequestID    string        `json:"request_id"`
	Method       string        `json:"method"`
	Path         string        `json:"path"`
	StatusCode   int           `json:"status_code"`
	ClientIP     string        `json:"client_ip"`
	UserAgent    string        `json:"user_agent,omitempty"`
	Duration     time.Duration `json:"duration"`
	RequestSize  int64         `json:"request_size"`
	ResponseSize int64         `json:"response_size"`
}

// SystemStatusEvent represents system status information. Cache is nil when
// the dictionary cache is disabled.
type SystemStatusEvent struct {
	Status           string            `json:"status"`
	Uptime           string            `json:"uptime"`
	TotalRequests    int64             `json:"total_requests"`
	TotalRedactions  int64             `json:"total_redactions"`
	ConnectedClients int               `json:"connected_clients"`
	Cache            *CacheStatusEvent `json:"cache,omitempty"`
}

// CacheStatusEvent summarizes dictionary cache performance
type CacheStatusEvent struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	TotalKeys int64   `json:"total_keys"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType `json:"events"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}
