package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chatveil/internal/anonymize"
	"chatveil/internal/store"
	"chatveil/internal/websocket"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// handleAnonymize turns message text into literal/redacted segments using
// either an inline dictionary or the conversation's stored one.
func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	var req AnonymizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err == io.EOF {
			writeError(w, http.StatusBadRequest, "empty request body")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	enabled := s.config.Privacy.Enabled
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	dictJSON, dictFound := s.resolveDictionary(r, &req)

	start := time.Now()
	segments := s.engine.Anonymize(req.Text, dictJSON, enabled)
	elapsed := time.Since(start)

	redacted := 0
	for _, seg := range segments {
		if seg.Kind == anonymize.KindRedacted {
			redacted++
		}
	}
	atomic.AddInt64(&s.totalRedactions, int64(redacted))

	// Track which messages of a persisted conversation have already been
	// through the engine, so replayed history is not double-processed.
	if s.store != nil && req.ConversationID != "" && dictFound && enabled {
		hash := store.MessageHash(req.Role, req.Text)
		if done, err := s.store.IsMessageAnonymized(r.Context(), req.ConversationID, hash); err == nil && !done {
			if err := s.store.MarkMessageAnonymized(r.Context(), req.ConversationID, hash); err != nil {
				s.logger.Warn("Failed to mark message as anonymized", zap.Error(err))
			}
		}
	}

	if redacted > 0 {
		s.broadcastRedaction(r, &req, segments, redacted, elapsed)
	}

	writeJSON(w, http.StatusOK, AnonymizeResponse{
		Segments:      segments,
		Display:       anonymize.Flatten(segments),
		RedactedCount: redacted,
		ProcessingMS:  float64(elapsed.Microseconds()) / 1000.0,
	})
}

// resolveDictionary picks the dictionary for a request: an inline one wins,
// otherwise the conversation's stored dictionary via the cache. Returns the
// raw JSON and whether any dictionary source existed.
func (s *Server) resolveDictionary(r *http.Request, req *AnonymizeRequest) (string, bool) {
	if req.Dictionary != nil {
		return *req.Dictionary, true
	}
	if req.ConversationID == "" {
		return "", false
	}

	if s.cache != nil {
		if dictJSON, ok := s.cache.Get(r.Context(), req.ConversationID); ok {
			return dictJSON, true
		}
	}

	if s.store == nil {
		return "", false
	}
	dictJSON, found, err := s.store.GetDictJSON(r.Context(), req.ConversationID)
	if err != nil {
		s.logger.WithConversation(req.ConversationID).Error("Failed to load dictionary", zap.Error(err))
		return "", false
	}
	if !found {
		return "", false
	}

	if s.cache != nil {
		if err := s.cache.Set(r.Context(), req.ConversationID, dictJSON); err != nil {
			s.logger.Warn("Failed to cache dictionary", zap.Error(err))
		}
	}
	return dictJSON, true
}

func (s *Server) broadcastRedaction(r *http.Request, req *AnonymizeRequest, segments []anonymize.Segment, redacted int, elapsed time.Duration) {
	counts := make(map[string]int)
	for _, seg := range segments {
		if seg.Kind == anonymize.KindRedacted {
			counts[seg.Display]++
		}
	}
	findings := make([]websocket.RedactionFinding, 0, len(counts))
	for token, count := range counts {
		findings = append(findings, websocket.RedactionFinding{Token: token, Count: count})
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].Token < findings[j].Token })

	requestID := requestIDFromContext(r.Context())
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeRedaction,
		Timestamp: time.Now(),
		RequestID: requestID,
		Data: websocket.RedactionEvent{
			RequestID:      requestID,
			ConversationID: req.ConversationID,
			Findings:       findings,
			TotalRedacted:  redacted,
			TextLength:     len(req.Text),
			ProcessingMS:   float64(elapsed.Microseconds()) / 1000.0,
		},
	})
}

// handleDeanonymize restores original terms in text. Explicit rules map
// tokens to originals; without rules the conversation's stored dictionary
// is inverted.
func (s *Server) handleDeanonymize(w http.ResponseWriter, r *http.Request) {
	var req DeanonymizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	rules := req.Rules
	if len(rules) == 0 && req.ConversationID != "" {
		if s.store == nil {
			writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
			return
		}
		dict, found, err := s.store.GetDict(r.Context(), req.ConversationID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load dictionary")
			return
		}
		if !found {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		rules = make(map[string]string, len(dict))
		for term, token := range dict {
			rules[token] = term
		}
	}

	writeJSON(w, http.StatusOK, DeanonymizeResponse{
		Text: s.engine.Deanonymize(req.Text, rules),
	})
}

// handleListConversations lists conversations with a stored dictionary.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}
	ids, err := s.store.ListConversations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ConversationsResponse{Conversations: ids})
}

// handleGetDictionary returns the stored dictionary JSON verbatim, key
// order intact.
func (s *Server) handleGetDictionary(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}
	conversationID := mux.Vars(r)["id"]

	dictJSON, found, err := s.store.GetDictJSON(r.Context(), conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load dictionary")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(dictJSON))
}

// handlePutDictionary replaces the stored dictionary for a conversation.
// The body must be a well-formed JSON object of term->token strings.
func (s *Server) handlePutDictionary(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}
	conversationID := mux.Vars(r)["id"]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	dict, err := anonymize.ParseDictionaryStrict(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid dictionary: "+err.Error())
		return
	}
	if max := s.config.Privacy.MaxDictionaryEntries; max > 0 && dict.Len() > max {
		writeError(w, http.StatusBadRequest, "dictionary exceeds entry limit")
		return
	}

	// Store the canonical serialization rather than the raw body so stray
	// whitespace or duplicate keys do not survive the round trip.
	if err := s.store.SaveDictJSON(r.Context(), conversationID, dict.JSON()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save dictionary")
		return
	}
	s.invalidateCache(r, conversationID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": conversationID,
		"entries":         dict.Len(),
	})
}

// handleDeleteDictionary removes a conversation's dictionary and its
// anonymized-message markers.
func (s *Server) handleDeleteDictionary(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}
	conversationID := mux.Vars(r)["id"]

	deleted, err := s.store.DeleteConversation(r.Context(), conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete conversation")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	s.invalidateCache(r, conversationID)

	w.WriteHeader(http.StatusNoContent)
}

// handleAddTerm appends one term to a conversation's dictionary, allocating
// the next token for its class (PERSON_001, PERSON_002, ...). A conversation
// without a dictionary gets a fresh one.
func (s *Server) handleAddTerm(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}
	conversationID := mux.Vars(r)["id"]

	var req AddTermRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Term) == "" {
		writeError(w, http.StatusBadRequest, "term is required")
		return
	}
	if req.Class == "" {
		req.Class = "entity"
	}

	dictJSON, _, err := s.store.GetDictJSON(r.Context(), conversationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load dictionary")
		return
	}
	dict := anonymize.ParseDictionary(dictJSON)

	if max := s.config.Privacy.MaxDictionaryEntries; max > 0 && dict.Len() >= max {
		writeError(w, http.StatusBadRequest, "dictionary exceeds entry limit")
		return
	}

	token := anonymize.NextToken(dict.Map(), req.Class)
	dict = dict.Append(req.Term, token)

	if err := s.store.SaveDictJSON(r.Context(), conversationID, dict.JSON()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save dictionary")
		return
	}
	s.invalidateCache(r, conversationID)

	writeJSON(w, http.StatusCreated, AddTermResponse{Term: req.Term, Token: token})
}

// handleClearCache flushes every cached dictionary. Stored dictionaries are
// untouched; subsequent requests repopulate the cache from the store.
func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache is disabled")
		return
	}

	if err := s.cache.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear cache")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) invalidateCache(r *http.Request, conversationID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(r.Context(), conversationID); err != nil {
		s.logger.Warn("Failed to invalidate cached dictionary", zap.Error(err))
	}
}
