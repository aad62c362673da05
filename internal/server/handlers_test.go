package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatveil/internal/anonymize"
	"chatveil/internal/config"
	"chatveil/internal/logger"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()

	cfg := config.GetDefaults()
	cfg.Database.Enabled = false
	cfg.Cache.Enabled = false
	cfg.Security.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := New(cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleAnonymizeInlineDictionary(t *testing.T) {
	srv := newTestServer(t, nil)

	dict := `{"John Doe":"Person_001","Acme Corp":"Company_001"}`
	rec := doJSON(t, srv, "POST", "/v1/anonymize", AnonymizeRequest{
		Text:       "Hello John Doe, welcome to Acme Corp!",
		Dictionary: &dict,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp AnonymizeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.Display != "Hello Person_001, welcome to Company_001!" {
		t.Errorf("display = %q, want %q", resp.Display, "Hello Person_001, welcome to Company_001!")
	}
	if resp.RedactedCount != 2 {
		t.Errorf("redacted_count = %d, want 2", resp.RedactedCount)
	}
	if got := anonymize.Original(resp.Segments); got != "Hello John Doe, welcome to Acme Corp!" {
		t.Errorf("segments do not reconstruct original: %q", got)
	}
}

func TestHandleAnonymizeDisabled(t *testing.T) {
	srv := newTestServer(t, nil)

	dict := `{"John":"Person_001"}`
	off := false
	rec := doJSON(t, srv, "POST", "/v1/anonymize", AnonymizeRequest{
		Text:       "Hello John",
		Dictionary: &dict,
		Enabled:    &off,
	})

	var resp AnonymizeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Display != "Hello John" {
		t.Errorf("display = %q, want unchanged text", resp.Display)
	}
	if resp.RedactedCount != 0 {
		t.Errorf("redacted_count = %d, want 0", resp.RedactedCount)
	}
}

func TestHandleAnonymizeMalformedDictionary(t *testing.T) {
	srv := newTestServer(t, nil)

	dict := `{not json`
	rec := doJSON(t, srv, "POST", "/v1/anonymize", AnonymizeRequest{
		Text:       "Hello John",
		Dictionary: &dict,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: malformed dictionaries degrade, not fail", rec.Code, http.StatusOK)
	}
	var resp AnonymizeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Display != "Hello John" {
		t.Errorf("display = %q, want unredacted text", resp.Display)
	}
}

func TestHandleAnonymizeInvalidBody(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest("POST", "/v1/anonymize", bytes.NewBufferString("{broken"))
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleDeanonymizeWithRules(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, "POST", "/v1/deanonymize", DeanonymizeRequest{
		Text:  "Hello Person_001, welcome to Company_001!",
		Rules: map[string]string{"Person_001": "John Doe", "Company_001": "Acme Corp"},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp DeanonymizeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Text != "Hello John Doe, welcome to Acme Corp!" {
		t.Errorf("text = %q", resp.Text)
	}
}

func TestPersistenceDisabledEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
	}{
		{"list conversations", "GET", "/v1/conversations", nil},
		{"get dictionary", "GET", "/v1/conversations/abc/dictionary", nil},
		{"put dictionary", "PUT", "/v1/conversations/abc/dictionary", map[string]string{"a": "b"}},
		{"delete dictionary", "DELETE", "/v1/conversations/abc/dictionary", nil},
		{"add term", "POST", "/v1/conversations/abc/dictionary/terms", AddTermRequest{Term: "John", Class: "person"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, srv, tt.method, tt.path, tt.body)
			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
			}
		})
	}
}

func TestHandleClearCacheDisabled(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doJSON(t, srv, "DELETE", "/v1/cache", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestCacheStatusDisabled(t *testing.T) {
	srv := newTestServer(t, nil)

	if got := srv.cacheStatus(); got != nil {
		t.Errorf("cacheStatus = %+v, want nil without a cache", got)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Security.RateLimit.Enabled = true
		cfg.Security.RateLimit.RequestsPerMin = 60
		cfg.Security.RateLimit.Burst = 2
	})

	dict := `{}`
	body := AnonymizeRequest{Text: "hi", Dictionary: &dict}

	for i := 0; i < 2; i++ {
		if rec := doJSON(t, srv, "POST", "/v1/anonymize", body); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want %d", i, rec.Code, http.StatusOK)
		}
	}
	if rec := doJSON(t, srv, "POST", "/v1/anonymize", body); rec.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d after burst", rec.Code, http.StatusTooManyRequests)
	}
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("health body is not JSON: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status field = %v, want healthy", body["status"])
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, nil)

	dict := `{}`
	rec := doJSON(t, srv, "POST", "/v1/anonymize", AnonymizeRequest{Text: "hi", Dictionary: &dict})
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header on API responses")
	}
}
