package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoggingMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		uid       string
		wantLevel string
	}{
		{name: "200はINFO", status: http.StatusOK, uid: "u-1", wantLevel: "INFO"},
		{name: "404はWARN", status: http.StatusNotFound, wantLevel: "WARN"},
		{name: "500はERROR", status: http.StatusInternalServerError, wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))
			handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
			if tt.uid != "" {
				req = req.WithContext(ContextWithSession(req.Context(), "s", tt.uid))
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			var entry map[string]interface{}
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("invalid JSON log: %v\n%s", err, buf.String())
			}
			if entry["msg"] != "http_request" {
				t.Errorf("msg = %v", entry["msg"])
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if entry["method"] != "POST" || entry["path"] != "/auth/login" {
				t.Errorf("method/path = %v %v", entry["method"], entry["path"])
			}
			if entry["status"] != float64(tt.status) {
				t.Errorf("status = %v, want %d", entry["status"], tt.status)
			}
			if _, ok := entry["duration_ms"]; !ok {
				t.Error("duration_ms missing")
			}
			if tt.uid != "" && entry["uid"] != tt.uid {
				t.Errorf("uid = %v, want %s", entry["uid"], tt.uid)
			}
			if tt.uid == "" {
				if _, ok := entry["uid"]; ok {
					t.Error("uid should be absent for anonymous requests")
				}
			}
		})
	}
}

func TestLoggingMiddleware_ImplicitOK(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	handler := NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	var entry map[string]interface{}
	_ = json.Unmarshal(buf.Bytes(), &entry)
	if entry["status"] != float64(200) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/mentors", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestRecoveryMiddleware_AbortHandlerRepanics(t *testing.T) {
	handler := NewRecoveryMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}
