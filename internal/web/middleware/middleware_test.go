package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func echoRemote() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.RemoteAddr))
	})
}

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{"untrusted peer keeps address", []string{"10.0.0.0/8"}, "203.0.113.5:4000",
			map[string]string{"X-Real-IP": "1.2.3.4"}, "203.0.113.5:4000"},
		{"trusted peer uses X-Real-IP", []string{"10.0.0.0/8"}, "10.1.2.3:4000",
			map[string]string{"X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
		{"trusted peer uses first forwarded", []string{"127.0.0.1"}, "127.0.0.1:5555",
			map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"}, "198.51.100.7"},
		{"invalid header ignored", []string{"10.0.0.0/8"}, "10.1.2.3:4000",
			map[string]string{"X-Real-IP": "not-an-ip"}, "10.1.2.3:4000"},
		{"no trusted proxies", nil, "10.1.2.3:4000",
			map[string]string{"X-Real-IP": "198.51.100.7"}, "10.1.2.3:4000"},
		{"bad cidr skipped", []string{"bogus", "10.0.0.0/8"}, "10.9.9.9:1",
			map[string]string{"X-Real-IP": "198.51.100.8"}, "198.51.100.8"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			TrustedRealIP(tt.trusted)(echoRemote()).ServeHTTP(rec, req)
			if got := rec.Body.String(); got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name     string
		required bool
		keys     []string
		header   string
		value    string
		want     int
	}{
		{"disabled", false, nil, "", "", http.StatusNoContent},
		{"missing", true, []string{"k1"}, "", "", http.StatusUnauthorized},
		{"invalid", true, []string{"k1"}, "X-API-Key", "nope", http.StatusForbidden},
		{"valid header", true, []string{"k1", "k2"}, "X-API-Key", "k2", http.StatusNoContent},
		{"valid bearer", true, []string{"k1"}, "Authorization", "Bearer k1", http.StatusNoContent},
		{"no keys configured", true, nil, "X-API-Key", "k1", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/entities", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			APIKeyAuth(tt.required, tt.keys)(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if rec.Code >= 400 && !strings.Contains(rec.Body.String(), `"code":"AUTH`) {
				t.Errorf("body = %s, want auth error code", rec.Body.String())
			}
		})
	}
}

func TestLogger_CapturesStatusAndFlush(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		} else {
			t.Error("wrapped writer is not a Flusher")
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}
	if !rec.Flushed {
		t.Error("Flush was not passed through")
	}
}
