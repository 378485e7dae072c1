package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestExtractClientIP(t *testing.T) {
	d, err := NewDetector()
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"direct", "203.0.113.9:5123", nil, "203.0.113.9"},
		{"untrusted peer ignores headers", "203.0.113.9:5123", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "203.0.113.9"},
		{"trusted proxy xff", "10.0.0.2:80", map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"}, "198.51.100.7"},
		{"trusted proxy real ip", "127.0.0.1:80", map[string]string{"X-Real-IP": "198.51.100.8"}, "198.51.100.8"},
		{"garbage xff falls back", "127.0.0.1:80", map[string]string{"X-Forwarded-For": "nope"}, "127.0.0.1"},
		{"no port", "198.51.100.1", nil, "198.51.100.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/getExpenses", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := d.ExtractClientIP(r); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewDetectorRejectsBadCIDR(t *testing.T) {
	if _, err := NewDetector("10.0.0.0/99"); err == nil {
		t.Fatal("expected error for invalid CIDR")
	}
}

func TestIsSuspicious(t *testing.T) {
	d, _ := NewDetector()
	if d.IsSuspicious(httptest.NewRequest(http.MethodGet, "/api/fetchSummary?month=03&year=2025", nil)) {
		t.Fatal("normal request flagged")
	}
	if !d.IsSuspicious(httptest.NewRequest(http.MethodGet, "/.env", nil)) {
		t.Fatal("probe not flagged")
	}
	if d.SuspiciousCount() != 1 {
		t.Fatalf("expected count 1, got %d", d.SuspiciousCount())
	}
}

func TestHeadersMiddleware(t *testing.T) {
	h := NewHeadersMiddleware(DefaultHeadersConfig()).Middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" || rec.Header().Get("Strict-Transport-Security") != "" {
		t.Fatalf("unexpected headers %v", rec.Header())
	}

	r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	r.TLS = &tls.ConnectionState{}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Header().Get("Strict-Transport-Security") != "max-age=31536000; includeSubDomains" {
		t.Fatalf("missing HSTS over TLS: %v", rec.Header())
	}
}
