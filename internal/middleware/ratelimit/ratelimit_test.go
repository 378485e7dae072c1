package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiterWindow(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 2})
	defer rl.Stop()
	clock := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("first two requests should pass")
	}
	if rl.Allow("a") {
		t.Fatal("third request in the window should be rejected")
	}
	if !rl.Allow("b") {
		t.Fatal("clients are limited independently")
	}

	clock = clock.Add(time.Minute)
	if !rl.Allow("a") {
		t.Fatal("a new window should reset the count")
	}

	clock = clock.Add(11 * time.Minute)
	if n := rl.cleanupStaleEntries(); n != 2 || rl.ActiveClients() != 0 {
		t.Fatalf("expected both clients cleaned, removed %d, left %d", n, rl.ActiveClients())
	}
}

func TestMiddlewareLimitsOnlyPosts(t *testing.T) {
	rl := NewLimiter(Config{RequestsPerMinute: 1})
	defer rl.Stop()

	limited := 0
	h := rl.Middleware(
		func(*http.Request) string { return "10.0.0.1" },
		func(w http.ResponseWriter, r *http.Request) {
			limited++
			w.WriteHeader(http.StatusTooManyRequests)
		},
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	tests := []struct {
		method string
		want   int
	}{
		{http.MethodPost, http.StatusOK},
		{http.MethodGet, http.StatusOK},
		{http.MethodGet, http.StatusOK},
		{http.MethodPost, http.StatusTooManyRequests},
	}
	for i, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, "/api/addExpense", nil))
		if rec.Code != tt.want {
			t.Fatalf("request %d (%s): got %d, want %d", i, tt.method, rec.Code, tt.want)
		}
	}
	if limited != 1 {
		t.Fatalf("expected one rejection, got %d", limited)
	}
}
