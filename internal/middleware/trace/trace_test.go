package trace

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	applog "spesa/internal/log"
)

func TestMiddlewareAssignsIDAndObserves(t *testing.T) {
	var buf bytes.Buffer
	logger := applog.New(applog.Config{Format: applog.FormatJSON, Output: &buf})

	var observedStatus int
	var seenID string
	m := NewMiddleware(
		func(*http.Request) string { return "192.168.1.4" },
		logger,
		func(r *http.Request, status int, _ time.Duration) { observedStatus = status },
	)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/addExpense", nil))

	if !strings.HasPrefix(seenID, "req_") || rec.Header().Get(HeaderRequestID) != seenID {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seenID, rec.Header().Get(HeaderRequestID))
	}
	if observedStatus != http.StatusUnprocessableEntity {
		t.Fatalf("expected first status to be recorded, got %d", observedStatus)
	}
	out := buf.String()
	if !strings.Contains(out, `"status_code":422`) || !strings.Contains(out, `"client_ip":"192.168.1.4"`) {
		t.Fatalf("unexpected access log: %s", out)
	}
}

func TestGenerateRequestIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := GenerateRequestID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
