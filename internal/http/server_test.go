package http

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"spesa/internal/core"
	"spesa/internal/metrics"
	"spesa/internal/services"
	"spesa/internal/sheets"
	"spesa/internal/sheets/memory"
)

type fakeSummaries struct {
	raw map[core.Person]core.Money
	err error
}

func (f fakeSummaries) ReadSummary(context.Context, int, int) (map[core.Person]core.Money, error) {
	return f.raw, f.err
}

type fakeScanner struct {
	items []core.ScannedItem
	err   error
}

func (f fakeScanner) Scan(context.Context, core.ReceiptImage, string) ([]core.ScannedItem, error) {
	return f.items, f.err
}

type testDeps struct {
	summaries sheets.SummaryReader
	scanner   sheets.ReceiptScanner
	opts      Options
}

func newTestServer(t *testing.T, deps testDeps) *Server {
	t.Helper()
	store := memory.New(
		core.Expense{ID: "1", Item: "Milk", Cost: core.Money{Cents: 129}, Quantity: 1, Person: "Zohair", Date: core.NewDate(2025, 3, 1)},
		core.Expense{ID: "2", Item: "Bread", Cost: core.Money{Cents: 400}, Quantity: 2, Person: "Mohsin", Date: core.NewDate(2025, 3, 10)},
	)
	svc := services.NewExpenseService(store, deps.summaries, deps.scanner, services.Options{
		People:       core.Participants{"Zohair", "Mohsin"},
		StoreTimeout: time.Second,
		Now:          func() time.Time { return time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC) },
	})
	srv, err := NewServer(":0", svc, deps.opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func serve(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func postJSON(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealthReadyAndMetrics(t *testing.T) {
	srv := newTestServer(t, testDeps{opts: Options{Metrics: metrics.New(), BackendName: "memory"}})

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := serve(srv, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%s", path, rr.Code, rr.Body.String())
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Errorf("%s: missing X-Request-ID", path)
		}
	}

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "spesa_http_requests_total") {
		t.Errorf("metrics output missing request counter")
	}
}

func TestReadyReportsBackendFailure(t *testing.T) {
	srv := newTestServer(t, testDeps{opts: Options{
		Ready: func(context.Context) error { return context.DeadlineExceeded },
	}})
	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestMethodChecksAndPreflight(t *testing.T) {
	srv := newTestServer(t, testDeps{})

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/api/addExpense", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Errorf("Allow = %q", rr.Header().Get("Allow"))
	}

	rr = serve(srv, httptest.NewRequest(http.MethodOptions, "/api/addExpense", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS origin header")
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), "POST") {
		t.Errorf("Allow-Methods = %q", rr.Header().Get("Access-Control-Allow-Methods"))
	}
}

func TestGetExpenses(t *testing.T) {
	srv := newTestServer(t, testDeps{})

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/api/getExpenses?person=Mohsin", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var body struct {
		Expenses []expenseJSON `json:"expenses"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Expenses) != 1 || body.Expenses[0].Item != "Bread" {
		t.Fatalf("unexpected expenses %+v", body.Expenses)
	}
	if body.Expenses[0].Cost.String() != "4.00" || body.Expenses[0].Date != "10/03/2025" {
		t.Errorf("unexpected encoding %+v", body.Expenses[0])
	}
}

func TestAddExpense(t *testing.T) {
	srv := newTestServer(t, testDeps{})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantTitle  string
	}{
		{"valid", `{"item": "Coffee", "cost": 3.5, "person": "Mohsin"}`, http.StatusOK, ""},
		{"default person", `{"item": "Coffee", "cost": "2"}`, http.StatusOK, ""},
		{"bad cost", `{"item": "Coffee", "cost": "abc"}`, http.StatusUnprocessableEntity, core.TitleInvalidInput},
		{"missing item", `{"cost": "1"}`, http.StatusUnprocessableEntity, core.TitleInvalidInput},
		{"broken body", `{"item": `, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(srv, postJSON("/api/addExpense", tt.body))
			if rr.Code != tt.wantStatus {
				t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
			}
			body := decodeBody(t, rr)
			if tt.wantStatus == http.StatusOK {
				if body["success"] != true || body["newExpense"] == nil {
					t.Errorf("body = %v", body)
				}
				return
			}
			if tt.wantTitle != "" && body["title"] != tt.wantTitle {
				t.Errorf("title = %v, want %q", body["title"], tt.wantTitle)
			}
		})
	}
}

func TestAddExpenseFormEncoded(t *testing.T) {
	srv := newTestServer(t, testDeps{})
	req := httptest.NewRequest(http.MethodPost, "/api/addExpense", strings.NewReader("item=Tea&cost=1.20&person=Zohair"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rr := serve(srv, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}

func TestUpdateExpenseAndEditForm(t *testing.T) {
	srv := newTestServer(t, testDeps{})

	rr := serve(srv, postJSON("/api/updateExpense",
		`{"id": "2", "item": "Rye bread", "price": "2.25", "quantity": 2, "person": "Mohsin", "date": "2025-03-11"}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/api/editForm?id=2", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["item"] != "Rye bread" || body["price"] != "2.25" || body["date"] != "2025-03-11" {
		t.Errorf("edit form = %v", body)
	}

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/api/editForm?id=missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown id: status=%d", rr.Code)
	}
}

func TestAddBatchExpenses(t *testing.T) {
	srv := newTestServer(t, testDeps{})

	rr := serve(srv, postJSON("/api/addBatchExpenses",
		`{"items": [{"item": "Milk", "price": 1.29, "quantity": 2, "person": "Zohair"}, {"item": "Bag", "price": 0.1, "quantity": 1, "person": "None"}]}`))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	body := decodeBody(t, rr)
	if body["saved"] != float64(1) || body["skipped"] != float64(1) {
		t.Errorf("body = %v", body)
	}

	rr = serve(srv, postJSON("/api/addBatchExpenses",
		`{"items": [{"item": "Milk", "price": 1.29, "quantity": 1, "person": null}]}`))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d", rr.Code)
	}
	if title := decodeBody(t, rr)["title"]; title != core.TitleMissingAssignment {
		t.Errorf("title = %v", title)
	}
}

func TestFetchSummary(t *testing.T) {
	srv := newTestServer(t, testDeps{summaries: fakeSummaries{raw: map[core.Person]core.Money{
		"Zohair": {Cents: 1050},
		"Mohsin": {Cents: 200},
	}}})

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/api/fetchSummary?month=03&year=2025", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var body summaryJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Month != "03" || body.Year != "2025" {
		t.Errorf("period = %s/%s", body.Month, body.Year)
	}
	if body.Summary["Zohair"].String() != "10.50" || body.Total.String() != "12.50" {
		t.Errorf("summary = %+v", body)
	}

	for _, q := range []string{"month=3&year=2025", "month=13&year=2025", "month=03&year=25"} {
		rr := serve(srv, httptest.NewRequest(http.MethodGet, "/api/fetchSummary?"+q, nil))
		if rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: status=%d", q, rr.Code)
			continue
		}
		if title := decodeBody(t, rr)["title"]; title != core.TitleInvalidDate {
			t.Errorf("%s: title = %v", q, title)
		}
	}

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var status statusJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Alert == nil || status.Alert.Title != core.TitleInvalidDate {
		t.Errorf("bad period should raise an Invalid Date alert, got %+v", status.Alert)
	}
}

func TestFetchSummaryUpstreamFailure(t *testing.T) {
	srv := newTestServer(t, testDeps{summaries: fakeSummaries{err: &sheets.UpstreamError{
		Status: http.StatusServiceUnavailable,
		Body:   []byte("Service busy"),
	}}})

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/api/getSummary?month=03&year=2025", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
	body := decodeBody(t, rr)
	if body["error"] != MsgForwardFailed || body["details"] != "Service busy" {
		t.Errorf("body = %v", body)
	}

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var status statusJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.State != "error" || status.Alert == nil {
		t.Errorf("status = %+v", status)
	}

	rr = serve(srv, httptest.NewRequest(http.MethodPost, "/api/dismissAlert", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("dismiss status=%d", rr.Code)
	}
	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	status = statusJSON{}
	if err := json.Unmarshal(rr.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.Alert != nil {
		t.Errorf("alert still set after dismiss: %+v", status.Alert)
	}
}

func TestMonthlySummaries(t *testing.T) {
	srv := newTestServer(t, testDeps{})

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/api/monthlySummaries", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	var body struct {
		People []string          `json:"people"`
		Months []monthBucketJSON `json:"months"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if len(body.Months) != 1 || body.Months[0].Total.String() != "5.29" {
		t.Errorf("months = %+v", body.Months)
	}
}

func TestParticipants(t *testing.T) {
	srv := newTestServer(t, testDeps{})

	rr := serve(srv, httptest.NewRequest(http.MethodGet, "/api/participants", nil))
	body := decodeBody(t, rr)
	if body["default"] != "Zohair" || body["scanEnabled"] != false {
		t.Errorf("body = %v", body)
	}
	opts, _ := body["assignmentOptions"].([]any)
	if len(opts) != 3 || opts[2] != string(core.None) {
		t.Errorf("assignmentOptions = %v", opts)
	}
	filters, _ := body["filterOptions"].([]any)
	if len(filters) != 3 || filters[0] != core.AllPeople {
		t.Errorf("filterOptions = %v", filters)
	}
}

func uploadRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "receipt.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/scanReceipt", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestScanReceipt(t *testing.T) {
	image := []byte("\xff\xd8\xff\xe0 fake jpeg")

	t.Run("success", func(t *testing.T) {
		srv := newTestServer(t, testDeps{scanner: fakeScanner{items: []core.ScannedItem{
			{Item: "Milk", Price: core.Money{Cents: 129}, Quantity: 2},
		}}})
		rr := serve(srv, uploadRequest(t, "files", image))
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
		}
		var body struct {
			Items  []assignedItemJSON `json:"items"`
			Notice string             `json:"notice"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		if len(body.Items) != 1 || body.Items[0].Cost.String() != "2.58" || body.Items[0].Person != nil {
			t.Errorf("items = %+v", body.Items)
		}
		if body.Notice != "" {
			t.Errorf("unexpected notice %q", body.Notice)
		}
	})

	t.Run("nothing recognised", func(t *testing.T) {
		srv := newTestServer(t, testDeps{scanner: fakeScanner{}})
		rr := serve(srv, uploadRequest(t, "files", image))
		if rr.Code != http.StatusOK {
			t.Fatalf("status=%d", rr.Code)
		}
		if notice := decodeBody(t, rr)["notice"]; notice != services.NoticeNoItems {
			t.Errorf("notice = %v", notice)
		}
	})

	t.Run("no file", func(t *testing.T) {
		srv := newTestServer(t, testDeps{scanner: fakeScanner{}})
		rr := serve(srv, uploadRequest(t, "other", image))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("status=%d", rr.Code)
		}
		if msg := decodeBody(t, rr)["error"]; msg != MsgNoFile {
			t.Errorf("error = %v", msg)
		}

		rr = serve(srv, postJSON("/api/scanReceipt", `{}`))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("non multipart: status=%d", rr.Code)
		}
	})

	t.Run("too large", func(t *testing.T) {
		srv := newTestServer(t, testDeps{scanner: fakeScanner{}, opts: Options{MaxUploadBytes: 8}})
		rr := serve(srv, uploadRequest(t, "files", image))
		if rr.Code != http.StatusRequestEntityTooLarge {
			t.Fatalf("status=%d", rr.Code)
		}
	})

	t.Run("scanner not configured", func(t *testing.T) {
		srv := newTestServer(t, testDeps{})
		rr := serve(srv, uploadRequest(t, "files", image))
		if rr.Code != http.StatusInternalServerError {
			t.Fatalf("status=%d", rr.Code)
		}
		if msg := decodeBody(t, rr)["error"]; msg != MsgScannerMissing {
			t.Errorf("error = %v", msg)
		}
	})

	t.Run("scanner failure passes through", func(t *testing.T) {
		srv := newTestServer(t, testDeps{scanner: fakeScanner{err: &sheets.UpstreamError{
			Status:      http.StatusBadGateway,
			Body:        []byte(`{"detail":"model offline"}`),
			ContentType: "application/json",
		}}})
		rr := serve(srv, uploadRequest(t, "files", image))
		if rr.Code != http.StatusBadGateway {
			t.Fatalf("status=%d", rr.Code)
		}
		if rr.Body.String() != `{"detail":"model offline"}` {
			t.Errorf("body = %q", rr.Body.String())
		}
	})
}

func TestRateLimitAppliesToWrites(t *testing.T) {
	srv := newTestServer(t, testDeps{opts: Options{RateLimitPerMinute: 2}})

	for i := 0; i < 2; i++ {
		rr := serve(srv, httptest.NewRequest(http.MethodPost, "/api/dismissAlert", nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("request %d: status=%d", i, rr.Code)
		}
	}
	rr := serve(srv, httptest.NewRequest(http.MethodPost, "/api/dismissAlert", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if msg := decodeBody(t, rr)["error"]; msg != MsgRateLimited {
		t.Errorf("error = %v", msg)
	}

	rr = serve(srv, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("reads should not be limited, got %d", rr.Code)
	}
}
