package http

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestRequestBodyParser_JSON(t *testing.T) {
	body := `{"id": "123", "item": " Milk\u0007 ", "cost": 1.29, "quantity": 2}`
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	parser := NewRequestBodyParser(req)
	if err := parser.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !parser.IsJSON() {
		t.Error("Expected IsJSON() to be true")
	}

	tests := map[string]string{
		"id":       "123",
		"item":     "Milk",
		"cost":     "1.29",
		"quantity": "2",
		"missing":  "",
	}
	for key, want := range tests {
		if got := parser.Get(key); got != want {
			t.Errorf("Get(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestRequestBodyParser_FormData(t *testing.T) {
	body := "item=Rye+bread&cost=2.50&person=Mohsin"
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	parser := NewRequestBodyParser(req)
	if err := parser.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parser.IsJSON() {
		t.Error("Expected IsJSON() to be false for form data")
	}
	if item := parser.Get("item"); item != "Rye bread" {
		t.Errorf("Get('item') = %q, want 'Rye bread'", item)
	}
	if person := parser.Get("person"); person != "Mohsin" {
		t.Errorf("Get('person') = %q", person)
	}
}

func TestRequestBodyParser_EmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(""))

	parser := NewRequestBodyParser(req)
	if err := parser.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if val := parser.Get("nonexistent"); val != "" {
		t.Errorf("Get('nonexistent') = %q, want empty string", val)
	}
}

func TestRequestBodyParser_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"broken json", `{"item": `},
		{"too large", strings.Repeat("a", maxBodyBytes+10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tt.body))
			if err := NewRequestBodyParser(req).Parse(); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestParseBatchRows(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		body := `{"items": [
			{"item": "Milk", "price": 1.29, "quantity": 2, "person": "Zohair"},
			{"item": "Bag", "price": "0.10", "person": "None"},
			{"item": "Eggs", "cost": 3, "person": null},
			{"item": "Tea", "price": 2}
		]}`
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
		p := NewRequestBodyParser(req)
		rows, err := ParseBatchRows(p)
		if err != nil {
			t.Fatalf("ParseBatchRows: %v", err)
		}
		if len(rows) != 4 {
			t.Fatalf("got %d rows", len(rows))
		}
		if rows[0].Price != "1.29" || rows[0].Quantity != "2" || *rows[0].Person != "Zohair" {
			t.Errorf("row 0 = %+v", rows[0])
		}
		if rows[1].Quantity != "1" {
			t.Errorf("missing quantity should default to 1, got %q", rows[1].Quantity)
		}
		if rows[2].Price != "3" || rows[2].Person != nil {
			t.Errorf("row 2 = %+v", rows[2])
		}
		if rows[3].Person != nil {
			t.Errorf("absent person should stay nil")
		}
	})

	t.Run("form field", func(t *testing.T) {
		form := url.Values{"items": {`[{"item":"Milk","price":"1","quantity":"1","person":"Mohsin"}]`}}
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rows, err := ParseBatchRows(NewRequestBodyParser(req))
		if err != nil {
			t.Fatalf("ParseBatchRows: %v", err)
		}
		if len(rows) != 1 || rows[0].Item != "Milk" {
			t.Fatalf("unexpected rows %+v", rows)
		}
	})

	t.Run("bad items", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"items": "nope"}`))
		if _, err := ParseBatchRows(NewRequestBodyParser(req)); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestRequireMethod(t *testing.T) {
	tests := []struct {
		name    string
		method  string
		allowed []string
		wantErr bool
	}{
		{"POST allowed", http.MethodPost, []string{http.MethodPost}, false},
		{"GET allowed with multiple", http.MethodGet, []string{http.MethodGet, http.MethodPost}, false},
		{"GET not allowed", http.MethodGet, []string{http.MethodPost}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/test", nil)
			result := RequireMethod(req, tt.allowed...)

			if tt.wantErr && result == nil {
				t.Error("Expected error response but got nil")
			}
			if !tt.wantErr && result != nil {
				t.Error("Expected nil but got error response")
			}
		})
	}
}
