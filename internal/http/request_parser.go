// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data.
// Bodies may be JSON (the web client) or form encoded (curl, plain forms).

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"spesa/internal/core"
)

// maxBodyBytes bounds JSON and form bodies. Uploads have their own limit.
const maxBodyBytes = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

// RequestBodyParser handles different content types for request body parsing.
// It reads the body once and stores it for subsequent parsing.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	if r.Body == nil {
		return p
	}
	p.body, p.err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if p.err == nil && len(p.body) > maxBodyBytes {
		p.err = errBodyTooLarge
	}
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	trimmed := bytes.TrimSpace(p.body)
	if len(trimmed) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if trimmed[0] == '{' {
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		p.jsonData = make(map[string]any)
		if err := dec.Decode(&p.jsonData); err != nil {
			p.err = err
			return err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(trimmed))
	return p.err
}

// Get returns a string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// Decode unmarshals the whole JSON body into v. For form bodies the named
// field is expected to hold a JSON document instead.
func (p *RequestBodyParser) Decode(formField string, v any) error {
	if err := p.Parse(); err != nil {
		return err
	}
	var src []byte
	switch {
	case p.jsonData != nil:
		src = p.body
	case p.formData != nil:
		src = []byte(p.formData.Get(formField))
	}
	if len(bytes.TrimSpace(src)) == 0 {
		return errors.New("empty request body")
	}
	dec := json.NewDecoder(bytes.NewReader(src))
	dec.UseNumber()
	return dec.Decode(v)
}

// IsJSON returns true if the parsed content was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

// ContentType returns the Content-Type header value.
func (p *RequestBodyParser) ContentType() string {
	return p.contentType
}

// stringValue converts a decoded JSON value to its text form.
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// flexString accepts a JSON string or number and keeps its text.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n)
	return nil
}

// batchItemJSON is one assigned receipt row. A missing or null person
// means the row was never assigned.
type batchItemJSON struct {
	Item     flexString `json:"item"`
	Price    flexString `json:"price"`
	Cost     flexString `json:"cost"`
	Quantity flexString `json:"quantity"`
	Person   *string    `json:"person"`
}

type batchRequestJSON struct {
	Items []batchItemJSON `json:"items"`
}

// ParseBatchRows reads {"items": [...]}. Rows sent by older clients carry
// only a cost, which is taken as the unit price of a single item.
func ParseBatchRows(p *RequestBodyParser) ([]core.BatchRow, error) {
	var req batchRequestJSON
	if err := p.Decode("items", &req); err != nil {
		// A form field may hold the bare array.
		if p.formData == nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(p.formData.Get("items")), &req.Items); err != nil {
			return nil, err
		}
	}

	rows := make([]core.BatchRow, 0, len(req.Items))
	for _, it := range req.Items {
		price := string(it.Price)
		if strings.TrimSpace(price) == "" {
			price = string(it.Cost)
		}
		qty := string(it.Quantity)
		if strings.TrimSpace(qty) == "" {
			qty = "1"
		}
		rows = append(rows, core.BatchRow{
			Item:     sanitizeInput(string(it.Item)),
			Price:    strings.TrimSpace(price),
			Quantity: strings.TrimSpace(qty),
			Person:   it.Person,
		})
	}
	return rows, nil
}

// RequireMethod checks if the request method matches the expected method(s).
// Returns an error response builder if the method doesn't match.
func RequireMethod(r *http.Request, methods ...string) *ResponseBuilder {
	for _, m := range methods {
		if r.Method == m {
			return nil
		}
	}
	return MethodNotAllowedError(strings.Join(methods, ", "))
}
