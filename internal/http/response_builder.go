// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for constructing JSON responses.
// Every /api handler answers through it so status codes, CORS headers and
// error bodies stay consistent.

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"spesa/internal/core"
	"spesa/internal/sheets"
)

// Messages the web client shows verbatim.
const (
	MsgForwardFailed  = "Failed to forward request to Google App Script."
	MsgNoFile         = "No file uploaded."
	MsgFileTooLarge   = "File Too Large"
	MsgScannerMissing = "Server configuration error."
	MsgRateLimited    = "Rate limit exceeded. Please try again later."
)

// ResponseBuilder provides a fluent API for building API responses.
type ResponseBuilder struct {
	statusCode  int
	headers     map[string]string
	payload     any
	raw         []byte
	contentType string
}

// NewResponse creates a new response builder with default 200 status.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{
		statusCode: http.StatusOK,
		headers:    make(map[string]string),
	}
}

// Status sets the HTTP status code for the response.
func (b *ResponseBuilder) Status(code int) *ResponseBuilder {
	b.statusCode = code
	return b
}

// Header adds a custom header to the response.
func (b *ResponseBuilder) Header(name, value string) *ResponseBuilder {
	b.headers[name] = value
	return b
}

// JSON sets a value to be encoded as the body.
func (b *ResponseBuilder) JSON(v any) *ResponseBuilder {
	b.payload = v
	b.raw = nil
	return b
}

// Raw sets the body as is. An empty contentType defaults to plain text.
func (b *ResponseBuilder) Raw(contentType string, body []byte) *ResponseBuilder {
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	b.contentType = contentType
	b.raw = body
	b.payload = nil
	return b
}

// Write sends the built response to the http.ResponseWriter.
func (b *ResponseBuilder) Write(w http.ResponseWriter) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}

	switch {
	case b.raw != nil:
		w.Header().Set("Content-Type", b.contentType)
		w.WriteHeader(b.statusCode)
		_, _ = w.Write(b.raw)
	case b.payload != nil:
		body, err := json.Marshal(b.payload)
		if err != nil {
			slog.Error("Failed to encode response", "error", err)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"failed to encode response"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(b.statusCode)
		_, _ = w.Write(body)
	default:
		w.WriteHeader(b.statusCode)
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Title   string `json:"title,omitempty"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// ErrorResponse creates a standard {"error": message} response.
func ErrorResponse(statusCode int, message string) *ResponseBuilder {
	return NewResponse().Status(statusCode).JSON(errorBody{Error: message})
}

// BadRequestError creates a 400 Bad Request error response.
func BadRequestError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusBadRequest, message)
}

// InternalServerError creates a 500 Internal Server Error response.
func InternalServerError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusInternalServerError, message)
}

// NotFoundError creates a 404 Not Found error response.
func NotFoundError(message string) *ResponseBuilder {
	return ErrorResponse(http.StatusNotFound, message)
}

// TooLargeError creates a 413 response for oversized uploads.
func TooLargeError(limit int64) *ResponseBuilder {
	return NewResponse().
		Status(http.StatusRequestEntityTooLarge).
		JSON(errorBody{Error: MsgFileTooLarge, Title: MsgFileTooLarge, Details: "Image must be at most " + humanBytes(limit) + "."})
}

// ValidationErrorResponse creates the 422 answer for rejected input.
func ValidationErrorResponse(ve *core.ValidationError) *ResponseBuilder {
	return NewResponse().
		Status(http.StatusUnprocessableEntity).
		JSON(errorBody{Error: ve.Error(), Title: ve.AlertTitle(), Field: ve.Field})
}

// StoreUpstreamError passes the store's status through and carries its
// body as details.
func StoreUpstreamError(up *sheets.UpstreamError) *ResponseBuilder {
	return NewResponse().
		Status(up.Status).
		JSON(errorBody{Error: MsgForwardFailed, Details: strings.TrimSpace(string(up.Body))})
}

// ScannerUpstreamError returns the scanner's status and body untouched.
func ScannerUpstreamError(up *sheets.UpstreamError) *ResponseBuilder {
	return NewResponse().Status(up.Status).Raw(up.ContentType, up.Body)
}

// MethodNotAllowedError creates a 405 Method Not Allowed error response.
func MethodNotAllowedError(allowedMethods string) *ResponseBuilder {
	return NewResponse().
		Status(http.StatusMethodNotAllowed).
		Header("Allow", allowedMethods).
		Raw("", []byte("Method Not Allowed"))
}
