// Package scanner sends receipt images to the OCR service and turns its
// answer into scanned items.
package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/shopspring/decimal"

	"spesa/internal/core"
	ports "spesa/internal/sheets"
)

const (
	DefaultLanguage = "German"
	// DefaultMaxBytes is the largest image accepted for scanning.
	DefaultMaxBytes = 4 << 20

	maxResponseBytes = 4 << 20
)

var (
	ErrNoImage       = errors.New("no file uploaded")
	ErrImageTooLarge = errors.New("image exceeds the upload limit")
)

type Client struct {
	endpoint string
	http     *http.Client
	maxBytes int64
}

var _ ports.ReceiptScanner = (*Client)(nil)

// New creates a scanner for the OCR service at baseURL. maxBytes <= 0 uses
// DefaultMaxBytes.
func New(baseURL string, hc *http.Client, maxBytes int64) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("missing OCR_BACKEND_URL")
	}
	if hc == nil {
		hc = &http.Client{}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Client{endpoint: baseURL + "/extract_receipts/", http: hc, maxBytes: maxBytes}, nil
}

// MaxBytes reports the configured image limit.
func (c *Client) MaxBytes() int64 { return c.maxBytes }

// Scan uploads one image. Only the first receipt of the response is used.
func (c *Client) Scan(ctx context.Context, img core.ReceiptImage, language string) ([]core.ScannedItem, error) {
	if len(img.Data) == 0 {
		return nil, ErrNoImage
	}
	if int64(len(img.Data)) > c.maxBytes {
		return nil, ErrImageTooLarge
	}
	if strings.TrimSpace(language) == "" {
		language = DefaultLanguage
	}

	body, contentType, err := encodeForm(img, language)
	if err != nil {
		return nil, fmt.Errorf("encode upload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read ocr response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ports.UpstreamError{Status: resp.StatusCode, Body: raw, ContentType: resp.Header.Get("Content-Type")}
	}
	return parseResponse(raw)
}

func encodeForm(img core.ReceiptImage, language string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	filename := img.Filename
	if filename == "" {
		filename = "receipt.jpg"
	}
	ct := img.ContentType
	if ct == "" {
		ct = http.DetectContentType(img.Data)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, filename))
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("language", language); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

type (
	ocrResponse struct {
		Receipts []ocrReceipt `json:"receipts"`
	}
	ocrReceipt struct {
		Shop     string    `json:"shop"`
		Currency string    `json:"currency"`
		Items    []ocrItem `json:"items"`
	}
	ocrItem struct {
		Item     json.RawMessage `json:"item"`
		Quantity json.RawMessage `json:"quantity"`
		Price    json.RawMessage `json:"price"`
	}
)

func parseResponse(raw []byte) ([]core.ScannedItem, error) {
	var resp ocrResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	if len(resp.Receipts) == 0 {
		return []core.ScannedItem{}, nil
	}
	out := make([]core.ScannedItem, 0, len(resp.Receipts[0].Items))
	for _, it := range resp.Receipts[0].Items {
		if s, ok := toScanned(it); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// toScanned keeps lines with a string name, a numeric non-negative price
// and, when present, a numeric quantity. Zero or missing quantities count as
// one unit. Fractional quantities (weighed goods) are folded into the price.
func toScanned(it ocrItem) (core.ScannedItem, bool) {
	var name string
	if err := json.Unmarshal(it.Item, &name); err != nil || strings.TrimSpace(name) == "" {
		return core.ScannedItem{}, false
	}
	price, ok := jsonNumber(it.Price)
	if !ok || price.IsNegative() {
		return core.ScannedItem{}, false
	}
	qty := decimal.NewFromInt(1)
	if len(it.Quantity) > 0 && string(it.Quantity) != "null" {
		q, ok := jsonNumber(it.Quantity)
		if !ok || q.IsNegative() {
			return core.ScannedItem{}, false
		}
		if q.IsPositive() {
			qty = q
		}
	}
	if !qty.IsInteger() {
		return core.ScannedItem{
			Item:     strings.TrimSpace(name),
			Price:    core.MoneyFromDecimal(price.Mul(qty)),
			Quantity: 1,
		}, true
	}
	return core.ScannedItem{
		Item:     strings.TrimSpace(name),
		Price:    core.MoneyFromDecimal(price),
		Quantity: int(qty.IntPart()),
	}, true
}

// jsonNumber accepts only JSON numbers, not numeric strings.
func jsonNumber(raw json.RawMessage) (decimal.Decimal, bool) {
	var n json.Number
	if len(raw) == 0 || raw[0] == '"' {
		return decimal.Zero, false
	}
	if err := json.Unmarshal(raw, &n); err != nil {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
