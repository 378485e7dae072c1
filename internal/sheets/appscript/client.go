// Package appscript talks to the Google Apps Script web app that owns the
// expense spreadsheet. Every call is a request to the script URL with an
// action query parameter.
package appscript

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"spesa/internal/core"
	ports "spesa/internal/sheets"
)

const maxResponseBytes = 8 << 20

type Client struct {
	base  *url.URL
	http  *http.Client
	today func() core.Date
}

// Ensure interface conformance
var (
	_ ports.ExpenseStore  = (*Client)(nil)
	_ ports.SummaryReader = (*Client)(nil)
)

// New creates a client for the script deployed at scriptURL. A nil hc uses a
// client without its own timeout; callers bound each call with a context.
func New(scriptURL string, hc *http.Client) (*Client, error) {
	scriptURL = strings.TrimSpace(scriptURL)
	if scriptURL == "" {
		return nil, errors.New("missing GOOGLE_APP_SCRIPT_URL")
	}
	u, err := url.Parse(scriptURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid GOOGLE_APP_SCRIPT_URL %q", scriptURL)
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		base:  u,
		http:  hc,
		today: func() core.Date { return core.DateOf(time.Now()) },
	}, nil
}

func (c *Client) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	var resp listResponse
	if err := c.call(ctx, http.MethodGet, "getExpenses", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]core.Expense, 0, len(resp.Expenses))
	for _, w := range resp.Expenses {
		out = append(out, w.toExpense())
	}
	return out, nil
}

func (c *Client) AddExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	body := toWire(e, c.today())
	body.ID = ""
	var resp addResponse
	if err := c.call(ctx, http.MethodPost, "addExpense", nil, body, &resp); err != nil {
		return core.Expense{}, err
	}
	if resp.Success != nil && !*resp.Success {
		return core.Expense{}, errors.New("addExpense: script reported failure")
	}
	if resp.NewExpense != nil {
		saved := resp.NewExpense.toExpense()
		if saved.ID != "" {
			e.ID = saved.ID
		}
	}
	return e, nil
}

func (c *Client) UpdateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	var resp updateResponse
	if err := c.call(ctx, http.MethodPost, "updateExpense", nil, toWire(e, c.today()), &resp); err != nil {
		return core.Expense{}, err
	}
	if resp.UpdatedExpense == nil {
		return e, nil
	}
	updated := resp.UpdatedExpense.toExpense()
	if updated.ID == "" {
		updated.ID = e.ID
	}
	return updated, nil
}

func (c *Client) AddBatchExpenses(ctx context.Context, expenses []core.Expense) error {
	today := c.today()
	req := batchRequest{Items: make([]expenseOut, 0, len(expenses))}
	for _, e := range expenses {
		w := toWire(e, today)
		w.ID = ""
		req.Items = append(req.Items, w)
	}
	var resp batchResponse
	if err := c.call(ctx, http.MethodPost, "addBatchExpenses", nil, req, &resp); err != nil {
		return err
	}
	if resp.Success != nil && !*resp.Success {
		return errors.New("addBatchExpenses: script reported failure")
	}
	return nil
}

// ReadSummary returns the script's per-person totals for one month.
func (c *Client) ReadSummary(ctx context.Context, month, year int) (map[core.Person]core.Money, error) {
	q := url.Values{}
	q.Set("month", fmt.Sprintf("%02d", month))
	q.Set("year", fmt.Sprintf("%04d", year))
	var resp summaryResponse
	if err := c.call(ctx, http.MethodGet, "getSummary", q, nil, &resp); err != nil {
		return nil, err
	}
	out := make(map[core.Person]core.Money, len(resp.Summary))
	for name, raw := range resp.Summary {
		amount, err := core.ParseAmount(string(raw))
		if err != nil {
			continue
		}
		out[core.Person(name)] = core.MoneyFromDecimal(amount)
	}
	return out, nil
}

func (c *Client) endpoint(action string, extra url.Values) string {
	u := *c.base
	q := u.Query()
	q.Set("action", action)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// call performs one action. A non-2xx answer becomes *ports.UpstreamError with
// the body untouched. A 2xx answer whose JSON carries an "error" field is
// reported as a 502 upstream error.
func (c *Client) call(ctx context.Context, method, action string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", action, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(action, query), body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", action, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ports.UpstreamError{Status: resp.StatusCode, Body: raw, ContentType: resp.Header.Get("Content-Type")}
	}

	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fmt.Errorf("%s: decode response: %w", action, err)
	}
	if probe.Error != "" {
		return &ports.UpstreamError{Status: http.StatusBadGateway, Body: raw, ContentType: "application/json"}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", action, err)
	}
	return nil
}
