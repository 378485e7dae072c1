package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"spesa/internal/core"
	ports "spesa/internal/sheets"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Client stores expenses directly in a spreadsheet tab through the Sheets
// API. Columns A:F hold ID, Item, Cost, Quantity, Person and Date.
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
	now           func() core.Date
}

// Ensure interface conformance
var _ ports.ExpenseStore = (*Client)(nil)

type Options struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
	// Today is used for rows with an unreadable date; defaults to the local day.
	Today func() core.Date
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	id := strings.TrimSpace(opts.SpreadsheetID)
	if id == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	sheet := strings.TrimSpace(opts.SheetName)
	if sheet == "" {
		sheet = "Expenses"
	}
	svc, err := newSheetsService(ctx, opts.CredentialsJSON, opts.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(svc, id, sheet, opts.Today), nil
}

func newClient(svc *gsheet.Service, spreadsheetID, sheet string, today func() core.Date) *Client {
	if today == nil {
		today = func() core.Date { return core.DateOf(timeNow()) }
	}
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet, now: today}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Falls back to GOOGLE_APPLICATION_CREDENTIALS when neither value is set.
func newSheetsService(ctx context.Context, inlineJSON, file string) (*gsheet.Service, error) {
	inlineJSON = strings.TrimSpace(inlineJSON)
	file = strings.TrimSpace(file)
	if inlineJSON == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case inlineJSON != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(inlineJSON)
	case file != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", file)
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func (c *Client) ListExpenses(ctx context.Context) ([]core.Expense, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A:F", c.sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, apiError("read "+rng, err)
	}
	return parseExpenseRows(resp.Values), nil
}

func (c *Client) AddExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if c.svc == nil {
		return core.Expense{}, errors.New("sheets service not initialized")
	}
	e.ID = uuid.NewString()
	if err := c.appendRows(ctx, [][]any{expenseRow(e, c.now())}); err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

func (c *Client) AddBatchExpenses(ctx context.Context, expenses []core.Expense) error {
	if len(expenses) == 0 {
		return nil
	}
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	today := c.now()
	rows := make([][]any, 0, len(expenses))
	for _, e := range expenses {
		e.ID = uuid.NewString()
		rows = append(rows, expenseRow(e, today))
	}
	return c.appendRows(ctx, rows)
}

func (c *Client) UpdateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	if c.svc == nil {
		return core.Expense{}, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A:A", c.sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return core.Expense{}, apiError("read "+rng, err)
	}
	row := findRow(resp.Values, e.ID)
	if row == 0 {
		return core.Expense{}, fmt.Errorf("update %s: %w", e.ID, ports.ErrExpenseNotFound)
	}
	target := fmt.Sprintf("%s!A%d:F%d", c.sheet, row, row)
	vr := &gsheet.ValueRange{Values: [][]any{expenseRow(e, c.now())}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, target, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return core.Expense{}, apiError("failed to update "+target, err)
	}
	return e, nil
}

func (c *Client) appendRows(ctx context.Context, rows [][]any) error {
	rng := fmt.Sprintf("%s!A:F", c.sheet)
	vr := &gsheet.ValueRange{Values: rows}
	_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return apiError(fmt.Sprintf("failed to append %d rows to %s", len(rows), c.sheet), err)
	}
	return nil
}

// apiError keeps the status of a Sheets API error response so it reaches the
// client like any other store failure.
func apiError(op string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code >= 400 {
		msg := gerr.Message
		if msg == "" {
			msg = gerr.Body
		}
		return fmt.Errorf("%s: %w", op, &ports.UpstreamError{
			Status:      gerr.Code,
			Body:        []byte(msg),
			ContentType: "text/plain; charset=utf-8",
		})
	}
	return fmt.Errorf("%s: %w", op, err)
}
