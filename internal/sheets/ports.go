package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"spesa/internal/core"
)

// ErrExpenseNotFound is returned when an update targets an unknown id.
var ErrExpenseNotFound = errors.New("expense not found")

// Ports for outbound adapters.
type (
	// ExpenseStore is the persistent home of expenses. IDs are assigned by the
	// store on insert.
	ExpenseStore interface {
		ListExpenses(ctx context.Context) ([]core.Expense, error)
		AddExpense(ctx context.Context, e core.Expense) (core.Expense, error)
		UpdateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
		// AddBatchExpenses stores all expenses in a single call.
		AddBatchExpenses(ctx context.Context, expenses []core.Expense) error
	}

	// SummaryReader is implemented by stores that aggregate monthly totals
	// themselves. Names that are not participants may appear in the result.
	SummaryReader interface {
		ReadSummary(ctx context.Context, month, year int) (map[core.Person]core.Money, error)
	}

	ReceiptScanner interface {
		Scan(ctx context.Context, img core.ReceiptImage, language string) ([]core.ScannedItem, error)
	}
)

// UpstreamError carries a collaborator's non-2xx response so it can be
// returned to the client unchanged.
type UpstreamError struct {
	Status      int
	Body        []byte
	ContentType string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream returned %d %s", e.Status, http.StatusText(e.Status))
}

// Detail is the upstream body as text, used when a failure message is shown
// to the user.
func (e *UpstreamError) Detail() string {
	d := strings.TrimSpace(string(e.Body))
	if d == "" {
		return http.StatusText(e.Status)
	}
	return d
}
