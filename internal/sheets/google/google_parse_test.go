package google

import (
	"context"
	"testing"

	"spesa/internal/core"
)

func TestParseExpenseRows(t *testing.T) {
	values := [][]interface{}{
		{"ID", "Item", "Cost", "Quantity", "Person", "Date"},
		{"a1", "Milk", 2.58, 2, "Zohair", "14/03/2025"},
		{"a2", "Bread", "1,99", "", "Mohsin", ""},
		{"", "orphan", 1, 1, "Zohair", "14/03/2025"},
		{"a3", "Broken", "n/a", 1, "Zohair", "14/03/2025"},
		{"a4"},
	}
	got := parseExpenseRows(values)
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d: %+v", len(got), got)
	}
	if got[0].Cost.Cents != 258 || got[0].Quantity != 2 || got[0].Date.ISO() != "2025-03-14" {
		t.Fatalf("unexpected first row %+v", got[0])
	}
	if got[1].Cost.Cents != 199 || got[1].Quantity != 0 || !got[1].Date.IsZero() {
		t.Fatalf("legacy row should keep unset fields, got %+v", got[1])
	}
}

func TestExpenseRow(t *testing.T) {
	today := core.NewDate(2025, 6, 1)
	row := expenseRow(core.Expense{ID: "x", Item: "Eggs", Cost: core.Money{Cents: 400}, Quantity: 2, Person: "Zohair"}, today)
	if row[2].(float64) != 4 || row[5].(string) != "01/06/2025" {
		t.Fatalf("unexpected row %v", row)
	}
}

func TestFindRow(t *testing.T) {
	values := [][]interface{}{{"ID"}, {"a1"}, {}, {" a2 "}}
	if got := findRow(values, "a2"); got != 4 {
		t.Fatalf("expected row 4, got %d", got)
	}
	if got := findRow(values, "zz"); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestNewRequiresSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Options{})
	if err == nil || err.Error() != "missing GOOGLE_SPREADSHEET_ID" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUninitializedClient(t *testing.T) {
	c := newClient(nil, "id", "Expenses", nil)
	if _, err := c.ListExpenses(context.Background()); err == nil {
		t.Fatal("expected error without service")
	}
	if err := c.AddBatchExpenses(context.Background(), nil); err != nil {
		t.Fatalf("empty batch should be a no-op, got %v", err)
	}
	if _, err := c.UpdateExpense(context.Background(), core.Expense{ID: "a"}); err == nil {
		t.Fatal("expected error without service")
	}
}
