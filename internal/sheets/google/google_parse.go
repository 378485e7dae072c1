package google

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"spesa/internal/core"
)

var timeNow = time.Now

// expenseRow lays an expense out as the A:F cells of one sheet row.
func expenseRow(e core.Expense, today core.Date) []any {
	return []any{
		e.ID,
		e.Item,
		e.Cost.Float(),
		e.Quantity,
		string(e.Person),
		e.Date.OrToday(today).StoreFormat(),
	}
}

// parseExpenseRows converts the values matrix of the expenses tab. A header
// row and rows without an id or item are skipped. Missing quantities and
// dates are left unset for NormalizeLegacy.
func parseExpenseRows(values [][]interface{}) []core.Expense {
	out := make([]core.Expense, 0, len(values))
	for i, row := range values {
		cols := toStrings(row)
		if len(cols) < 3 {
			continue
		}
		if i == 0 && strings.EqualFold(cols[0], "id") {
			continue
		}
		id, item := safeGet(cols, 0), safeGet(cols, 1)
		if id == "" || item == "" {
			continue
		}
		amount, err := core.ParseAmount(safeGet(cols, 2))
		if err != nil {
			continue
		}
		qty, _ := strconv.Atoi(safeGet(cols, 3))
		date, _ := core.ParseAnyDate(safeGet(cols, 5))
		out = append(out, core.Expense{
			ID:       id,
			Item:     item,
			Cost:     core.MoneyFromDecimal(amount),
			Quantity: qty,
			Person:   core.Person(safeGet(cols, 4)),
			Date:     date,
		})
	}
	return out
}

// findRow returns the 1-based sheet row holding id in column A, or 0.
func findRow(values [][]interface{}, id string) int {
	id = strings.TrimSpace(id)
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == id {
			return i + 1
		}
	}
	return 0
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
