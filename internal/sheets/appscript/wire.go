package appscript

import (
	"bytes"
	"encoding/json"
	"strconv"

	"spesa/internal/core"
)

// looseString accepts JSON strings, numbers and booleans. The script hands
// back whatever type the spreadsheet cell had.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = looseString(v)
		return nil
	}
	*s = looseString(b)
	return nil
}

type (
	// expenseIn is an expense as returned by the script.
	expenseIn struct {
		ID       looseString `json:"id"`
		Item     looseString `json:"item"`
		Cost     looseString `json:"cost"`
		Quantity looseString `json:"quantity"`
		Person   looseString `json:"person"`
		Date     looseString `json:"date"`
	}

	// expenseOut is an expense as sent to the script. Dates use DD/MM/YYYY.
	expenseOut struct {
		ID       string  `json:"id,omitempty"`
		Item     string  `json:"item"`
		Cost     float64 `json:"cost"`
		Quantity int     `json:"quantity"`
		Person   string  `json:"person"`
		Date     string  `json:"date"`
	}

	listResponse struct {
		Expenses []expenseIn `json:"expenses"`
		Error    string      `json:"error"`
	}

	addResponse struct {
		Success    *bool      `json:"success"`
		NewExpense *expenseIn `json:"newExpense"`
		Error      string     `json:"error"`
	}

	updateResponse struct {
		UpdatedExpense *expenseIn `json:"updatedExpense"`
		Error          string     `json:"error"`
	}

	batchRequest struct {
		Items []expenseOut `json:"items"`
	}

	batchResponse struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}

	summaryResponse struct {
		Summary map[string]looseString `json:"summary"`
		Error   string                 `json:"error"`
	}
)

func toWire(e core.Expense, today core.Date) expenseOut {
	return expenseOut{
		ID:       e.ID,
		Item:     e.Item,
		Cost:     e.Cost.Float(),
		Quantity: e.Quantity,
		Person:   string(e.Person),
		Date:     e.Date.OrToday(today).StoreFormat(),
	}
}

// toExpense converts a script row. Unreadable quantities and dates stay
// unset; the service normalises them for display.
func (w expenseIn) toExpense() core.Expense {
	e := core.Expense{
		ID:     string(w.ID),
		Item:   string(w.Item),
		Person: core.Person(w.Person),
	}
	if amount, err := core.ParseAmount(string(w.Cost)); err == nil {
		e.Cost = core.MoneyFromDecimal(amount)
	}
	if q, err := strconv.Atoi(string(w.Quantity)); err == nil {
		e.Quantity = q
	}
	if d, err := core.ParseAnyDate(string(w.Date)); err == nil {
		e.Date = d
	}
	return e
}
