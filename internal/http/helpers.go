package http

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"spesa/internal/core"
	"spesa/internal/services"
)

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// amount renders money as a JSON number with exactly two decimals.
func amount(m core.Money) json.Number {
	return json.Number(m.String())
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<20 && n%(1<<20) == 0:
		return fmt.Sprintf("%d MB", n>>20)
	case n >= 1<<10 && n%(1<<10) == 0:
		return fmt.Sprintf("%d KB", n>>10)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

type expenseJSON struct {
	ID       string      `json:"id"`
	Item     string      `json:"item"`
	Cost     json.Number `json:"cost"`
	Quantity int         `json:"quantity"`
	Person   string      `json:"person"`
	Date     string      `json:"date"`
}

func toExpenseJSON(e core.Expense) expenseJSON {
	return expenseJSON{
		ID:       e.ID,
		Item:     e.Item,
		Cost:     amount(e.Cost),
		Quantity: e.Quantity,
		Person:   string(e.Person),
		Date:     e.Date.StoreFormat(),
	}
}

func toExpenseList(expenses []core.Expense) []expenseJSON {
	out := make([]expenseJSON, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, toExpenseJSON(e))
	}
	return out
}

// totalsJSON lists every participant in configured order.
func totalsJSON(people core.Participants, totals map[core.Person]core.Money) map[string]json.Number {
	out := make(map[string]json.Number, len(people))
	for _, p := range people {
		out[string(p)] = amount(totals[p])
	}
	return out
}

type summaryJSON struct {
	Month   string                 `json:"month"`
	Year    string                 `json:"year"`
	People  []string               `json:"people"`
	Summary map[string]json.Number `json:"summary"`
	Total   json.Number            `json:"total"`
}

func toSummaryJSON(s core.Summary) summaryJSON {
	return summaryJSON{
		Month:   fmt.Sprintf("%02d", s.Month),
		Year:    fmt.Sprintf("%04d", s.Year),
		People:  s.People.Strings(),
		Summary: totalsJSON(s.People, s.Totals),
		Total:   amount(s.Grand()),
	}
}

type assignedItemJSON struct {
	Item     string      `json:"item"`
	Price    json.Number `json:"price"`
	Quantity int         `json:"quantity"`
	Cost     json.Number `json:"cost"`
	Person   *string     `json:"person"`
}

func toAssignedItems(items []core.AssignedItem) []assignedItemJSON {
	out := make([]assignedItemJSON, 0, len(items))
	for _, it := range items {
		var person *string
		if it.Person != nil {
			p := string(*it.Person)
			person = &p
		}
		out = append(out, assignedItemJSON{
			Item:     it.Item,
			Price:    amount(it.Price),
			Quantity: it.Quantity,
			Cost:     amount(it.LineTotal()),
			Person:   person,
		})
	}
	return out
}

type alertJSON struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

type statusJSON struct {
	State     string         `json:"state"`
	Operation string         `json:"operation,omitempty"`
	Since     string         `json:"since,omitempty"`
	Alert     *alertJSON     `json:"alert"`
	Summary   summaryViewDTO `json:"summary"`
}

type summaryViewDTO struct {
	Phase   string       `json:"phase"`
	Month   int          `json:"month,omitempty"`
	Year    int          `json:"year,omitempty"`
	Data    *summaryJSON `json:"data,omitempty"`
	Message string       `json:"message,omitempty"`
}

func toStatusJSON(st services.Status) statusJSON {
	out := statusJSON{
		State:     st.Coordinator.State.String(),
		Operation: st.Coordinator.Operation,
		Summary: summaryViewDTO{
			Phase:   st.Summary.Phase.String(),
			Month:   st.Summary.Month,
			Year:    st.Summary.Year,
			Message: st.Summary.Message,
		},
	}
	if !st.Coordinator.Since.IsZero() {
		out.Since = st.Coordinator.Since.Format(time.RFC3339)
	}
	if a := st.Coordinator.Alert; a != nil {
		out.Alert = &alertJSON{Title: a.Title, Message: a.Message}
	}
	if st.Summary.Data != nil {
		s := toSummaryJSON(*st.Summary.Data)
		out.Summary.Data = &s
	}
	return out
}
