package core

import (
	"sort"
	"strings"
)

// NormalizeLegacy fills in fields older rows were written without. Rows
// stored before quantities existed count as a single unit and rows with an
// unreadable date are shown as today.
func NormalizeLegacy(e Expense, today Date) Expense {
	e.Item = strings.TrimSpace(e.Item)
	if e.Quantity <= 0 {
		e.Quantity = 1
	}
	e.Date = e.Date.OrToday(today)
	return e
}

func NormalizeAll(expenses []Expense, today Date) []Expense {
	out := make([]Expense, len(expenses))
	for i, e := range expenses {
		out[i] = NormalizeLegacy(e, today)
	}
	return out
}

// SortNewestFirst orders expenses by date, most recent first. Expenses of the
// same day keep their store order.
func SortNewestFirst(expenses []Expense) {
	sort.SliceStable(expenses, func(i, j int) bool {
		return expenses[i].Date.After(expenses[j].Date.Time)
	})
}

// FilterByPerson keeps the expenses of one person. An empty filter or All
// keeps everything.
func FilterByPerson(expenses []Expense, filter string) []Expense {
	filter = strings.TrimSpace(filter)
	if filter == "" || filter == AllPeople {
		return expenses
	}
	out := make([]Expense, 0, len(expenses))
	for _, e := range expenses {
		if string(e.Person) == filter {
			out = append(out, e)
		}
	}
	return out
}
