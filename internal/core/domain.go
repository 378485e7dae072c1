package core

import (
	"errors"
	"fmt"
	"strings"
)

// None is the assignment used for scanned items nobody should pay for.
// Rows assigned to None are dropped before anything is stored.
const None Person = "None"

// AllPeople is the list filter value that disables person filtering.
const AllPeople = "All"

type (
	// Person identifies one of the configured participants.
	Person string

	// Participants is the ordered set of people expenses can be assigned to.
	Participants []Person

	Expense struct {
		ID       string // store assigned, never changed by edits
		Item     string
		Cost     Money // line total
		Quantity int
		Person   Person
		Date     Date
	}

	// ScannedItem is a single line extracted from a receipt. Price is the
	// unit price.
	ScannedItem struct {
		Item     string
		Price    Money
		Quantity int
	}

	// AssignedItem is a scanned line during the assignment step. A nil
	// Person means the user has not picked anyone yet.
	AssignedItem struct {
		ScannedItem
		Person *Person
	}

	ReceiptImage struct {
		Filename    string
		ContentType string
		Data        []byte
	}
)

var ErrNoParticipants = errors.New("at least one participant is required")

// ParseParticipants reads a comma separated list of names. Duplicates and
// the reserved values None and All are rejected.
func ParseParticipants(raw string) (Participants, error) {
	var out Participants
	seen := make(map[Person]bool)
	for _, part := range strings.Split(raw, ",") {
		name := Person(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if name == None || string(name) == AllPeople {
			return nil, fmt.Errorf("participant name %q is reserved", name)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate participant %q", name)
		}
		seen[name] = true
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, ErrNoParticipants
	}
	return out, nil
}

func (p Participants) Contains(person Person) bool {
	for _, q := range p {
		if q == person {
			return true
		}
	}
	return false
}

// Default is the person preselected for manual entry.
func (p Participants) Default() Person {
	if len(p) == 0 {
		return ""
	}
	return p[0]
}

// AssignmentOptions lists the choices offered for a scanned item.
func (p Participants) AssignmentOptions() []Person {
	opts := make([]Person, 0, len(p)+1)
	opts = append(opts, p...)
	return append(opts, None)
}

// FilterOptions lists the choices offered by the expense list filter.
func (p Participants) FilterOptions() []string {
	opts := []string{AllPeople}
	for _, person := range p {
		opts = append(opts, string(person))
	}
	return opts
}

// Resolve maps a raw form value to a participant. An empty value selects the
// default participant.
func (p Participants) Resolve(raw string) (Person, error) {
	name := Person(strings.TrimSpace(raw))
	if name == "" {
		if len(p) == 0 {
			return "", ErrNoParticipants
		}
		return p.Default(), nil
	}
	if !p.Contains(name) {
		return "", &ValidationError{
			Field:   "person",
			Message: fmt.Sprintf("unknown person %q", name),
			Err:     ErrUnknownPerson,
		}
	}
	return name, nil
}

func (p Participants) Strings() []string {
	out := make([]string, len(p))
	for i, person := range p {
		out[i] = string(person)
	}
	return out
}

// UnitPrice derives the per-unit price shown in the edit form.
func (e Expense) UnitPrice() Money {
	if e.Quantity <= 0 {
		return e.Cost
	}
	return e.Cost.Div(e.Quantity)
}

// NewAssignedItem wraps a scanned line with no assignment yet.
func NewAssignedItem(s ScannedItem) AssignedItem {
	return AssignedItem{ScannedItem: s}
}

// Assign returns a copy of the item assigned to person.
func (a AssignedItem) Assign(person Person) AssignedItem {
	a.Person = &person
	return a
}

// LineTotal is the cost an assigned line contributes once stored.
func (a AssignedItem) LineTotal() Money {
	q := a.Quantity
	if q <= 0 {
		q = 1
	}
	return a.Price.Times(q)
}
