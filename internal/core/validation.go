package core

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Alert titles shown alongside validation failures.
const (
	TitleInvalidInput      = "Invalid Input"
	TitleMissingAssignment = "Missing Assignment"
	TitleInvalidDate       = "Invalid Date"
)

var (
	ErrEmptyItem       = errors.New("item must not be empty")
	ErrInvalidCost     = errors.New("cost must be a positive number")
	ErrInvalidPrice    = errors.New("price must be a non-negative number")
	ErrInvalidQuantity = errors.New("quantity must be a positive whole number")
	ErrMissingPerson   = errors.New("every item must be assigned")
	ErrUnknownPerson   = errors.New("unknown person")
	ErrMissingID       = errors.New("expense id is required")
	ErrInvalidPeriod   = errors.New("month must be MM and year YYYY")
)

// ValidationError reports user input that was rejected before any store call.
type ValidationError struct {
	Field   string
	Message string
	Title   string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// AlertTitle falls back to the generic input title.
func (e *ValidationError) AlertTitle() string {
	if e.Title != "" {
		return e.Title
	}
	return TitleInvalidInput
}

func invalid(field string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: err.Error(), Err: err}
}

type (
	ManualEntryInput struct {
		Item   string
		Cost   string
		Person string
	}

	EditInput struct {
		ID       string
		Item     string
		Price    string
		Quantity string
		Person   string
		Date     string
	}

	// BatchRow is one assigned receipt line as submitted. Person is nil when
	// the row was left unassigned.
	BatchRow struct {
		Item     string
		Price    string
		Quantity string
		Person   *string
	}

	// EditForm holds the values pre-filled in the edit dialog.
	EditForm struct {
		ID       string
		Item     string
		Price    string
		Quantity string
		Person   Person
		Date     string
	}
)

// ValidateManualEntry turns a manual entry into an expense dated today.
func ValidateManualEntry(in ManualEntryInput, people Participants, today Date) (Expense, error) {
	item := strings.TrimSpace(in.Item)
	if item == "" {
		return Expense{}, invalid("item", ErrEmptyItem)
	}
	amount, err := ParseAmount(in.Cost)
	if err != nil || !amount.IsPositive() {
		return Expense{}, invalid("cost", ErrInvalidCost)
	}
	cost, err := ToMoney(amount)
	if err != nil {
		return Expense{}, invalid("cost", err)
	}
	if cost.Cents <= 0 {
		return Expense{}, invalid("cost", ErrInvalidCost)
	}
	person, err := people.Resolve(in.Person)
	if err != nil {
		return Expense{}, err
	}
	return Expense{
		Item:     item,
		Cost:     cost,
		Quantity: 1,
		Person:   person,
		Date:     today,
	}, nil
}

// ValidateEdit checks an edited expense and recomputes its line total.
func ValidateEdit(in EditInput, people Participants, today Date) (Expense, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return Expense{}, invalid("id", ErrMissingID)
	}
	item := strings.TrimSpace(in.Item)
	if item == "" {
		return Expense{}, invalid("item", ErrEmptyItem)
	}
	price, err := parsePrice(in.Price)
	if err != nil {
		return Expense{}, invalid("price", err)
	}
	qty, err := ParseQuantity(in.Quantity)
	if err != nil {
		return Expense{}, invalid("quantity", err)
	}
	person := Person(strings.TrimSpace(in.Person))
	if person == "" {
		return Expense{}, invalid("person", ErrMissingPerson)
	}
	if !people.Contains(person) {
		return Expense{}, &ValidationError{
			Field:   "person",
			Message: fmt.Sprintf("unknown person %q", person),
			Err:     ErrUnknownPerson,
		}
	}
	cost, err := CheckedLineTotal(price, qty)
	if err != nil {
		return Expense{}, invalid("price", err)
	}
	date, err := ParseAnyDate(in.Date)
	if err != nil {
		date = today
	}
	return Expense{
		ID:       id,
		Item:     item,
		Cost:     cost,
		Quantity: qty,
		Person:   person,
		Date:     date,
	}, nil
}

// EditFormFor derives the edit dialog values from a stored expense.
func EditFormFor(e Expense, today Date) EditForm {
	qty := e.Quantity
	if qty <= 0 {
		qty = 1
	}
	return EditForm{
		ID:       e.ID,
		Item:     e.Item,
		Price:    e.UnitPrice().String(),
		Quantity: strconv.Itoa(qty),
		Person:   e.Person,
		Date:     e.Date.OrToday(today).ISO(),
	}
}

// ValidateBatch validates assigned receipt rows in order. The first invalid
// row rejects the whole batch. Rows assigned to None are dropped and counted
// in skipped.
func ValidateBatch(rows []BatchRow, people Participants, today Date) (expenses []Expense, skipped int, err error) {
	expenses = make([]Expense, 0, len(rows))
	for i, row := range rows {
		item := strings.TrimSpace(row.Item)
		if item == "" {
			return nil, 0, rowError(i, "item", TitleInvalidInput, ErrEmptyItem)
		}
		price, perr := parsePrice(row.Price)
		if perr != nil {
			return nil, 0, rowError(i, "price", TitleInvalidInput, perr)
		}
		qty, qerr := ParseQuantity(row.Quantity)
		if qerr != nil {
			return nil, 0, rowError(i, "quantity", TitleInvalidInput, qerr)
		}
		if row.Person == nil || strings.TrimSpace(*row.Person) == "" {
			return nil, 0, rowError(i, "person", TitleMissingAssignment, ErrMissingPerson)
		}
		person := Person(strings.TrimSpace(*row.Person))
		if person == None {
			skipped++
			continue
		}
		if !people.Contains(person) {
			return nil, 0, rowError(i, "person", TitleInvalidInput, ErrUnknownPerson)
		}
		cost, cerr := CheckedLineTotal(price, qty)
		if cerr != nil {
			return nil, 0, rowError(i, "price", TitleInvalidInput, cerr)
		}
		expenses = append(expenses, Expense{
			Item:     item,
			Cost:     cost,
			Quantity: qty,
			Person:   person,
			Date:     today,
		})
	}
	return expenses, skipped, nil
}

func rowError(i int, field, title string, err error) *ValidationError {
	return &ValidationError{
		Field:   fmt.Sprintf("items[%d].%s", i, field),
		Message: fmt.Sprintf("item %d: %s", i+1, err.Error()),
		Title:   title,
		Err:     err,
	}
}

func parsePrice(s string) (decimal.Decimal, error) {
	price, err := ParseAmount(s)
	if err != nil || price.IsNegative() {
		return decimal.Zero, ErrInvalidPrice
	}
	return price, nil
}

// ParseQuantity accepts positive whole numbers, including "2.0".
func ParseQuantity(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, ErrInvalidQuantity
		}
		return n, nil
	}
	d, err := ParseAmount(s)
	if err != nil || !d.IsInteger() || !d.IsPositive() || !d.LessThanOrEqual(decimal.NewFromInt(1<<31-1)) {
		return 0, ErrInvalidQuantity
	}
	return int(d.IntPart()), nil
}

var (
	monthPattern = regexp.MustCompile(`^\d{2}$`)
	yearPattern  = regexp.MustCompile(`^\d{4}$`)
)

// ParsePeriod validates a summary query of a two digit month and four digit
// year.
func ParsePeriod(month, year string) (int, int, error) {
	month, year = strings.TrimSpace(month), strings.TrimSpace(year)
	if !monthPattern.MatchString(month) || !yearPattern.MatchString(year) {
		return 0, 0, &ValidationError{Field: "period", Message: ErrInvalidPeriod.Error(), Title: TitleInvalidDate, Err: ErrInvalidPeriod}
	}
	m, _ := strconv.Atoi(month)
	y, _ := strconv.Atoi(year)
	if m < 1 || m > 12 {
		return 0, 0, &ValidationError{Field: "month", Message: "month must be between 01 and 12", Title: TitleInvalidDate, Err: ErrInvalidPeriod}
	}
	return m, y, nil
}
