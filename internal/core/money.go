package core

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in cents. All arithmetic that can produce fractions of a
// cent goes through decimal and is rounded back to two places.
type Money struct {
	Cents int64
}

var (
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrAmountTooLarge = errors.New("amount is too large")
)

// maxAmount is the largest magnitude that still fits in Money.
var maxAmount = decimal.New(math.MaxInt64, -2)

// ParseAmount parses a user supplied number. Both dot and comma are accepted
// as decimal separator.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	lower := strings.ToLower(s)
	if strings.Contains(lower, "inf") || strings.Contains(lower, "nan") {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

// MoneyFromDecimal rounds d half away from zero to whole cents.
func MoneyFromDecimal(d decimal.Decimal) Money {
	return Money{Cents: d.Round(2).Shift(2).IntPart()}
}

// ToMoney is MoneyFromDecimal for user input. It fails with
// ErrAmountTooLarge when the rounded amount does not fit in cents.
func ToMoney(d decimal.Decimal) (Money, error) {
	r := d.Round(2)
	if r.Abs().GreaterThan(maxAmount) {
		return Money{}, ErrAmountTooLarge
	}
	return Money{Cents: r.Shift(2).IntPart()}, nil
}

// MoneyFromFloat converts a JSON number coming from a collaborator.
func MoneyFromFloat(f float64) Money {
	return MoneyFromDecimal(decimal.NewFromFloat(f))
}

// LineTotal computes price × quantity rounded to cents.
func LineTotal(price decimal.Decimal, quantity int) Money {
	return MoneyFromDecimal(price.Mul(decimal.NewFromInt(int64(quantity))))
}

// CheckedLineTotal is LineTotal failing with ErrAmountTooLarge on overflow.
func CheckedLineTotal(price decimal.Decimal, quantity int) (Money, error) {
	return ToMoney(price.Mul(decimal.NewFromInt(int64(quantity))))
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

func (m Money) Add(o Money) Money {
	return Money{Cents: m.Cents + o.Cents}
}

func (m Money) Sub(o Money) Money {
	return Money{Cents: m.Cents - o.Cents}
}

func (m Money) Times(q int) Money {
	return Money{Cents: m.Cents * int64(q)}
}

// Div splits m into q parts, rounded to cents.
func (m Money) Div(q int) Money {
	if q == 0 {
		return m
	}
	return MoneyFromDecimal(m.Decimal().Div(decimal.NewFromInt(int64(q))))
}

func (m Money) IsZero() bool {
	return m.Cents == 0
}

// Float is used when encoding JSON numbers for collaborators.
func (m Money) Float() float64 {
	f, _ := m.Decimal().Float64()
	return f
}

// String formats with exactly two decimals, e.g. "2.58".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Format prefixes the amount with a currency symbol.
func (m Money) Format(currency string) string {
	return currency + m.String()
}
