package core

import (
	"errors"
	"strings"
	"time"
)

const (
	// ISOLayout is used by date inputs.
	ISOLayout = "2006-01-02"
	// StoreLayout is the day-first format the spreadsheet stores.
	StoreLayout = "02/01/2006"
)

var ErrInvalidDate = errors.New("invalid date")

// Date is a calendar day. The time part is always midnight UTC.
type Date struct {
	time.Time
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf takes the calendar day of t in its own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

func ParseISODate(s string) (Date, error) {
	t, err := time.Parse(ISOLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return DateOf(t), nil
}

func ParseStoreDate(s string) (Date, error) {
	t, err := time.Parse(StoreLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return DateOf(t), nil
}

// ParseAnyDate accepts the store format, ISO dates and RFC 3339 timestamps,
// which is what the spreadsheet returns for cells it typed as dates.
func ParseAnyDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Date{}, ErrInvalidDate
	}
	if d, err := ParseStoreDate(s); err == nil {
		return d, nil
	}
	if d, err := ParseISODate(s); err == nil {
		return d, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DateOf(t), nil
	}
	return Date{}, ErrInvalidDate
}

func (d Date) ISO() string {
	return d.Format(ISOLayout)
}

func (d Date) StoreFormat() string {
	return d.Format(StoreLayout)
}

// Label returns the month heading used by monthly summaries, e.g. "March 2025".
func (d Date) Label() string {
	return d.Time.Month().String() + " " + d.Format("2006")
}

// OrToday returns today when d is unset.
func (d Date) OrToday(today Date) Date {
	if d.IsZero() {
		return today
	}
	return d
}

// ToStoreFormat converts any accepted date string to DD/MM/YYYY. Unparseable
// input becomes today.
func ToStoreFormat(s string, today Date) string {
	d, err := ParseAnyDate(s)
	if err != nil {
		return today.StoreFormat()
	}
	return d.StoreFormat()
}

// ToInputFormat converts any accepted date string to YYYY-MM-DD. Unparseable
// input becomes today.
func ToInputFormat(s string, today Date) string {
	d, err := ParseAnyDate(s)
	if err != nil {
		return today.ISO()
	}
	return d.ISO()
}
