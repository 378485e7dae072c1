package core

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{" 2.50 ", "2.5", true},
		{"-1", "-1", true},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"", "", false},
		{"NaN", "", false},
		{"Infinity", "", false},
	}
	for _, tc := range cases {
		got, err := ParseAmount(tc.in)
		if tc.ok {
			if err != nil || !got.Equal(decimal.RequireFromString(tc.out)) {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestLineTotalIsExact(t *testing.T) {
	got := LineTotal(decimal.RequireFromString("1.29"), 2)
	if got.String() != "2.58" || got.Cents != 258 {
		t.Fatalf("1.29 x 2 expected 2.58, got %s", got)
	}
	got = LineTotal(decimal.RequireFromString("0.1"), 3)
	if got.Cents != 30 {
		t.Fatalf("0.1 x 3 expected 30 cents, got %d", got.Cents)
	}
}

func TestMoneyFromDecimalRounds(t *testing.T) {
	cases := map[string]int64{
		"1.005":  101,
		"1.004":  100,
		"12.346": 1235,
		"0":      0,
	}
	for in, want := range cases {
		if got := MoneyFromDecimal(decimal.RequireFromString(in)).Cents; got != want {
			t.Fatalf("%s expected %d cents, got %d", in, want, got)
		}
	}
}

func TestToMoneyBounds(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"12.346", 1235, false},
		{"92233720368547758.07", math.MaxInt64, false},
		{"-92233720368547758.07", -math.MaxInt64, false},
		{"92233720368547758.08", 0, true},
		{"184467440737095517.16", 0, true},
		{"-1e30", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ToMoney(decimal.RequireFromString(tc.in))
			if tc.wantErr {
				if !errors.Is(err, ErrAmountTooLarge) {
					t.Fatalf("expected ErrAmountTooLarge, got %v (%d cents)", err, got.Cents)
				}
				return
			}
			if err != nil || got.Cents != tc.want {
				t.Fatalf("expected %d cents, got %d (err=%v)", tc.want, got.Cents, err)
			}
		})
	}
}

func TestCheckedLineTotal(t *testing.T) {
	if got, err := CheckedLineTotal(decimal.RequireFromString("1.29"), 2); err != nil || got.Cents != 258 {
		t.Fatalf("1.29 x 2 expected 258 cents, got %d (err=%v)", got.Cents, err)
	}
	if _, err := CheckedLineTotal(decimal.RequireFromString("1e15"), 100000); !errors.Is(err, ErrAmountTooLarge) {
		t.Fatalf("expected ErrAmountTooLarge, got %v", err)
	}
}

func TestMoneyDivAndFormat(t *testing.T) {
	m := Money{Cents: 600}
	if got := m.Div(3).String(); got != "2.00" {
		t.Fatalf("6.00/3 expected 2.00, got %s", got)
	}
	if got := (Money{Cents: 1000}).Div(3).String(); got != "3.33" {
		t.Fatalf("10.00/3 expected 3.33, got %s", got)
	}
	if got := (Money{Cents: 5}).Format("€"); got != "€0.05" {
		t.Fatalf("unexpected format %q", got)
	}
	if got := MoneyFromFloat(12.5).Cents; got != 1250 {
		t.Fatalf("expected 1250, got %d", got)
	}
}
