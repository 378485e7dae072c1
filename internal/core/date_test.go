package core

import (
	"testing"
	"time"
)

func TestParseAnyDate(t *testing.T) {
	cases := []struct {
		in  string
		iso string
		ok  bool
	}{
		{"14/03/2025", "2025-03-14", true},
		{"2025-03-14", "2025-03-14", true},
		{"2025-03-14T00:00:00.000Z", "2025-03-14", true},
		{"", "", false},
		{"31/02/2025", "", false},
		{"not a date", "", false},
	}
	for _, tc := range cases {
		d, err := ParseAnyDate(tc.in)
		if tc.ok {
			if err != nil || d.ISO() != tc.iso {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.iso, d.ISO(), err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestStoreFormatRoundTrip(t *testing.T) {
	today := NewDate(2025, 6, 1)
	for _, in := range []string{"2025-03-14", "14/03/2025", "garbage", ""} {
		once := ToStoreFormat(in, today)
		twice := ToStoreFormat(once, today)
		if once != twice {
			t.Fatalf("%q not idempotent: %q then %q", in, once, twice)
		}
		if back := ToInputFormat(once, today); ToStoreFormat(back, today) != once {
			t.Fatalf("%q did not survive input round trip", in)
		}
	}
	if got := ToStoreFormat("2025-03-14", today); got != "14/03/2025" {
		t.Fatalf("unexpected store format %q", got)
	}
	if got := ToStoreFormat("garbage", today); got != "01/06/2025" {
		t.Fatalf("invalid input should become today, got %q", got)
	}
	if got := ToInputFormat("", today); got != "2025-06-01" {
		t.Fatalf("empty input should become today, got %q", got)
	}
}

func TestDateOfAndLabel(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	d := DateOf(time.Date(2025, 1, 31, 23, 30, 0, 0, loc))
	if d.ISO() != "2025-01-31" {
		t.Fatalf("expected local calendar day, got %s", d.ISO())
	}
	if d.Label() != "January 2025" {
		t.Fatalf("unexpected label %q", d.Label())
	}
	if d.Month() != 1 || d.Year() != 2025 || d.Day() != 31 {
		t.Fatalf("unexpected parts %d/%d/%d", d.Day(), d.Month(), d.Year())
	}
}
