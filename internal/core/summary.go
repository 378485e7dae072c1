package core

import (
	"sort"
)

// Summary holds per-person totals for one month.
type Summary struct {
	Month  int
	Year   int
	People Participants
	Totals map[Person]Money
}

// MonthBucket is one month of the client side overview.
type MonthBucket struct {
	Label  string
	Year   int
	Month  int
	Totals map[Person]Money
	Total  Money
}

// Mismatch records a person whose server total disagrees with the totals
// computed from the expense list.
type Mismatch struct {
	Person Person
	Server Money
	Client Money
}

// NewSummary builds a summary from raw totals. Every participant gets an
// entry, defaulting to zero; names outside the participant set are ignored.
func NewSummary(people Participants, month, year int, raw map[Person]Money) Summary {
	totals := make(map[Person]Money, len(people))
	for _, p := range people {
		totals[p] = raw[p]
	}
	return Summary{Month: month, Year: year, People: people, Totals: totals}
}

// Total returns the amount for p, zero when p is not a participant.
func (s Summary) Total(p Person) Money {
	return s.Totals[p]
}

// Grand sums the totals of all participants.
func (s Summary) Grand() Money {
	var sum Money
	for _, p := range s.People {
		sum = sum.Add(s.Totals[p])
	}
	return sum
}

// SummarizeMonth aggregates an expense list for stores that cannot compute
// the summary themselves.
func SummarizeMonth(expenses []Expense, people Participants, month, year int) Summary {
	raw := make(map[Person]Money)
	for _, e := range expenses {
		if e.Date.IsZero() || e.Date.Month() != month || e.Date.Year() != year {
			continue
		}
		raw[e.Person] = raw[e.Person].Add(e.Cost)
	}
	return NewSummary(people, month, year, raw)
}

// MonthlyBuckets groups every expense by calendar month, newest month first.
// The bucket total includes expenses of people outside the participant set.
func MonthlyBuckets(expenses []Expense, people Participants) []MonthBucket {
	type key struct{ y, m int }
	index := make(map[key]*MonthBucket)
	for _, e := range expenses {
		if e.Date.IsZero() {
			continue
		}
		k := key{e.Date.Year(), e.Date.Month()}
		b, ok := index[k]
		if !ok {
			b = &MonthBucket{
				Label:  e.Date.Label(),
				Year:   k.y,
				Month:  k.m,
				Totals: make(map[Person]Money, len(people)),
			}
			for _, p := range people {
				b.Totals[p] = Money{}
			}
			index[k] = b
		}
		if people.Contains(e.Person) {
			b.Totals[e.Person] = b.Totals[e.Person].Add(e.Cost)
		}
		b.Total = b.Total.Add(e.Cost)
	}

	out := make([]MonthBucket, 0, len(index))
	for _, b := range index {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].Month > out[j].Month
	})
	return out
}

// Diff lists participants whose totals differ between two summaries.
func Diff(server, client Summary) []Mismatch {
	var out []Mismatch
	for _, p := range server.People {
		if server.Totals[p] != client.Totals[p] {
			out = append(out, Mismatch{Person: p, Server: server.Totals[p], Client: client.Totals[p]})
		}
	}
	return out
}
