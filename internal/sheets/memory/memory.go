package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"spesa/internal/core"
	ports "spesa/internal/sheets"
)

// Store keeps expenses in process memory. It is used for local development
// and in tests.
type Store struct {
	mu    sync.Mutex
	items []core.Expense
}

var _ ports.ExpenseStore = (*Store)(nil)

func New(seed ...core.Expense) *Store {
	s := &Store{}
	for _, e := range seed {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		s.items = append(s.items, e)
	}
	return s
}

// NewFromFiles seeds the store from base/seed_expenses.txt. Each line is
// "DD/MM/YYYY;item;cost;quantity;person"; blank lines and # comments are
// skipped. A missing file yields an empty store.
func NewFromFiles(base string) *Store {
	var seed []core.Expense
	for _, line := range readLines(filepath.Join(base, "seed_expenses.txt")) {
		if e, err := parseSeedLine(line); err == nil {
			seed = append(seed, e)
		}
	}
	return New(seed...)
}

func (s *Store) ListExpenses(_ context.Context) ([]core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Expense(nil), s.items...), nil
}

func (s *Store) AddExpense(_ context.Context, e core.Expense) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = uuid.NewString()
	s.items = append(s.items, e)
	return e, nil
}

func (s *Store) UpdateExpense(_ context.Context, e core.Expense) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == e.ID {
			s.items[i] = e
			return e, nil
		}
	}
	return core.Expense{}, fmt.Errorf("update %s: %w", e.ID, ports.ErrExpenseNotFound)
}

func (s *Store) AddBatchExpenses(_ context.Context, expenses []core.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range expenses {
		e.ID = uuid.NewString()
		s.items = append(s.items, e)
	}
	return nil
}

func parseSeedLine(line string) (core.Expense, error) {
	parts := strings.Split(line, ";")
	if len(parts) != 5 {
		return core.Expense{}, fmt.Errorf("want 5 fields, got %d", len(parts))
	}
	date, err := core.ParseAnyDate(parts[0])
	if err != nil {
		return core.Expense{}, err
	}
	amount, err := core.ParseAmount(parts[2])
	if err != nil {
		return core.Expense{}, err
	}
	qty, err := core.ParseQuantity(parts[3])
	if err != nil {
		return core.Expense{}, err
	}
	return core.Expense{
		Item:     strings.TrimSpace(parts[1]),
		Cost:     core.MoneyFromDecimal(amount),
		Quantity: qty,
		Person:   core.Person(strings.TrimSpace(parts[4])),
		Date:     date,
	}, nil
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
