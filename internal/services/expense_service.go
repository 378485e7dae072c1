// Package services runs the expense workflows: input validation, the
// collaborator call through the flow coordinator, and the follow-up state
// (summary cache, summary view, alerts).
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"spesa/internal/cache"
	"spesa/internal/core"
	"spesa/internal/flow"
	applog "spesa/internal/log"
	"spesa/internal/metrics"
	"spesa/internal/sheets"
)

const (
	TitleScanUnsuccessful = "Scan Unsuccessful"
	NoticeNoItems         = "No items could be read from the receipt."
)

var ErrScannerUnavailable = errors.New("receipt scanning is not configured")

type Options struct {
	People       core.Participants
	Coordinator  *flow.Coordinator
	StoreTimeout time.Duration
	ScanTimeout  time.Duration
	Language     string
	// Verify recomputes server summaries from the expense list and logs any
	// difference. The server value is still returned.
	Verify  bool
	Cache   cache.Cache[core.Summary]
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// ExpenseService is shared by all HTTP handlers. summaries and scanner may be
// nil: months are then aggregated from the expense list and scanning is
// unavailable.
type ExpenseService struct {
	store     sheets.ExpenseStore
	summaries sheets.SummaryReader
	scanner   sheets.ReceiptScanner

	people       core.Participants
	coord        *flow.Coordinator
	view         *flow.SummaryView
	storeTimeout time.Duration
	scanTimeout  time.Duration
	language     string
	verify       bool
	cache        cache.Cache[core.Summary]
	metrics      *metrics.Metrics
	now          func() time.Time
	flight       singleflight.Group
	log          *applog.StructuredLogger
}

func NewExpenseService(store sheets.ExpenseStore, summaries sheets.SummaryReader, scanner sheets.ReceiptScanner, opts Options) *ExpenseService {
	if opts.Coordinator == nil {
		opts.Coordinator = flow.NewCoordinator()
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 15 * time.Second
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 60 * time.Second
	}
	if opts.Language == "" {
		opts.Language = "German"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ExpenseService{
		store:        store,
		summaries:    summaries,
		scanner:      scanner,
		people:       opts.People,
		coord:        opts.Coordinator,
		view:         &flow.SummaryView{},
		storeTimeout: opts.StoreTimeout,
		scanTimeout:  opts.ScanTimeout,
		language:     opts.Language,
		verify:       opts.Verify,
		cache:        opts.Cache,
		metrics:      opts.Metrics,
		now:          opts.Now,
		log:          applog.NewStructuredLogger(applog.New(applog.Config{Handler: slog.Default().Handler(), Component: applog.ComponentExpense})),
	}
}

func (s *ExpenseService) People() core.Participants { return s.people }

func (s *ExpenseService) ScanEnabled() bool { return s.scanner != nil }

func (s *ExpenseService) today() core.Date { return core.DateOf(s.now()) }

// Status is the state behind /api/status.
type Status struct {
	Coordinator flow.Snapshot
	Summary     flow.SummaryViewSnapshot
}

func (s *ExpenseService) Status() Status {
	return Status{Coordinator: s.coord.Snapshot(), Summary: s.view.Snapshot()}
}

func (s *ExpenseService) DismissAlert() { s.coord.DismissAlert() }

// ListExpenses returns the normalised list, newest first. filter is a person
// name, or "" / "All" for everyone.
func (s *ExpenseService) ListExpenses(ctx context.Context, filter string) ([]core.Expense, error) {
	expenses, err := s.fetchAll(ctx, flow.OpListExpenses)
	if err != nil {
		return nil, err
	}
	return core.FilterByPerson(expenses, filter), nil
}

// EditForm finds an expense and derives the values shown in its edit form.
func (s *ExpenseService) EditForm(ctx context.Context, id string) (core.EditForm, error) {
	if id == "" {
		return core.EditForm{}, s.rejected(&core.ValidationError{Field: "id", Message: core.ErrMissingID.Error(), Err: core.ErrMissingID})
	}
	expenses, err := s.fetchAll(ctx, flow.OpListExpenses)
	if err != nil {
		return core.EditForm{}, err
	}
	for _, e := range expenses {
		if e.ID == id {
			return core.EditFormFor(e, s.today()), nil
		}
	}
	return core.EditForm{}, fmt.Errorf("edit form %s: %w", id, sheets.ErrExpenseNotFound)
}

// AddManual validates a manual entry and stores it dated today.
func (s *ExpenseService) AddManual(ctx context.Context, in core.ManualEntryInput) (core.Expense, error) {
	e, err := core.ValidateManualEntry(in, s.people, s.today())
	if err != nil {
		return core.Expense{}, s.rejected(err)
	}

	var saved core.Expense
	err = s.coord.Run(ctx, flow.OpAddExpense, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
		var err error
		saved, err = s.store.AddExpense(callCtx, e)
		return err
	})
	if err != nil {
		s.logFailure(ctx, "Failed to add expense", err, applog.OpCreate)
		return core.Expense{}, err
	}
	s.invalidate()
	s.log.LogExpenseSaved(ctx, applog.OpCreate, saved)
	return saved, nil
}

// UpdateExpense validates an edit and overwrites the stored expense.
func (s *ExpenseService) UpdateExpense(ctx context.Context, in core.EditInput) (core.Expense, error) {
	e, err := core.ValidateEdit(in, s.people, s.today())
	if err != nil {
		return core.Expense{}, s.rejected(err)
	}

	var saved core.Expense
	err = s.coord.Run(ctx, flow.OpEditExpense, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
		var err error
		saved, err = s.store.UpdateExpense(callCtx, e)
		return err
	})
	if err != nil {
		s.logFailure(ctx, "Failed to update expense", err, applog.OpUpdate)
		return core.Expense{}, err
	}
	if saved.ID == "" {
		saved = e
	}
	s.invalidate()
	s.log.LogExpenseSaved(ctx, applog.OpUpdate, saved)
	return saved, nil
}

// BatchResult reports what SaveBatch stored.
type BatchResult struct {
	Saved   int
	Skipped int
}

// SaveBatch validates every row before storing anything; the first invalid
// row aborts the batch. Rows assigned to None are dropped, and a batch left
// empty succeeds without calling the store.
func (s *ExpenseService) SaveBatch(ctx context.Context, rows []core.BatchRow) (BatchResult, error) {
	expenses, skipped, err := core.ValidateBatch(rows, s.people, s.today())
	if err != nil {
		return BatchResult{}, s.rejected(err)
	}
	if len(expenses) == 0 {
		slog.InfoContext(ctx, "Batch has nothing to store", "skipped", skipped)
		return BatchResult{Skipped: skipped}, nil
	}

	err = s.coord.Run(ctx, flow.OpSaveBatch, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
		return s.store.AddBatchExpenses(callCtx, expenses)
	})
	if err != nil {
		s.logFailure(ctx, "Failed to save batch", err, applog.OpBatch)
		return BatchResult{}, err
	}
	s.invalidate()
	slog.InfoContext(ctx, "Batch saved", applog.FieldCount, len(expenses), "skipped", skipped)
	return BatchResult{Saved: len(expenses), Skipped: skipped}, nil
}

// SummaryForPeriod is Summary for a raw MM and YYYY query. A malformed
// period is rejected like any other invalid input.
func (s *ExpenseService) SummaryForPeriod(ctx context.Context, month, year string) (core.Summary, error) {
	m, y, err := core.ParsePeriod(month, year)
	if err != nil {
		return core.Summary{}, s.rejected(err)
	}
	return s.Summary(ctx, m, y)
}

// Summary returns per-person totals for one month. Concurrent requests for
// the same month share one collaborator call. The result is cached while the
// busy slot is held, so a write cannot clear the cache between the read and
// the store of a stale summary.
func (s *ExpenseService) Summary(ctx context.Context, month, year int) (core.Summary, error) {
	ticket := s.view.Begin(month, year)
	key := fmt.Sprintf("%04d-%02d", year, month)

	if s.cache != nil {
		cached, ok := s.cache.Get(key)
		s.metrics.RecordCacheLookup(ok)
		if ok {
			s.view.Succeed(ticket, cached)
			return cached, nil
		}
	}

	v, err, _ := s.flight.Do(key, func() (any, error) {
		var sum core.Summary
		err := s.coord.Run(ctx, flow.OpFetchSummary, func(ctx context.Context) error {
			var err error
			sum, err = s.fetchSummary(ctx, month, year)
			if err == nil && s.cache != nil {
				s.cache.Set(key, sum)
			}
			return err
		})
		return sum, err
	})
	if err != nil {
		s.view.Fail(ticket, flow.OpFetchSummary.FailureMessage)
		s.logFailure(ctx, "Failed to fetch summary", err, applog.OpSummary)
		return core.Summary{}, err
	}

	sum := v.(core.Summary)
	s.view.Succeed(ticket, sum)
	return sum, nil
}

func (s *ExpenseService) fetchSummary(ctx context.Context, month, year int) (core.Summary, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	if s.summaries == nil {
		expenses, err := s.store.ListExpenses(callCtx)
		if err != nil {
			return core.Summary{}, err
		}
		return core.SummarizeMonth(core.NormalizeAll(expenses, s.today()), s.people, month, year), nil
	}

	if !s.verify {
		raw, err := s.summaries.ReadSummary(callCtx, month, year)
		if err != nil {
			return core.Summary{}, err
		}
		return core.NewSummary(s.people, month, year, raw), nil
	}

	var (
		raw      map[core.Person]core.Money
		expenses []core.Expense
	)
	g, gctx := errgroup.WithContext(callCtx)
	g.Go(func() error {
		var err error
		raw, err = s.summaries.ReadSummary(gctx, month, year)
		return err
	})
	g.Go(func() error {
		var err error
		if expenses, err = s.store.ListExpenses(gctx); err != nil {
			slog.WarnContext(ctx, "Summary verification skipped", applog.FieldError, err)
			expenses = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.Summary{}, err
	}

	server := core.NewSummary(s.people, month, year, raw)
	if expenses != nil {
		client := core.SummarizeMonth(core.NormalizeAll(expenses, s.today()), s.people, month, year)
		for _, m := range core.Diff(server, client) {
			slog.WarnContext(ctx, "Summary mismatch",
				applog.FieldPerson, string(m.Person),
				"server", m.Server.String(),
				"client", m.Client.String(),
				applog.FieldMonth, month,
				applog.FieldYear, year)
		}
	}
	return server, nil
}

// MonthlySummaries groups every expense by month, newest first.
func (s *ExpenseService) MonthlySummaries(ctx context.Context) ([]core.MonthBucket, error) {
	expenses, err := s.fetchAll(ctx, flow.OpFetchSummary)
	if err != nil {
		return nil, err
	}
	return core.MonthlyBuckets(expenses, s.people), nil
}

// ScanResult holds the scanned lines, all unassigned. Notice is set when the
// receipt yielded nothing.
type ScanResult struct {
	Items  []core.AssignedItem
	Notice string
}

// ScanReceipt sends the image to the scanner. An empty result is not an
// error.
func (s *ExpenseService) ScanReceipt(ctx context.Context, img core.ReceiptImage, language string) (ScanResult, error) {
	if s.scanner == nil {
		return ScanResult{}, ErrScannerUnavailable
	}
	if language == "" {
		language = s.language
	}

	var scanned []core.ScannedItem
	err := s.coord.Run(ctx, flow.OpScanReceipt, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.scanTimeout)
		defer cancel()
		var err error
		scanned, err = s.scanner.Scan(callCtx, img, language)
		return err
	})
	if err != nil {
		s.logFailure(ctx, "Failed to scan receipt", err, applog.OpScan)
		return ScanResult{}, err
	}

	res := ScanResult{Items: make([]core.AssignedItem, 0, len(scanned))}
	for _, it := range scanned {
		res.Items = append(res.Items, core.NewAssignedItem(it))
	}
	if len(res.Items) == 0 {
		res.Notice = NoticeNoItems
		s.coord.ShowAlert(TitleScanUnsuccessful, NoticeNoItems)
	}
	slog.InfoContext(ctx, "Receipt scanned", applog.FieldCount, len(res.Items), "language", language)
	return res, nil
}

func (s *ExpenseService) fetchAll(ctx context.Context, op flow.Operation) ([]core.Expense, error) {
	var expenses []core.Expense
	err := s.coord.Run(ctx, op, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
		var err error
		expenses, err = s.store.ListExpenses(callCtx)
		return err
	})
	if err != nil {
		s.logFailure(ctx, "Failed to list expenses", err, applog.OpList)
		return nil, err
	}
	expenses = core.NormalizeAll(expenses, s.today())
	core.SortNewestFirst(expenses)
	return expenses, nil
}

// rejected records a validation failure as the current alert.
func (s *ExpenseService) rejected(err error) error {
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		s.metrics.RecordValidation(ve.Field)
		s.coord.ShowAlert(ve.AlertTitle(), ve.Error())
	}
	return err
}

func (s *ExpenseService) invalidate() {
	if s.cache != nil {
		s.cache.Clear()
	}
}

func (s *ExpenseService) logFailure(ctx context.Context, msg string, err error, op string) {
	errorType := applog.ErrorTypeNetwork
	var up *sheets.UpstreamError
	switch {
	case errors.As(err, &up):
		errorType = applog.ErrorTypeUpstream
	case errors.Is(err, context.DeadlineExceeded):
		errorType = applog.ErrorTypeTimeout
	case errors.Is(err, sheets.ErrExpenseNotFound):
		errorType = applog.ErrorTypeNotFound
	}
	s.log.LogError(ctx, msg, err, errorType, applog.ComponentExpense, op, nil)
}
