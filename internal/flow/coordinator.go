// Package flow tracks what the service is doing on behalf of its users:
// whether a collaborator call is in flight, the alert to show after a
// failure, and the state of the monthly summary view.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

type State int

const (
	Idle State = iota
	Busy
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Alert is a user-facing message.
type Alert struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Operation describes a collaborator call and the alert shown when it fails.
type Operation struct {
	Name           string
	FailureTitle   string
	FailureMessage string
	// SurfaceDetail shows the failure's own message instead of the generic one.
	SurfaceDetail bool
}

var (
	OpListExpenses = Operation{Name: "list_expenses", FailureTitle: "Loading Error", FailureMessage: "Could not load expenses."}
	OpAddExpense   = Operation{Name: "add_expense", FailureTitle: "Save Error", FailureMessage: "Could not save the new expense."}
	OpEditExpense  = Operation{Name: "update_expense", FailureTitle: "Save Error", FailureMessage: "Could not update the expense."}
	OpSaveBatch    = Operation{Name: "add_batch", FailureTitle: "Save Error", FailureMessage: "Could not save the batch of expenses."}
	OpFetchSummary = Operation{Name: "fetch_summary", FailureTitle: "Fetch Error", FailureMessage: "Could not load the summary data."}
	OpScanReceipt  = Operation{Name: "scan_receipt", FailureTitle: "Scan Error", FailureMessage: "Could not scan the receipt.", SurfaceDetail: true}
)

// Snapshot is a copy of the coordinator state.
type Snapshot struct {
	State     State
	Operation string
	Alert     *Alert
	Since     time.Time
}

// Observer is notified after every operation.
type Observer func(op string, elapsed time.Duration, err error)

// Coordinator runs collaborator operations one at a time. Callers queue on
// a weighted semaphore of size one and give up when their context ends.
type Coordinator struct {
	sem *semaphore.Weighted
	now func() time.Time

	mu       sync.Mutex
	state    State
	current  string
	alert    *Alert
	since    time.Time
	observer Observer
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		sem:   semaphore.NewWeighted(1),
		now:   time.Now,
		since: time.Now(),
	}
}

// Observe registers fn to be called after each operation.
func (c *Coordinator) Observe(fn Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = fn
}

// Run executes fn while holding the busy slot. On failure the coordinator
// moves to Error with the operation's alert and the error is returned as is.
func (c *Coordinator) Run(ctx context.Context, op Operation, fn func(context.Context) error) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%s: waiting for busy slot: %w", op.Name, err)
	}
	defer c.sem.Release(1)

	c.mu.Lock()
	c.state = Busy
	c.current = op.Name
	c.since = c.now()
	c.mu.Unlock()

	start := c.now()
	err := fn(ctx)
	elapsed := c.now().Sub(start)

	c.mu.Lock()
	c.current = ""
	c.since = c.now()
	if err != nil {
		c.state = Error
		c.alert = alertFor(op, err)
	} else {
		c.state = Idle
		c.alert = nil
	}
	observer := c.observer
	c.mu.Unlock()

	if observer != nil {
		observer(op.Name, elapsed, err)
	}
	return err
}

// ShowAlert records an alert that did not come from a failed operation, such
// as an input problem or an empty scan.
func (c *Coordinator) ShowAlert(title, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alert = &Alert{Title: title, Message: message}
}

// DismissAlert clears the alert and leaves the Error state.
func (c *Coordinator) DismissAlert() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alert = nil
	if c.state == Error {
		c.state = Idle
		c.since = c.now()
	}
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{State: c.state, Operation: c.current, Since: c.since}
	if c.alert != nil {
		a := *c.alert
		s.Alert = &a
	}
	return s
}

type detailer interface {
	Detail() string
}

func alertFor(op Operation, err error) *Alert {
	msg := op.FailureMessage
	if op.SurfaceDetail {
		var d detailer
		if errors.As(err, &d) {
			msg = d.Detail()
		} else {
			msg = err.Error()
		}
	}
	return &Alert{Title: op.FailureTitle, Message: msg}
}
