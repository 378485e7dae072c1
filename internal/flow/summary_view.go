package flow

import (
	"sync"

	"spesa/internal/core"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseLoaded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseFetching:
		return "fetching"
	case PhaseLoaded:
		return "loaded"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// SummaryView follows the monthly summary screen: Idle, then Fetching on
// every query, then Loaded or Failed. A failure keeps the last loaded data.
type SummaryView struct {
	mu      sync.Mutex
	phase   Phase
	ticket  uint64
	month   int
	year    int
	data    *core.Summary
	message string
}

type SummaryViewSnapshot struct {
	Phase   Phase
	Month   int
	Year    int
	Data    *core.Summary
	Message string
}

// Begin starts a query and returns a ticket; only the latest ticket may
// complete it.
func (v *SummaryView) Begin(month, year int) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ticket++
	v.phase = PhaseFetching
	v.month, v.year = month, year
	v.message = ""
	return v.ticket
}

// Succeed replaces the data. It reports false for a superseded ticket.
func (v *SummaryView) Succeed(ticket uint64, s core.Summary) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if ticket != v.ticket {
		return false
	}
	v.phase = PhaseLoaded
	v.data = &s
	v.message = ""
	return true
}

// Fail records a retryable message and keeps the previous data.
func (v *SummaryView) Fail(ticket uint64, message string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if ticket != v.ticket {
		return false
	}
	v.phase = PhaseFailed
	v.message = message
	return true
}

func (v *SummaryView) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ticket++
	v.phase = PhaseIdle
	v.month, v.year = 0, 0
	v.data = nil
	v.message = ""
}

func (v *SummaryView) Snapshot() SummaryViewSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := SummaryViewSnapshot{Phase: v.phase, Month: v.month, Year: v.year, Message: v.message}
	if v.data != nil {
		d := *v.data
		s.Data = &d
	}
	return s
}
