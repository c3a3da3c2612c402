package status

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/randomizedcoder/go-pbo-assistant/internal/process"
	"github.com/randomizedcoder/go-pbo-assistant/internal/stats"
)

var (
	// ErrUnknownCore is returned for a core that is not in the current plan.
	ErrUnknownCore = errors.New("core not in plan")

	// ErrUnknownMethod is returned for a method that is not in the current plan.
	ErrUnknownMethod = errors.New("method not in plan")

	// ErrInvalidTransition is returned for a state change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// MethodStatus is the progress of one method on one core.
type MethodStatus struct {
	State       MethodRunState `json:"state"`
	CurrentSecs uint64         `json:"current_secs"`
	TotalSecs   uint64         `json:"total_secs"`

	// Inconclusive is set when the tool's output ended before the budget did.
	Inconclusive bool `json:"inconclusive,omitempty"`

	// Error holds the reason for a Failed state that was not a marker.
	Error string `json:"error,omitempty"`
}

// CoreTestStatus is the status of one physical core.
type CoreTestStatus struct {
	CoreID             int    `json:"core_id"`
	LogicalID          int    `json:"logical_id"`
	MaxMHz             uint64 `json:"max_mhz"`
	MinMHz             uint64 `json:"min_mhz"`
	AvgMHz             uint64 `json:"avg_mhz"`
	VerificationFailed bool   `json:"verification_failed"`

	MeanMHz float64 `json:"mean_mhz"`
	P50MHz  float64 `json:"p50_mhz"`
	P05MHz  float64 `json:"p05_mhz"`
	Samples int64   `json:"samples"`

	// FailureLine is the output line that carried the marker.
	FailureLine string `json:"failure_line,omitempty"`

	// MethodOrder lists Methods keys in plan order.
	MethodOrder []process.Method                `json:"method_order"`
	Methods     map[process.Method]MethodStatus `json:"methods"`
}

// Verdict summarises the core: "failed" if any method failed, "passed" if
// all succeeded, "untested" if none ran, "incomplete" otherwise.
func (s CoreTestStatus) Verdict() string {
	var success, failed int
	for _, m := range s.Methods {
		switch m.State {
		case Success:
			success++
		case Failed:
			failed++
		}
	}
	switch {
	case failed > 0 || s.VerificationFailed:
		return "failed"
	case success > 0 && success == len(s.Methods):
		return "passed"
	case success == 0:
		return "untested"
	default:
		return "incomplete"
	}
}

type coreEntry struct {
	status CoreTestStatus
	clock  *stats.ClockStats
}

// Table is the RW-locked status of every core in the plan.
type Table struct {
	mu      sync.RWMutex
	cores   map[int]*coreEntry
	order   []int
	methods []process.Method
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{cores: make(map[int]*coreEntry)}
}

// Reset discards all state and creates fresh entries for a new plan.
// logicalIDs maps core id to its pinned logical CPU and may be nil.
func (t *Table) Reset(coreIDs []int, logicalIDs map[int]int, methods []process.Method, budget time.Duration) {
	total := uint64(budget / time.Second)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.cores = make(map[int]*coreEntry, len(coreIDs))
	t.order = append([]int(nil), coreIDs...)
	sort.Ints(t.order)
	t.methods = append([]process.Method(nil), methods...)

	for _, id := range coreIDs {
		ms := make(map[process.Method]MethodStatus, len(methods))
		for _, m := range methods {
			ms[m] = MethodStatus{State: Idle, TotalSecs: total}
		}
		t.cores[id] = &coreEntry{
			status: CoreTestStatus{
				CoreID:      id,
				LogicalID:   logicalIDs[id],
				MinMHz:      math.MaxUint64,
				MethodOrder: t.methods,
				Methods:     ms,
			},
			clock: stats.NewClockStats(),
		}
	}
}

// entry must be called with t.mu held.
func (t *Table) entry(coreID int) (*coreEntry, error) {
	e, ok := t.cores[coreID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCore, coreID)
	}
	return e, nil
}

// SetState moves a method to a new state, enforcing the lifecycle. Leaving
// Testing for Idle clears the elapsed counter.
func (t *Table) SetState(coreID int, m process.Method, to MethodRunState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.entry(coreID)
	if err != nil {
		return err
	}
	ms, ok := e.status.Methods[m]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMethod, m)
	}
	if !CanTransition(ms.State, to) {
		return fmt.Errorf("%w: core %d %s %s -> %s", ErrInvalidTransition, coreID, m, ms.State, to)
	}
	ms.State = to
	if to == Idle {
		ms.CurrentSecs = 0
	}
	e.status.Methods[m] = ms
	return nil
}

// Fail marks a Testing method Failed with a reason.
func (t *Table) Fail(coreID int, m process.Method, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.entry(coreID)
	if err != nil {
		return err
	}
	ms, ok := e.status.Methods[m]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMethod, m)
	}
	if !CanTransition(ms.State, Failed) {
		return fmt.Errorf("%w: core %d %s %s -> %s", ErrInvalidTransition, coreID, m, ms.State, Failed)
	}
	ms.State = Failed
	ms.Error = reason
	e.status.Methods[m] = ms
	return nil
}

// SetElapsed updates the elapsed seconds of a Testing method. Other states
// are left alone so a late tick cannot resurrect a reset entry.
func (t *Table) SetElapsed(coreID int, m process.Method, secs uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.entry(coreID)
	if err != nil {
		return err
	}
	ms, ok := e.status.Methods[m]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMethod, m)
	}
	if ms.State != Testing {
		return nil
	}
	if secs > ms.TotalSecs {
		secs = ms.TotalSecs
	}
	ms.CurrentSecs = secs
	e.status.Methods[m] = ms
	return nil
}

// MarkInconclusive flags that the tool's output ended early.
func (t *Table) MarkInconclusive(coreID int, m process.Method) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.entry(coreID)
	if err != nil {
		return err
	}
	ms, ok := e.status.Methods[m]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMethod, m)
	}
	ms.Inconclusive = true
	e.status.Methods[m] = ms
	return nil
}

// RecordClock adds a clock sample to a core.
func (t *Table) RecordClock(coreID int, mhz float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.entry(coreID)
	if err != nil {
		return err
	}
	e.clock.Add(mhz)
	s := e.clock.Summary()
	e.status.MaxMHz = s.MaxMHz
	e.status.MinMHz = s.MinMHz
	e.status.AvgMHz = s.AvgMHz
	e.status.MeanMHz = s.MeanMHz
	e.status.P50MHz = s.P50MHz
	e.status.P05MHz = s.P05MHz
	e.status.Samples = s.Samples
	return nil
}

// MarkVerificationFailed records that a failure marker was seen on a core.
func (t *Table) MarkVerificationFailed(coreID int, line string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, err := t.entry(coreID)
	if err != nil {
		return err
	}
	e.status.VerificationFailed = true
	if e.status.FailureLine == "" {
		e.status.FailureLine = line
	}
	return nil
}

// VerificationFailed reports whether a marker was seen on a core.
func (t *Table) VerificationFailed(coreID int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.cores[coreID]
	return ok && e.status.VerificationFailed
}

// ResetTesting moves every Testing method back to Idle with its elapsed
// counter cleared. Terminal entries and clock stats are untouched. It
// returns the number of entries reset.
func (t *Table) ResetTesting() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, e := range t.cores {
		for m, ms := range e.status.Methods {
			if ms.State != Testing {
				continue
			}
			ms.State = Idle
			ms.CurrentSecs = 0
			e.status.Methods[m] = ms
			n++
		}
	}
	return n
}

// Status returns a copy of one core's status.
func (t *Table) Status(coreID int) (CoreTestStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.cores[coreID]
	if !ok {
		return CoreTestStatus{}, false
	}
	return copyStatus(e.status), true
}

// Snapshot returns copies of every core's status sorted by core id.
func (t *Table) Snapshot() []CoreTestStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]CoreTestStatus, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, copyStatus(t.cores[id].status))
	}
	return out
}

// Methods returns the plan's methods in order.
func (t *Table) Methods() []process.Method {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]process.Method(nil), t.methods...)
}

func copyStatus(s CoreTestStatus) CoreTestStatus {
	out := s
	out.MethodOrder = append([]process.Method(nil), s.MethodOrder...)
	out.Methods = make(map[process.Method]MethodStatus, len(s.Methods))
	for m, ms := range s.Methods {
		out.Methods[m] = ms
	}
	return out
}
