// Package plan builds and validates a stability test plan: which physical
// cores to test, in what order, with which stress methods, for how long.
package plan

import (
	"errors"
	"fmt"
	"time"

	"github.com/randomizedcoder/go-pbo-assistant/internal/process"
)

var (
	// ErrEmptySelection is returned when no requested core survives filtering.
	ErrEmptySelection = errors.New("no cores selected")

	// ErrNoMethods is returned when the plan names no stress method.
	ErrNoMethods = errors.New("no test methods selected")

	// ErrInvalidDuration is returned for a non-positive per-core duration.
	ErrInvalidDuration = errors.New("duration per core must be positive")
)

// Plan is an immutable description of a test run.
type Plan struct {
	DurationPerCore time.Duration    `json:"duration_per_core"`
	CoreIDs         []int            `json:"core_ids"`
	Methods         []process.Method `json:"methods"`
}

// New validates inputs and returns a plan whose CoreIDs are in test order.
// physicalCount bounds the selectable core ids.
func New(duration time.Duration, requested []int, methods []process.Method, physicalCount int) (*Plan, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDuration, duration)
	}

	ms := dedupMethods(methods)
	if len(ms) == 0 {
		return nil, ErrNoMethods
	}

	ids := Select(requested, physicalCount)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: requested %v of %d physical cores", ErrEmptySelection, requested, physicalCount)
	}

	return &Plan{
		DurationPerCore: duration,
		CoreIDs:         ids,
		Methods:         ms,
	}, nil
}

// MethodBudget is the time each method gets on a core.
func (p *Plan) MethodBudget() time.Duration {
	return p.DurationPerCore / time.Duration(len(p.Methods))
}

// TotalDuration is the stress time of the whole plan, cooldowns excluded.
func (p *Plan) TotalDuration() time.Duration {
	return p.DurationPerCore * time.Duration(len(p.CoreIDs))
}

func dedupMethods(methods []process.Method) []process.Method {
	seen := make(map[process.Method]struct{}, len(methods))
	out := make([]process.Method, 0, len(methods))
	for _, m := range methods {
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}
