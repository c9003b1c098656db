// Package retry runs optimistic read-modify-write cycles against a store
// whose only atomic primitive is a single-row conditional write.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrConcurrencyExhausted is returned when every attempt of a cycle lost
// its conditional write to a concurrent writer. The stored state is left at
// whatever version the winning writers produced.
var ErrConcurrencyExhausted = errors.New("concurrent modification: retries exhausted")

const DefaultMaxAttempts = 1000

// Observer is told about each attempt of a cycle. Implementations must be
// safe for concurrent use.
type Observer interface {
	Attempt(op string)
	Conflict(op string)
	Exhausted(op string)
}

type nopObserver struct{}

func (nopObserver) Attempt(string)   {}
func (nopObserver) Conflict(string)  {}
func (nopObserver) Exhausted(string) {}

// Policy bounds a cycle and names it for logs and metrics.
type Policy struct {
	Op          string
	MaxAttempts int
	Observer    Observer
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) observer() Observer {
	if p.Observer == nil {
		return nopObserver{}
	}
	return p.Observer
}

// Do repeats load then write until a write applies, an error occurs, or
// p.MaxAttempts writes have been rejected.
//
// load reads the current versioned state. write derives the next state from
// it and attempts a conditional write keyed on what was read; it reports
// applied=false when the write lost against a concurrent writer. Nothing is
// carried from one attempt to the next besides what load returns.
func Do[S, R any](ctx context.Context, p Policy, load func(context.Context) (S, error), write func(context.Context, S) (R, bool, error)) (R, error) {
	var zero R
	obs := p.observer()
	limit := p.maxAttempts()
	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		obs.Attempt(p.Op)

		current, err := load(ctx)
		if err != nil {
			return zero, err
		}
		result, applied, err := write(ctx, current)
		if err != nil {
			return zero, err
		}
		if applied {
			return result, nil
		}
		obs.Conflict(p.Op)
		slog.Debug("conditional write lost, retrying", "op", p.Op, "attempt", attempt)
	}
	obs.Exhausted(p.Op)
	return zero, fmt.Errorf("%s: %d attempts: %w", p.Op, limit, ErrConcurrencyExhausted)
}
