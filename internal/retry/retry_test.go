package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type countingObserver struct {
	mu                            sync.Mutex
	attempts, conflicts, exhausts int
}

func (o *countingObserver) Attempt(string)   { o.mu.Lock(); o.attempts++; o.mu.Unlock() }
func (o *countingObserver) Conflict(string)  { o.mu.Lock(); o.conflicts++; o.mu.Unlock() }
func (o *countingObserver) Exhausted(string) { o.mu.Lock(); o.exhausts++; o.mu.Unlock() }

func TestDo_SucceedsAfterConflicts(t *testing.T) {
	version := 0
	writes := 0
	obs := &countingObserver{}

	got, err := Do(context.Background(), Policy{Op: "test", MaxAttempts: 5, Observer: obs},
		func(context.Context) (int, error) { return version, nil },
		func(_ context.Context, v int) (int, bool, error) {
			writes++
			if writes <= 3 {
				version++ // a concurrent writer moved the row
				return 0, false, nil
			}
			return v + 1, true, nil
		})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != 4 {
		t.Errorf("expected result derived from the last read version (4), got %d", got)
	}
	if obs.attempts != 4 || obs.conflicts != 3 || obs.exhausts != 0 {
		t.Errorf("unexpected observer counts: %+v", obs)
	}
}

func TestDo_Exhausted(t *testing.T) {
	obs := &countingObserver{}
	loads := 0
	_, err := Do(context.Background(), Policy{Op: "test", MaxAttempts: 3, Observer: obs},
		func(context.Context) (struct{}, error) { loads++; return struct{}{}, nil },
		func(context.Context, struct{}) (string, bool, error) { return "", false, nil })
	if !errors.Is(err, ErrConcurrencyExhausted) {
		t.Fatalf("expected ErrConcurrencyExhausted, got %v", err)
	}
	if loads != 3 {
		t.Errorf("expected one load per attempt (3), got %d", loads)
	}
	if obs.exhausts != 1 {
		t.Errorf("expected exhausted once, got %d", obs.exhausts)
	}
}

func TestDo_LoadErrorStops(t *testing.T) {
	boom := errors.New("boom")
	writes := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 3},
		func(context.Context) (int, error) { return 0, boom },
		func(context.Context, int) (int, bool, error) { writes++; return 0, true, nil })
	if !errors.Is(err, boom) {
		t.Fatalf("expected load error, got %v", err)
	}
	if writes != 0 {
		t.Errorf("expected no write after failed load, got %d", writes)
	}
}

func TestDo_WriteErrorStops(t *testing.T) {
	boom := errors.New("boom")
	writes := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 3},
		func(context.Context) (int, error) { return 0, nil },
		func(context.Context, int) (int, bool, error) { writes++; return 0, false, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
	if writes != 1 {
		t.Errorf("expected a single write, got %d", writes)
	}
}

func TestDo_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Do(ctx, Policy{},
		func(context.Context) (int, error) { t.Fatal("unexpected load"); return 0, nil },
		func(context.Context, int) (int, bool, error) { return 0, true, nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPolicy_DefaultMaxAttempts(t *testing.T) {
	if got := (Policy{}).maxAttempts(); got != DefaultMaxAttempts {
		t.Errorf("expected %d, got %d", DefaultMaxAttempts, got)
	}
}
