package acl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/znz-systems/boxmeta/internal/retry"
	"github.com/znz-systems/boxmeta/internal/rights"
	"github.com/znz-systems/boxmeta/internal/store/memory"
)

// flakyStore rejects the first failWrites conditional writes as if another
// writer had won.
type flakyStore struct {
	*memory.Store
	failWrites int32
	writes     atomic.Int32
	applied    atomic.Int32
}

func (s *flakyStore) reject() bool {
	return s.writes.Add(1) <= s.failWrites
}

func (s *flakyStore) InsertACLRow(ctx context.Context, id uuid.UUID, data []byte) (bool, error) {
	if s.reject() {
		return false, nil
	}
	ok, err := s.Store.InsertACLRow(ctx, id, data)
	if ok {
		s.applied.Add(1)
	}
	return ok, err
}

func (s *flakyStore) UpdateACLRow(ctx context.Context, id uuid.UUID, data []byte, version int64) (bool, error) {
	if s.reject() {
		return false, nil
	}
	ok, err := s.Store.UpdateACLRow(ctx, id, data, version)
	if ok {
		s.applied.Add(1)
	}
	return ok, err
}

type recordingListener struct {
	mu    sync.Mutex
	diffs []rights.Diff
	done  chan struct{}
}

func newRecordingListener() *recordingListener {
	return &recordingListener{done: make(chan struct{}, 16)}
}

func (l *recordingListener) ACLChanged(_ context.Context, _ uuid.UUID, diff rights.Diff) error {
	l.mu.Lock()
	l.diffs = append(l.diffs, diff)
	l.mu.Unlock()
	l.done <- struct{}{}
	return nil
}

func (l *recordingListener) wait(t *testing.T, n int) []rights.Diff {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-l.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for notification %d", i+1)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]rights.Diff(nil), l.diffs...)
}

// racingHook writes a competing ACL before the first few writes.
type racingHook struct {
	store *memory.Store
	races int
	raced int
}

func (h *racingHook) BeforeWrite(ctx context.Context, id uuid.UUID) error {
	if h.raced >= h.races {
		return nil
	}
	h.raced++
	key := rights.UserKey(fmt.Sprintf("racer%d", h.raced), false)
	data, err := rights.Marshal(rights.MustNew(rights.Entry{Key: key, Rights: rights.NewRights(rights.Lookup)}))
	if err != nil {
		return err
	}
	row, err := h.store.GetACLRow(ctx, id)
	if err != nil {
		_, err = h.store.InsertACLRow(ctx, id, data)
		return err
	}
	_, err = h.store.UpdateACLRow(ctx, id, data, row.Version)
	return err
}

func TestGetACL_AbsentIsEmpty(t *testing.T) {
	svc := NewService(memory.New(), Options{})
	got, err := svc.GetACL(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !got.IsEmpty() {
		t.Errorf("expected empty ACL, got %s", got)
	}
}

func TestGetACL_MalformedIsEmpty(t *testing.T) {
	st := memory.New()
	id := uuid.New()
	if _, err := st.InsertACLRow(context.Background(), id, []byte(`{"entries":{"bob":"lrZ"}}`)); err != nil {
		t.Fatal(err)
	}
	svc := NewService(st, Options{})

	got, err := svc.GetACL(context.Background(), id)
	if err != nil {
		t.Fatalf("expected malformed ACL to read as empty, got error %v", err)
	}
	if !got.IsEmpty() {
		t.Errorf("expected empty ACL, got %s", got)
	}

	// The row stays writable: the next update replaces it.
	change, err := svc.UpdateACL(context.Background(), id, rights.AddRights(rights.UserKey("bob", false), rights.NewRights(rights.Read)))
	if err != nil {
		t.Fatalf("expected update to succeed, got %v", err)
	}
	if got := change.After.String(); got != "bob=r" {
		t.Errorf("expected bob=r, got %q", got)
	}
}

func TestUpdateACL_FirstWriteInsertsThenUpdates(t *testing.T) {
	st := memory.New()
	svc := NewService(st, Options{})
	ctx := context.Background()
	id := uuid.New()

	bob := rights.UserKey("bob", false)
	if _, err := svc.UpdateACL(ctx, id, rights.AddRights(bob, rights.MustParseRights("lr"))); err != nil {
		t.Fatal(err)
	}
	row, err := st.GetACLRow(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if row.Version != 0 {
		t.Errorf("expected version 0 after insert, got %d", row.Version)
	}

	change, err := svc.UpdateACL(ctx, id, rights.RemoveRights(bob, rights.NewRights(rights.Read)))
	if err != nil {
		t.Fatal(err)
	}
	if change.Before.String() != "bob=lr" || change.After.String() != "bob=l" {
		t.Errorf("unexpected change %s -> %s", change.Before, change.After)
	}
	row, _ = st.GetACLRow(ctx, id)
	if row.Version != 1 {
		t.Errorf("expected version 1 after update, got %d", row.Version)
	}
}

func TestUpdateACL_ConvergesAfterRejectedWrites(t *testing.T) {
	st := &flakyStore{Store: memory.New(), failWrites: 5}
	listener := newRecordingListener()
	svc := NewService(st, Options{MaxRetries: 10, Listener: listener})
	id := uuid.New()

	change, err := svc.UpdateACL(context.Background(), id, rights.AddRights(rights.Anybody, rights.NewRights(rights.Lookup)))
	if err != nil {
		t.Fatalf("expected convergence, got %v", err)
	}
	if got := st.applied.Load(); got != 1 {
		t.Errorf("expected exactly one applied write, got %d", got)
	}
	stored, _ := svc.GetACL(context.Background(), id)
	if !stored.Equal(change.After) {
		t.Errorf("expected stored %s, got %s", change.After, stored)
	}

	diffs := listener.wait(t, 1)
	want := rights.Diff{Added: []rights.Entry{{Key: rights.Anybody, Rights: rights.NewRights(rights.Lookup)}}}
	if d := cmp.Diff(want, diffs[0], cmpopts.EquateEmpty()); d != "" {
		t.Errorf("unexpected diff (-want +got):\n%s", d)
	}
}

func TestUpdateACL_RetriesOnRacingWriter(t *testing.T) {
	st := memory.New()
	hook := &racingHook{store: st, races: 3}
	svc := NewService(st, Options{WriteHook: hook})
	id := uuid.New()

	carol := rights.UserKey("carol", false)
	change, err := svc.UpdateACL(context.Background(), id, rights.AddRights(carol, rights.NewRights(rights.Read)))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	// The command was applied to the racer's last write, not to a stale read.
	if got := change.After.String(); got != "carol=r;racer3=l" {
		t.Errorf("expected carol=r;racer3=l, got %q", got)
	}
	if got := change.Before.String(); got != "racer3=l" {
		t.Errorf("expected before racer3=l, got %q", got)
	}
}

func TestUpdateACL_Exhausted(t *testing.T) {
	st := &flakyStore{Store: memory.New(), failWrites: 100}
	listener := newRecordingListener()
	svc := NewService(st, Options{MaxRetries: 3, Listener: listener})
	id := uuid.New()

	_, err := svc.UpdateACL(context.Background(), id, rights.AddRights(rights.Anybody, rights.NewRights(rights.Lookup)))
	if !errors.Is(err, retry.ErrConcurrencyExhausted) {
		t.Fatalf("expected ErrConcurrencyExhausted, got %v", err)
	}
	if got := st.writes.Load(); got != 3 {
		t.Errorf("expected 3 write attempts, got %d", got)
	}
	stored, _ := svc.GetACL(context.Background(), id)
	if !stored.IsEmpty() {
		t.Errorf("expected nothing stored, got %s", stored)
	}
	select {
	case <-listener.done:
		t.Error("expected no notification for a failed update")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUpdateACL_MalformedCommand(t *testing.T) {
	svc := NewService(memory.New(), Options{})
	_, err := svc.UpdateACL(context.Background(), uuid.New(), rights.Command{Key: rights.UserKey("", false), Mode: rights.ModeAdd})
	if err == nil {
		t.Fatal("expected error for invalid key")
	}
}

func TestUpdateACL_NoChangeDoesNotNotify(t *testing.T) {
	listener := newRecordingListener()
	svc := NewService(memory.New(), Options{Listener: listener})
	id := uuid.New()

	if _, err := svc.UpdateACL(context.Background(), id, rights.RemoveRights(rights.UserKey("bob", false), rights.All)); err != nil {
		t.Fatal(err)
	}
	select {
	case <-listener.done:
		t.Error("expected no notification for an empty diff")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSetACL_ReplacesWholesale(t *testing.T) {
	svc := NewService(memory.New(), Options{})
	ctx := context.Background()
	id := uuid.New()

	first, _ := rights.ParseACL("bob=lr;carol=l")
	second, _ := rights.ParseACL("dave=a")
	if _, err := svc.SetACL(ctx, id, first); err != nil {
		t.Fatal(err)
	}
	change, err := svc.SetACL(ctx, id, second)
	if err != nil {
		t.Fatal(err)
	}
	if !change.Before.Equal(first) || !change.After.Equal(second) {
		t.Errorf("unexpected change %s -> %s", change.Before, change.After)
	}
	d := change.Diff()
	if len(d.Added) != 1 || len(d.Removed) != 2 || len(d.Changed) != 0 {
		t.Errorf("unexpected diff %+v", d)
	}
}

func TestUpdateACL_ConcurrentWritersAllLand(t *testing.T) {
	st := memory.New()
	svc := NewService(st, Options{})
	id := uuid.New()

	const writers = 20
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < writers; i++ {
		key := rights.UserKey(fmt.Sprintf("user%02d", i), false)
		g.Go(func() error {
			_, err := svc.UpdateACL(ctx, id, rights.AddRights(key, rights.NewRights(rights.Lookup)))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("expected all writers to succeed, got %v", err)
	}

	stored, err := svc.GetACL(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Len() != writers {
		t.Errorf("expected %d entries, got %d: %s", writers, stored.Len(), stored)
	}
	row, _ := st.GetACLRow(context.Background(), id)
	if row.Version != writers-1 {
		t.Errorf("expected version %d, got %d", writers-1, row.Version)
	}
}
