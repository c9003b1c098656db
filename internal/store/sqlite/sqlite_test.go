package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/znz-systems/boxmeta/internal/database"
	"github.com/znz-systems/boxmeta/internal/models"
	"github.com/znz-systems/boxmeta/internal/store"
	"github.com/znz-systems/boxmeta/internal/store/sqlstore"
	"github.com/znz-systems/boxmeta/migrations"
)

func openTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	st, err := Open(context.Background(), "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := database.RunMigrations(migrations.FS, st.DB(), Dialect.Name); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func TestRebind(t *testing.T) {
	got := Dialect.Rebind(`UPDATE t SET a = $1 WHERE b = $12 AND c = $2`)
	want := `UPDATE t SET a = ?1 WHERE b = ?12 AND c = ?2`
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestMailboxes(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	mb := &models.Mailbox{ID: uuid.New(), Owner: "team", Name: "Shared", OwnerIsGroup: true}
	if err := st.CreateMailbox(ctx, mb); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := &models.Mailbox{ID: uuid.New(), Owner: "team", Name: "Shared"}
	if err := st.CreateMailbox(ctx, dup); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	got, err := st.GetMailboxByID(ctx, mb.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d := cmp.Diff(mb, got); d != "" {
		t.Errorf("unexpected mailbox (-want +got):\n%s", d)
	}

	list, err := st.GetMailboxesByOwner(ctx, "team")
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one mailbox, got %d, %v", len(list), err)
	}

	if err := st.DeleteMailbox(ctx, mb.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetMailboxByID(ctx, mb.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestACLRowConditionalWrites(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	if _, err := st.GetACLRow(ctx, id); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ok, err := st.InsertACLRow(ctx, id, []byte(`{"entries":{"bob":"l"}}`))
	if err != nil || !ok {
		t.Fatalf("expected first insert applied, got %v, %v", ok, err)
	}
	ok, err = st.InsertACLRow(ctx, id, []byte(`{"entries":{}}`))
	if err != nil || ok {
		t.Fatalf("expected second insert rejected, got %v, %v", ok, err)
	}

	ok, err = st.UpdateACLRow(ctx, id, []byte(`{"entries":{"bob":"lr"}}`), 0)
	if err != nil || !ok {
		t.Fatalf("expected update at version 0 applied, got %v, %v", ok, err)
	}
	ok, err = st.UpdateACLRow(ctx, id, []byte(`{"entries":{}}`), 0)
	if err != nil || ok {
		t.Fatalf("expected stale update rejected, got %v, %v", ok, err)
	}

	row, err := st.GetACLRow(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if row.Version != 1 || string(row.Data) != `{"entries":{"bob":"lr"}}` {
		t.Errorf("unexpected row %+v", row)
	}
}

func TestSequencesAndCounters(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	for want := models.UID(1); want <= 3; want++ {
		got, err := st.NextUID(ctx, id)
		if err != nil || got != want {
			t.Fatalf("expected uid %d, got %d, %v", want, got, err)
		}
	}
	if got, err := st.NextModSeq(ctx, id); err != nil || got != 1 {
		t.Fatalf("expected modseq 1, got %d, %v", got, err)
	}

	c, err := st.GetCounters(ctx, id)
	if err != nil || c.Total != 0 || c.Unseen != 0 {
		t.Fatalf("expected zero counters, got %+v, %v", c, err)
	}
	if err := st.AddCounters(ctx, id, 2, 1); err != nil {
		t.Fatal(err)
	}
	if err := st.AddCounters(ctx, id, -1, -1); err != nil {
		t.Fatal(err)
	}
	c, _ = st.GetCounters(ctx, id)
	if c.Total != 1 || c.Unseen != 0 {
		t.Errorf("expected total=1 unseen=0, got %+v", c)
	}
}

func TestMessages(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mb := uuid.New()

	m := &models.MessageMetadata{
		MailboxID:    mb,
		UID:          7,
		MessageID:    uuid.New(),
		ModSeq:       3,
		Flags:        models.NewFlags(models.FlagSeen, "work", "$label"),
		InternalDate: time.UnixMilli(1700000000123).UTC(),
		Size:         120,
		HeaderSize:   40,
		ContentKey:   "messages/ab/x.eml",
	}
	if err := st.InsertMessage(ctx, m); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := st.InsertMessage(ctx, m); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate uid, got %v", err)
	}

	got, err := st.GetMessage(ctx, mb, 7)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if d := cmp.Diff(m, got); d != "" {
		t.Errorf("unexpected message (-want +got):\n%s", d)
	}

	id, err := st.LookupUID(ctx, mb, 7)
	if err != nil || id != m.MessageID {
		t.Fatalf("expected message id %s, got %s, %v", m.MessageID, id, err)
	}
	locations, err := st.LookupMessageID(ctx, m.MessageID)
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff([]models.MessageLocation{{MailboxID: mb, UID: 7}}, locations); d != "" {
		t.Errorf("unexpected locations (-want +got):\n%s", d)
	}

	flagged := models.NewFlags(models.FlagFlagged)
	ok, err := st.UpdateFlags(ctx, mb, 7, 2, 4, flagged)
	if err != nil || ok {
		t.Fatalf("expected stale modseq rejected, got %v, %v", ok, err)
	}
	ok, err = st.UpdateFlags(ctx, mb, 7, 3, 4, flagged)
	if err != nil || !ok {
		t.Fatalf("expected update applied, got %v, %v", ok, err)
	}

	list, err := st.ListMessages(ctx, mb, 1, 10)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected one message, got %d, %v", len(list), err)
	}
	if list[0].ModSeq != 4 || !list[0].Flags.Equal(flagged) {
		t.Errorf("unexpected listed message %+v", list[0])
	}

	removed, err := st.DeleteMessage(ctx, mb, 7, m.MessageID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if removed.ModSeq != 4 || !removed.Flags.Equal(flagged) {
		t.Errorf("expected the row as last written, got %+v", removed)
	}
	if _, err := st.DeleteMessage(ctx, mb, 7, m.MessageID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected second delete to find nothing, got %v", err)
	}
	if _, err := st.LookupUID(ctx, mb, 7); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected uid index row gone, got %v", err)
	}
	if locations, _ := st.LookupMessageID(ctx, m.MessageID); len(locations) != 0 {
		t.Errorf("expected message id index row gone, got %+v", locations)
	}
}
