package message

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
	"github.com/znz-systems/boxmeta/internal/blob"
	"github.com/znz-systems/boxmeta/internal/metrics"
	"github.com/znz-systems/boxmeta/internal/models"
	"github.com/znz-systems/boxmeta/internal/retry"
	"github.com/znz-systems/boxmeta/internal/store"
)

// Backend is the row access the service needs.
type Backend interface {
	store.MessageStore
	store.CounterStore
	store.SequenceStore
}

type Options struct {
	MaxRetries int
	Observer   retry.Observer
}

// Service performs every message mutation: appends, deletes, flag updates,
// copies and moves. It keeps the mailbox counters in step with them.
type Service struct {
	backend    Backend
	index      *Index
	blobs      blob.Store
	maxRetries int
	observer   retry.Observer
}

func NewService(backend Backend, blobs blob.Store, opts Options) *Service {
	observer := opts.Observer
	if observer == nil {
		observer = metrics.CAS{}
	}
	return &Service{
		backend:    backend,
		index:      NewIndex(backend),
		blobs:      blobs,
		maxRetries: opts.MaxRetries,
		observer:   observer,
	}
}

func (s *Service) Index() *Index {
	return s.index
}

// NewMessage is a message to append.
type NewMessage struct {
	Content      []byte
	Flags        models.Flags
	InternalDate time.Time
}

// AddMessage stores the content, indexes the message and only then bumps
// the counters, so counted messages can always be found.
func (s *Service) AddMessage(ctx context.Context, mailboxID uuid.UUID, msg NewMessage) (*models.MessageMetadata, error) {
	messageID := uuid.New()
	key := ContentKey(messageID)
	if err := s.blobs.Put(ctx, key, "message/rfc822", msg.Content); err != nil {
		return nil, fmt.Errorf("store content: %w", err)
	}

	date := msg.InternalDate
	if date.IsZero() {
		date = time.Now()
	}
	m := &models.MessageMetadata{
		MailboxID:    mailboxID,
		MessageID:    messageID,
		Flags:        models.NewFlags(msg.Flags.System, msg.Flags.Keywords...),
		InternalDate: date.UTC().Truncate(time.Millisecond),
		Size:         int64(len(msg.Content)),
		HeaderSize:   headerSize(msg.Content),
		ContentKey:   key,
	}
	if err := s.insert(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// insert allocates UID and mod sequence for m, writes it and counts it.
func (s *Service) insert(ctx context.Context, m *models.MessageMetadata) error {
	uid, err := s.backend.NextUID(ctx, m.MailboxID)
	if err != nil {
		return fmt.Errorf("allocate uid: %w", err)
	}
	modSeq, err := s.backend.NextModSeq(ctx, m.MailboxID)
	if err != nil {
		return fmt.Errorf("allocate modseq: %w", err)
	}
	m.UID = uid
	m.ModSeq = modSeq

	if err := s.backend.InsertMessage(ctx, m); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	var unseen int64
	if !m.Flags.IsSeen() {
		unseen = 1
	}
	if err := s.backend.AddCounters(ctx, m.MailboxID, 1, unseen); err != nil {
		return fmt.Errorf("update counters: %w", err)
	}
	return nil
}

// ContentKey is the blob key of a message's content. Copies share it.
func ContentKey(messageID uuid.UUID) string {
	id := messageID.String()
	return "messages/" + id[:2] + "/" + id + ".eml"
}

// headerSize returns the offset of the body. Content without a header/body
// separator is all header.
func headerSize(content []byte) int64 {
	src := bytes.NewReader(content)
	br := bufio.NewReader(src)
	if _, err := textproto.ReadHeader(br); err != nil {
		slog.Debug("unparseable message header", "error", err)
		return int64(len(content))
	}
	return int64(len(content)) - int64(src.Len()) - int64(br.Buffered())
}

// DeleteMessage removes the message stored under uid and returns its
// metadata as it was when removed. Deleting a message that is already gone,
// or that a concurrent caller removes first, is a no-op and returns nil
// metadata.
func (s *Service) DeleteMessage(ctx context.Context, mailboxID uuid.UUID, uid models.UID) (*models.MessageMetadata, error) {
	m, err := s.index.Retrieve(ctx, mailboxID, uid)
	if errors.Is(err, ErrMessageNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.remove(ctx, m)
}

// remove counts only a row this call actually removed, using the flags the
// row carried at that moment.
func (s *Service) remove(ctx context.Context, m *models.MessageMetadata) (*models.MessageMetadata, error) {
	removed, err := s.backend.DeleteMessage(ctx, m.MailboxID, m.UID, m.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("delete message %d: %w", m.UID, err)
	}
	var unseen int64
	if !removed.Flags.IsSeen() {
		unseen = -1
	}
	if err := s.backend.AddCounters(ctx, removed.MailboxID, -1, unseen); err != nil {
		return nil, fmt.Errorf("update counters: %w", err)
	}
	return removed, nil
}

// flagsState is what one flag-update attempt read.
type flagsState struct {
	meta     *models.MessageMetadata
	vanished bool
}

// flagsOutcome is the result of updating one message.
type flagsOutcome struct {
	updated   models.UpdatedFlags
	skipped   bool
	unchanged bool
}

// UpdateFlags applies calc to every message in r and returns the updates
// that were written, in UID order. Messages deleted while being updated are
// skipped. Messages whose flags calc leaves unchanged are not written.
func (s *Service) UpdateFlags(ctx context.Context, mailboxID uuid.UUID, r Range, calc Calculator) ([]models.UpdatedFlags, error) {
	messages, err := s.index.List(ctx, mailboxID, r)
	if err != nil {
		return nil, err
	}

	var results []models.UpdatedFlags
	for i := range messages {
		out, err := s.updateOne(ctx, &messages[i], calc)
		if err != nil {
			return results, fmt.Errorf("update flags of uid %d: %w", messages[i].UID, err)
		}
		if out.skipped || out.unchanged {
			continue
		}
		if delta := out.updated.UnseenDelta(); delta != 0 {
			if err := s.backend.AddCounters(ctx, mailboxID, 0, delta); err != nil {
				return results, fmt.Errorf("update counters: %w", err)
			}
		}
		results = append(results, out.updated)
	}
	return results, nil
}

func (s *Service) updateOne(ctx context.Context, listed *models.MessageMetadata, calc Calculator) (flagsOutcome, error) {
	first := true
	load := func(ctx context.Context) (flagsState, error) {
		if first {
			first = false
			return flagsState{meta: listed}, nil
		}
		m, err := s.backend.GetMessage(ctx, listed.MailboxID, listed.UID)
		if errors.Is(err, store.ErrNotFound) {
			return flagsState{vanished: true}, nil
		}
		if err != nil {
			return flagsState{}, err
		}
		return flagsState{meta: m}, nil
	}

	write := func(ctx context.Context, st flagsState) (flagsOutcome, bool, error) {
		if st.vanished {
			return flagsOutcome{skipped: true}, true, nil
		}
		old := st.meta
		next := calc.Apply(old.Flags)
		if next.Equal(old.Flags) {
			return flagsOutcome{unchanged: true}, true, nil
		}
		modSeq, err := s.backend.NextModSeq(ctx, old.MailboxID)
		if err != nil {
			return flagsOutcome{}, false, fmt.Errorf("allocate modseq: %w", err)
		}
		applied, err := s.backend.UpdateFlags(ctx, old.MailboxID, old.UID, old.ModSeq, modSeq, next)
		if err != nil {
			return flagsOutcome{}, false, err
		}
		return flagsOutcome{updated: models.UpdatedFlags{
			UID:       old.UID,
			MessageID: old.MessageID,
			ModSeq:    modSeq,
			OldFlags:  old.Flags,
			NewFlags:  next,
		}}, applied, nil
	}

	policy := retry.Policy{Op: "flags_update", MaxAttempts: s.maxRetries, Observer: s.observer}
	out, err := retry.Do(ctx, policy, load, write)
	if err != nil {
		return flagsOutcome{}, err
	}
	if out.skipped {
		metrics.FlagUpdateSkipped()
		slog.Warn("message vanished during flag update, skipping",
			"mailbox_id", listed.MailboxID,
			"uid", listed.UID,
			"message_id", listed.MessageID,
		)
	}
	return out, nil
}

// ExpungeMarkedForDeletion deletes the messages in r flagged \Deleted and
// returns their final metadata.
func (s *Service) ExpungeMarkedForDeletion(ctx context.Context, mailboxID uuid.UUID, r Range) (map[models.UID]models.MessageMetadata, error) {
	messages, err := s.index.List(ctx, mailboxID, r)
	if err != nil {
		return nil, err
	}
	expunged := make(map[models.UID]models.MessageMetadata)
	for _, m := range messages {
		if !m.Flags.IsDeleted() {
			continue
		}
		final, err := s.DeleteMessage(ctx, mailboxID, m.UID)
		if err != nil {
			return expunged, err
		}
		if final != nil {
			expunged[m.UID] = *final
		}
	}
	return expunged, nil
}

// Copy adds the message stored under uid in src to dst with a fresh UID and
// mod sequence. The copy keeps the message id, content and flags and is
// \Recent in dst.
func (s *Service) Copy(ctx context.Context, src uuid.UUID, uid models.UID, dst uuid.UUID) (*models.MessageMetadata, error) {
	orig, err := s.index.Retrieve(ctx, src, uid)
	if err != nil {
		return nil, err
	}
	m := *orig
	m.MailboxID = dst
	m.Flags = models.NewFlags(orig.Flags.System|models.FlagRecent, orig.Flags.Keywords...)
	if err := s.insert(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Move copies then deletes the original. A failure in between leaves the
// message in both mailboxes, never in neither.
func (s *Service) Move(ctx context.Context, src uuid.UUID, uid models.UID, dst uuid.UUID) (*models.MessageMetadata, error) {
	moved, err := s.Copy(ctx, src, uid, dst)
	if err != nil {
		return nil, err
	}
	if _, err := s.DeleteMessage(ctx, src, uid); err != nil {
		return moved, fmt.Errorf("delete original after copy: %w", err)
	}
	return moved, nil
}

// Content returns the metadata and stored content of a message.
func (s *Service) Content(ctx context.Context, mailboxID uuid.UUID, uid models.UID) (*models.MessageMetadata, []byte, error) {
	m, err := s.index.Retrieve(ctx, mailboxID, uid)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.blobs.Get(ctx, m.ContentKey)
	if err != nil {
		return m, nil, fmt.Errorf("read content: %w", err)
	}
	return m, body, nil
}

func (s *Service) List(ctx context.Context, mailboxID uuid.UUID, r Range) ([]models.MessageMetadata, error) {
	return s.index.List(ctx, mailboxID, r)
}

func (s *Service) Get(ctx context.Context, mailboxID uuid.UUID, uid models.UID) (*models.MessageMetadata, error) {
	return s.index.Retrieve(ctx, mailboxID, uid)
}

// Purge deletes every message of a mailbox and returns how many it removed.
func (s *Service) Purge(ctx context.Context, mailboxID uuid.UUID) (int, error) {
	expunged := 0
	messages, err := s.index.List(ctx, mailboxID, All())
	if err != nil {
		return 0, err
	}
	for _, m := range messages {
		final, err := s.DeleteMessage(ctx, mailboxID, m.UID)
		if err != nil {
			return expunged, err
		}
		if final != nil {
			expunged++
		}
	}
	return expunged, nil
}
