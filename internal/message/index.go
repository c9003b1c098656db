// Package message maintains message metadata: the UID and message id
// indices, flags with their mod sequences, and the mailbox counters derived
// from them.
package message

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/google/uuid"
	"github.com/znz-systems/boxmeta/internal/metrics"
	"github.com/znz-systems/boxmeta/internal/models"
	"github.com/znz-systems/boxmeta/internal/store"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	// ErrPartialIndex marks a lookup that found only one half of the
	// UID / message id pair. It is always wrapped together with
	// ErrMessageNotFound.
	ErrPartialIndex = errors.New("partial message index")
	ErrInvalidRange = errors.New("invalid UID range")
)

// Range is an inclusive UID interval.
type Range struct {
	From models.UID
	To   models.UID
}

const MaxUID = models.UID(math.MaxUint32)

func One(uid models.UID) Range { return Range{From: uid, To: uid} }
func Between(from, to models.UID) Range { return Range{From: from, To: to} }
func From(uid models.UID) Range { return Range{From: uid, To: MaxUID} }
func All() Range { return Range{From: 1, To: MaxUID} }
func (r Range) Contains(uid models.UID) bool { return uid >= r.From && uid <= r.To }

func (r Range) Validate() error {
	if r.From == 0 || r.From > r.To {
		return fmt.Errorf("%w: %d:%d", ErrInvalidRange, r.From, r.To)
	}
	return nil
}

// Index resolves messages through the two denormalized indices and refuses
// to return anything the indices disagree about.
type Index struct {
	messages store.MessageStore
}

func NewIndex(messages store.MessageStore) *Index {
	return &Index{messages: messages}
}

func partial(mailboxID uuid.UUID, uid models.UID, messageID uuid.UUID, reason string) error {
	metrics.IndexInconsistent()
	slog.Warn("inconsistent message index",
		"mailbox_id", mailboxID,
		"uid", uid,
		"message_id", messageID,
		"reason", reason,
	)
	return fmt.Errorf("%w: %w: %s", ErrMessageNotFound, ErrPartialIndex, reason)
}

// Retrieve returns the metadata of the message stored under uid.
func (ix *Index) Retrieve(ctx context.Context, mailboxID uuid.UUID, uid models.UID) (*models.MessageMetadata, error) {
	messageID, err := ix.messages.LookupUID(ctx, mailboxID, uid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup uid %d: %w", uid, err)
	}

	locations, err := ix.messages.LookupMessageID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("lookup message id %s: %w", messageID, err)
	}
	if !slices.Contains(locations, models.MessageLocation{MailboxID: mailboxID, UID: uid}) {
		return nil, partial(mailboxID, uid, messageID, "missing message id row")
	}

	m, err := ix.messages.GetMessage(ctx, mailboxID, uid)
	if errors.Is(err, store.ErrNotFound) {
		return nil, partial(mailboxID, uid, messageID, "missing metadata row")
	}
	if err != nil {
		return nil, fmt.Errorf("get message %d: %w", uid, err)
	}
	if m.MessageID != messageID {
		return nil, partial(mailboxID, uid, messageID, "metadata row names another message")
	}
	return m, nil
}

// Locate returns every (mailbox, UID) a message id is stored under, leaving
// out locations the UID index does not confirm.
func (ix *Index) Locate(ctx context.Context, messageID uuid.UUID) ([]models.MessageLocation, error) {
	locations, err := ix.messages.LookupMessageID(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("lookup message id %s: %w", messageID, err)
	}
	confirmed := locations[:0]
	for _, loc := range locations {
		id, err := ix.messages.LookupUID(ctx, loc.MailboxID, loc.UID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && id != messageID) {
			_ = partial(loc.MailboxID, loc.UID, messageID, "missing uid row")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lookup uid %d: %w", loc.UID, err)
		}
		confirmed = append(confirmed, loc)
	}
	return confirmed, nil
}

// List returns the metadata of the messages in r, ordered by UID.
func (ix *Index) List(ctx context.Context, mailboxID uuid.UUID, r Range) ([]models.MessageMetadata, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return ix.messages.ListMessages(ctx, mailboxID, r.From, r.To)
}
