// Package store declares the row-level access the engine needs from its
// backing store. Backends guarantee per-row linearizability only: a single
// conditional insert or update is atomic, nothing spanning rows is.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/znz-systems/boxmeta/internal/models"
)

var (
	// ErrNotFound is returned for lookups of rows that do not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when an insert hits an existing key.
	ErrConflict = errors.New("row already exists")
)

type MailboxStore interface {
	CreateMailbox(ctx context.Context, mb *models.Mailbox) error
	GetMailboxByID(ctx context.Context, id uuid.UUID) (*models.Mailbox, error)
	GetMailboxesByOwner(ctx context.Context, owner string) ([]models.Mailbox, error)
	DeleteMailbox(ctx context.Context, id uuid.UUID) error
}

// ACLStore holds one versioned ACL row per mailbox.
type ACLStore interface {
	// GetACLRow returns ErrNotFound when the mailbox has no ACL row yet.
	GetACLRow(ctx context.Context, mailboxID uuid.UUID) (*models.ACLRow, error)
	// InsertACLRow creates the row at version 0 if none exists.
	InsertACLRow(ctx context.Context, mailboxID uuid.UUID, data []byte) (applied bool, err error)
	// UpdateACLRow replaces the row and increments its version, only if the
	// stored version still equals expectedVersion.
	UpdateACLRow(ctx context.Context, mailboxID uuid.UUID, data []byte, expectedVersion int64) (applied bool, err error)
}

// MessageStore holds the message metadata rows and the two denormalized
// indices (mailbox, UID) -> message id and message id -> (mailbox, UID).
type MessageStore interface {
	// InsertMessage writes the metadata row and both index rows, all or none.
	InsertMessage(ctx context.Context, m *models.MessageMetadata) error
	GetMessage(ctx context.Context, mailboxID uuid.UUID, uid models.UID) (*models.MessageMetadata, error)
	// ListMessages returns messages with from <= UID <= to ordered by UID.
	ListMessages(ctx context.Context, mailboxID uuid.UUID, from, to models.UID) ([]models.MessageMetadata, error)
	LookupUID(ctx context.Context, mailboxID uuid.UUID, uid models.UID) (uuid.UUID, error)
	LookupMessageID(ctx context.Context, messageID uuid.UUID) ([]models.MessageLocation, error)
	// UpdateFlags rewrites flags and mod sequence only if the stored mod
	// sequence still equals expected.
	UpdateFlags(ctx context.Context, mailboxID uuid.UUID, uid models.UID, expected, next models.ModSeq, flags models.Flags) (applied bool, err error)
	// DeleteMessage removes the metadata row and both index rows and returns
	// the row as it was when removed. It returns ErrNotFound when there was
	// no row to remove, so of two concurrent deletes only one sees the row.
	DeleteMessage(ctx context.Context, mailboxID uuid.UUID, uid models.UID, messageID uuid.UUID) (*models.MessageMetadata, error)
}

// CounterStore applies unconditional deltas to the per-mailbox counters.
type CounterStore interface {
	// GetCounters returns zero counters for mailboxes without a row.
	GetCounters(ctx context.Context, mailboxID uuid.UUID) (models.MailboxCounters, error)
	AddCounters(ctx context.Context, mailboxID uuid.UUID, total, unseen int64) error
}

// SequenceStore allocates UIDs and mod sequences per mailbox.
type SequenceStore interface {
	NextUID(ctx context.Context, mailboxID uuid.UUID) (models.UID, error)
	NextModSeq(ctx context.Context, mailboxID uuid.UUID) (models.ModSeq, error)
}

// Backend bundles every store a deployment needs.
type Backend interface {
	MailboxStore
	ACLStore
	MessageStore
	CounterStore
	SequenceStore
	Close() error
}
