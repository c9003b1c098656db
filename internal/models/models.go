package models

import (
	"time"

	"github.com/google/uuid"
)

type Mailbox struct {
	ID           uuid.UUID
	Owner        string
	Name         string
	OwnerIsGroup bool
	CreatedAt    time.Time
}

// ACLRow is the persisted form of a mailbox ACL. Version starts at 0 on
// the first insert and grows by one with every successful update.
type ACLRow struct {
	MailboxID uuid.UUID
	Data      []byte
	Version   int64
}

// UID identifies a message within one mailbox. It is assigned once and
// never reused.
type UID uint32

// ModSeq is the per-message modification sequence, also used as the token of
// conditional flag writes.
type ModSeq int64

// MessageMetadata is the mutable metadata row of a message, keyed by
// (MailboxID, UID). The content it points at is immutable.
type MessageMetadata struct {
	MailboxID    uuid.UUID
	UID          UID
	MessageID    uuid.UUID
	ModSeq       ModSeq
	Flags        Flags
	InternalDate time.Time
	Size         int64
	HeaderSize   int64
	ContentKey   string
}

// MessageLocation is one (mailbox, UID) a message id is stored under.
type MessageLocation struct {
	MailboxID uuid.UUID
	UID       UID
}

type MailboxCounters struct {
	MailboxID uuid.UUID
	Total     int64
	Unseen    int64
}

// UpdatedFlags reports one applied flag update.
type UpdatedFlags struct {
	UID       UID
	MessageID uuid.UUID
	ModSeq    ModSeq
	OldFlags  Flags
	NewFlags  Flags
}

// UnseenDelta returns the unseen counter delta implied by the update.
func (u UpdatedFlags) UnseenDelta() int64 {
	switch {
	case u.OldFlags.IsSeen() && !u.NewFlags.IsSeen():
		return 1
	case !u.OldFlags.IsSeen() && u.NewFlags.IsSeen():
		return -1
	default:
		return 0
	}
}
