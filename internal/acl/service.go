// Package acl persists mailbox ACLs and mutates them with versioned
// conditional writes.
package acl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/znz-systems/boxmeta/internal/metrics"
	"github.com/znz-systems/boxmeta/internal/models"
	"github.com/znz-systems/boxmeta/internal/retry"
	"github.com/znz-systems/boxmeta/internal/rights"
	"github.com/znz-systems/boxmeta/internal/store"
)

// Listener is told about every ACL change that was persisted.
type Listener interface {
	ACLChanged(ctx context.Context, mailboxID uuid.UUID, diff rights.Diff) error
}

// NoopListener is a Listener that does nothing.
type NoopListener struct{}

func (NoopListener) ACLChanged(_ context.Context, _ uuid.UUID, _ rights.Diff) error {
	return nil
}

// LogListener logs each change.
type LogListener struct{}

func (LogListener) ACLChanged(_ context.Context, mailboxID uuid.UUID, diff rights.Diff) error {
	slog.Info("mailbox ACL changed",
		"mailbox_id", mailboxID,
		"added", len(diff.Added),
		"removed", len(diff.Removed),
		"changed", len(diff.Changed),
	)
	return nil
}

// WriteHook runs right before every conditional write. Tests use it to
// interleave a concurrent writer; production uses NoopWriteHook.
type WriteHook interface {
	BeforeWrite(ctx context.Context, mailboxID uuid.UUID) error
}

type NoopWriteHook struct{}

func (NoopWriteHook) BeforeWrite(context.Context, uuid.UUID) error { return nil }

type Options struct {
	MaxRetries int
	Listener   Listener
	WriteHook  WriteHook
	Observer   retry.Observer
}

// Change is the outcome of a successful mutation.
type Change struct {
	Before rights.ACL
	After  rights.ACL
}

func (c Change) Diff() rights.Diff {
	return rights.ComputeDiff(c.Before, c.After)
}

type Service struct {
	acls       store.ACLStore
	listener   Listener
	hook       WriteHook
	maxRetries int
	observer   retry.Observer
}

func NewService(acls store.ACLStore, opts Options) *Service {
	listener := opts.Listener
	if listener == nil {
		listener = NoopListener{}
	}
	hook := opts.WriteHook
	if hook == nil {
		hook = NoopWriteHook{}
	}
	observer := opts.Observer
	if observer == nil {
		observer = metrics.CAS{}
	}
	return &Service{
		acls:       acls,
		listener:   listener,
		hook:       hook,
		maxRetries: opts.MaxRetries,
		observer:   observer,
	}
}

// versioned is what one attempt read: the decoded ACL and, if a row
// exists, its version.
type versioned struct {
	acl     rights.ACL
	version int64
	exists  bool
}

func (s *Service) load(ctx context.Context, mailboxID uuid.UUID) (versioned, error) {
	row, err := s.acls.GetACLRow(ctx, mailboxID)
	if errors.Is(err, store.ErrNotFound) {
		return versioned{acl: rights.Empty}, nil
	}
	if err != nil {
		return versioned{}, fmt.Errorf("reading ACL: %w", err)
	}
	return versioned{acl: s.decode(row), version: row.Version, exists: true}, nil
}

// decode never fails: an undecodable row reads as the empty ACL so that the
// mailbox stays usable.
func (s *Service) decode(row *models.ACLRow) rights.ACL {
	a, err := rights.Unmarshal(row.Data)
	if err != nil {
		metrics.MalformedACL()
		slog.Warn("ignoring malformed persisted ACL",
			"mailbox_id", row.MailboxID,
			"version", row.Version,
			"error", err,
		)
		return rights.Empty
	}
	return a
}

// GetACL returns the mailbox ACL, Empty when none was stored.
func (s *Service) GetACL(ctx context.Context, mailboxID uuid.UUID) (rights.ACL, error) {
	v, err := s.load(ctx, mailboxID)
	if err != nil {
		return rights.Empty, err
	}
	return v.acl, nil
}

// UpdateACL applies cmd to the stored ACL.
func (s *Service) UpdateACL(ctx context.Context, mailboxID uuid.UUID, cmd rights.Command) (Change, error) {
	if err := cmd.Validate(); err != nil {
		return Change{}, err
	}
	return s.mutate(ctx, "acl_update", mailboxID, func(current rights.ACL) (rights.ACL, error) {
		return current.Apply(cmd)
	})
}

// SetACL replaces the stored ACL with next.
func (s *Service) SetACL(ctx context.Context, mailboxID uuid.UUID, next rights.ACL) (Change, error) {
	return s.mutate(ctx, "acl_set", mailboxID, func(rights.ACL) (rights.ACL, error) {
		return next, nil
	})
}

func (s *Service) mutate(ctx context.Context, op string, mailboxID uuid.UUID, derive func(rights.ACL) (rights.ACL, error)) (Change, error) {
	policy := retry.Policy{Op: op, MaxAttempts: s.maxRetries, Observer: s.observer}
	change, err := retry.Do(ctx, policy,
		func(ctx context.Context) (versioned, error) {
			return s.load(ctx, mailboxID)
		},
		func(ctx context.Context, current versioned) (Change, bool, error) {
			after, err := derive(current.acl)
			if err != nil {
				return Change{}, false, err
			}
			if after.Equal(current.acl) {
				return Change{Before: current.acl, After: after}, true, nil
			}
			data, err := rights.Marshal(after)
			if err != nil {
				return Change{}, false, fmt.Errorf("encoding ACL: %w", err)
			}
			if err := s.hook.BeforeWrite(ctx, mailboxID); err != nil {
				return Change{}, false, err
			}

			var applied bool
			if current.exists {
				applied, err = s.acls.UpdateACLRow(ctx, mailboxID, data, current.version)
			} else {
				applied, err = s.acls.InsertACLRow(ctx, mailboxID, data)
			}
			if err != nil {
				return Change{}, false, fmt.Errorf("writing ACL: %w", err)
			}
			return Change{Before: current.acl, After: after}, applied, nil
		})
	if err != nil {
		return Change{}, err
	}

	s.notify(ctx, mailboxID, change)
	return change, nil
}

// notify runs only for the attempt that won. Delivery is fire-and-forget.
func (s *Service) notify(ctx context.Context, mailboxID uuid.UUID, change Change) {
	diff := change.Diff()
	if diff.IsEmpty() {
		return
	}
	go func() {
		if err := s.listener.ACLChanged(context.WithoutCancel(ctx), mailboxID, diff); err != nil {
			slog.Error("failed to deliver ACL change",
				"mailbox_id", mailboxID,
				"error", err,
			)
		}
	}()
}
