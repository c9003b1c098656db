package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/znz-systems/boxmeta/internal/acl"
	"github.com/znz-systems/boxmeta/internal/models"
	"github.com/znz-systems/boxmeta/internal/rights"
)

var (
	// ErrForbidden is returned when the principal can see the mailbox but
	// lacks a required right.
	ErrForbidden = errors.New("insufficient rights")
	// ErrNotVisible is returned when the principal lacks the lookup right,
	// in which case the mailbox must look nonexistent to them.
	ErrNotVisible = errors.New("mailbox not visible")
)

// MailboxLookup is the subset of the mailbox service the checker needs.
type MailboxLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Mailbox, error)
}

// ACLManager is the subset of acl.Service the checker needs.
type ACLManager interface {
	GetACL(ctx context.Context, mailboxID uuid.UUID) (rights.ACL, error)
	UpdateACL(ctx context.Context, mailboxID uuid.UUID, cmd rights.Command) (acl.Change, error)
	SetACL(ctx context.Context, mailboxID uuid.UUID, next rights.ACL) (acl.Change, error)
}

// DefaultOwnerRights are held by a mailbox owner whatever the ACL says, so
// an owner can never lock themselves out.
var DefaultOwnerRights = rights.NewRights(rights.Lookup, rights.Administer)

type CheckerOptions struct {
	// OwnerRights overrides DefaultOwnerRights. Set DisableOwnerRights to
	// grant the owner nothing beyond the ACL.
	OwnerRights        rights.Rights
	DisableOwnerRights bool
}

// Checker gates mailbox operations on the caller's effective rights.
type Checker struct {
	resolver    *Resolver
	mailboxes   MailboxLookup
	acls        ACLManager
	ownerRights rights.Rights
}

func NewChecker(resolver *Resolver, mailboxes MailboxLookup, acls ACLManager, opts CheckerOptions) *Checker {
	ownerRights := DefaultOwnerRights
	if !opts.OwnerRights.IsEmpty() {
		ownerRights = opts.OwnerRights
	}
	if opts.DisableOwnerRights {
		ownerRights = rights.None
	}
	return &Checker{
		resolver:    resolver,
		mailboxes:   mailboxes,
		acls:        acls,
		ownerRights: ownerRights,
	}
}

// Access is what a principal may do with one mailbox.
type Access struct {
	Mailbox *models.Mailbox
	Rights  rights.Rights
}

func (c *Checker) Access(ctx context.Context, principal string, mailboxID uuid.UUID) (Access, error) {
	mb, err := c.mailboxes.Get(ctx, mailboxID)
	if err != nil {
		return Access{}, err
	}
	a, err := c.acls.GetACL(ctx, mailboxID)
	if err != nil {
		return Access{}, err
	}
	r, err := c.resolver.EffectiveRights(ctx, principal, a, mb.Owner, mb.OwnerIsGroup)
	if err != nil {
		return Access{}, err
	}
	if !c.ownerRights.IsEmpty() && !r.ContainsAll(c.ownerRights) {
		owner, err := c.resolver.IsOwner(ctx, principal, mb.Owner, mb.OwnerIsGroup)
		if err != nil {
			return Access{}, err
		}
		if owner {
			r = r.Union(c.ownerRights)
		}
	}
	return Access{Mailbox: mb, Rights: r}, nil
}

func (c *Checker) MyRights(ctx context.Context, principal string, mailboxID uuid.UUID) (rights.Rights, error) {
	acc, err := c.Access(ctx, principal, mailboxID)
	if err != nil {
		return rights.None, err
	}
	return acc.Rights, nil
}

func (c *Checker) HasRight(ctx context.Context, principal string, mailboxID uuid.UUID, right rights.Right) (bool, error) {
	r, err := c.MyRights(ctx, principal, mailboxID)
	if err != nil {
		return false, err
	}
	return r.Contains(right), nil
}

// Require fails unless principal holds every right in need.
func (c *Checker) Require(ctx context.Context, principal string, mailboxID uuid.UUID, need rights.Rights) (Access, error) {
	acc, err := c.Access(ctx, principal, mailboxID)
	if err != nil {
		return Access{}, err
	}
	if err := check(acc.Rights, need); err != nil {
		return Access{}, err
	}
	return acc, nil
}

func check(have, need rights.Rights) error {
	if have.ContainsAll(need) {
		return nil
	}
	if !have.Contains(rights.Lookup) {
		return ErrNotVisible
	}
	return fmt.Errorf("%w: missing %q", ErrForbidden, need.Except(have))
}

// ApplyCommand edits the mailbox ACL on behalf of actor, who must hold the
// administer right.
func (c *Checker) ApplyCommand(ctx context.Context, actor string, mailboxID uuid.UUID, cmd rights.Command) (acl.Change, error) {
	if _, err := c.Require(ctx, actor, mailboxID, rights.NewRights(rights.Administer)); err != nil {
		return acl.Change{}, err
	}
	return c.acls.UpdateACL(ctx, mailboxID, cmd)
}

func (c *Checker) SetACL(ctx context.Context, actor string, mailboxID uuid.UUID, next rights.ACL) (acl.Change, error) {
	if _, err := c.Require(ctx, actor, mailboxID, rights.NewRights(rights.Administer)); err != nil {
		return acl.Change{}, err
	}
	return c.acls.SetACL(ctx, mailboxID, next)
}

// GetACL returns the stored ACL to an actor holding the administer right.
func (c *Checker) GetACL(ctx context.Context, actor string, mailboxID uuid.UUID) (rights.ACL, error) {
	if _, err := c.Require(ctx, actor, mailboxID, rights.NewRights(rights.Administer)); err != nil {
		return rights.Empty, err
	}
	return c.acls.GetACL(ctx, mailboxID)
}

// CanOwn reports whether principal may create a mailbox owned by owner: its
// own mailboxes, or those of a group it belongs to.
func (c *Checker) CanOwn(ctx context.Context, principal, owner string, ownerIsGroup bool) (bool, error) {
	if principal == Anonymous {
		return false, nil
	}
	return c.resolver.IsOwner(ctx, principal, owner, ownerIsGroup)
}
