// Package authz turns stored ACLs into access decisions.
package authz

import (
	"context"
	"fmt"

	"github.com/znz-systems/boxmeta/internal/rights"
)

// GroupMembership answers whether a principal belongs to a group.
type GroupMembership interface {
	IsMember(ctx context.Context, group, principal string) (bool, error)
}

// Anonymous is the principal of unauthenticated callers.
const Anonymous = ""

// Resolver computes effective rights from a mailbox ACL and the server-wide
// global ACL. It holds no state besides its configuration.
type Resolver struct {
	global rights.ACL
	groups GroupMembership
}

func NewResolver(global rights.ACL, groups GroupMembership) *Resolver {
	if groups == nil {
		groups = NoGroups{}
	}
	return &Resolver{global: global, groups: groups}
}

func (r *Resolver) GlobalACL() rights.ACL {
	return r.global
}

// EffectiveRights returns the rights principal holds on a mailbox owned by
// owner. The global and mailbox ACLs are resolved independently and their
// results unioned, so a negative entry in one never revokes rights granted
// by the other.
func (r *Resolver) EffectiveRights(ctx context.Context, principal string, mailboxACL rights.ACL, owner string, ownerIsGroup bool) (rights.Rights, error) {
	global, err := r.resolve(ctx, r.global, principal, owner, ownerIsGroup)
	if err != nil {
		return rights.None, fmt.Errorf("resolving global ACL: %w", err)
	}
	local, err := r.resolve(ctx, mailboxACL, principal, owner, ownerIsGroup)
	if err != nil {
		return rights.None, fmt.Errorf("resolving mailbox ACL: %w", err)
	}
	return global.Union(local), nil
}

// resolve unions the rights of every applicable positive entry and removes
// every right named by an applicable negative entry.
func (r *Resolver) resolve(ctx context.Context, a rights.ACL, principal, owner string, ownerIsGroup bool) (rights.Rights, error) {
	var granted, revoked rights.Rights
	for _, e := range a.Entries() {
		acc := &granted
		if e.Key.Negative {
			acc = &revoked
		}
		// Nothing new to learn from this entry, skip the oracle round trip.
		if acc.ContainsAll(e.Rights) {
			continue
		}
		ok, err := r.applies(ctx, e.Key.Positive(), principal, owner, ownerIsGroup)
		if err != nil {
			return rights.None, err
		}
		if ok {
			*acc = acc.Union(e.Rights)
		}
	}
	return granted.Except(revoked), nil
}

// IsOwner reports whether principal owns the mailbox, directly or through
// group membership.
func (r *Resolver) IsOwner(ctx context.Context, principal, owner string, ownerIsGroup bool) (bool, error) {
	return r.applies(ctx, rights.Owner, principal, owner, ownerIsGroup)
}

func (r *Resolver) applies(ctx context.Context, key rights.EntryKey, principal, owner string, ownerIsGroup bool) (bool, error) {
	if principal == Anonymous {
		return key == rights.Anybody, nil
	}

	switch key.Type {
	case rights.NameUser:
		return key.Name == principal, nil
	case rights.NameGroup:
		return r.groups.IsMember(ctx, key.Name, principal)
	case rights.NameSpecial:
		switch key.Name {
		case rights.AnybodyName, rights.AuthenticatedName:
			return true, nil
		case rights.OwnerName:
			if principal == owner {
				return true, nil
			}
			if ownerIsGroup {
				return r.groups.IsMember(ctx, owner, principal)
			}
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: %s", rights.ErrInvalidEntryKey, key)
}
