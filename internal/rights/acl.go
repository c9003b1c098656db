package rights

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrMalformedCommand = errors.New("malformed ACL command")

// Entry is one key of an ACL with its rights.
type Entry struct {
	Key    EntryKey
	Rights Rights
}

// ACL maps entry keys to non-empty rights. ACL values are never modified
// after construction; Apply and friends return a new value.
type ACL struct {
	entries map[EntryKey]Rights
}

// Empty is the ACL without entries. It is the zero value of ACL.
var Empty = ACL{}

// New builds an ACL from entries. Entries with empty rights are dropped.
func New(entries ...Entry) (ACL, error) {
	m := make(map[EntryKey]Rights, len(entries))
	for _, e := range entries {
		if err := e.Key.Validate(); err != nil {
			return Empty, err
		}
		if e.Rights.IsEmpty() {
			continue
		}
		m[e.Key] = e.Rights
	}
	return fromMap(m), nil
}

// MustNew is New for literals known to be valid.
func MustNew(entries ...Entry) ACL {
	a, err := New(entries...)
	if err != nil {
		panic(err)
	}
	return a
}

func fromMap(m map[EntryKey]Rights) ACL {
	if len(m) == 0 {
		return Empty
	}
	return ACL{entries: m}
}

func (a ACL) Len() int {
	return len(a.entries)
}

func (a ACL) IsEmpty() bool {
	return len(a.entries) == 0
}

func (a ACL) Get(k EntryKey) (Rights, bool) {
	r, ok := a.entries[k]
	return r, ok
}

// Entries returns the entries sorted by their textual key.
func (a ACL) Entries() []Entry {
	l := make([]Entry, 0, len(a.entries))
	for k, r := range a.entries {
		l = append(l, Entry{Key: k, Rights: r})
	}
	sort.Slice(l, func(i, j int) bool {
		return l[i].Key.String() < l[j].Key.String()
	})
	return l
}

// Equal reports whether both ACLs hold the same entries.
func (a ACL) Equal(b ACL) bool {
	if len(a.entries) != len(b.entries) {
		return false
	}
	for k, r := range a.entries {
		if br, ok := b.entries[k]; !ok || br != r {
			return false
		}
	}
	return true
}

func (a ACL) clone() map[EntryKey]Rights {
	m := make(map[EntryKey]Rights, len(a.entries)+1)
	for k, r := range a.entries {
		m[k] = r
	}
	return m
}

// Union merges b into a, uniting the rights of keys present in both.
func (a ACL) Union(b ACL) ACL {
	m := a.clone()
	for k, r := range b.entries {
		m[k] = m[k].Union(r)
	}
	return fromMap(m)
}

// EditMode selects how a Command combines its rights with the current ones.
type EditMode uint8

const (
	ModeAdd EditMode = iota + 1
	ModeRemove
	ModeReplace
)

func (m EditMode) String() string {
	switch m {
	case ModeAdd:
		return "add"
	case ModeRemove:
		return "remove"
	case ModeReplace:
		return "replace"
	default:
		return fmt.Sprintf("EditMode(%d)", uint8(m))
	}
}

// ParseEditMode accepts the mode names and the RFC 4314 prefixes "+", "-"
// and "" (replace).
func ParseEditMode(s string) (EditMode, error) {
	switch strings.ToLower(s) {
	case "add", "+":
		return ModeAdd, nil
	case "remove", "-":
		return ModeRemove, nil
	case "replace", "":
		return ModeReplace, nil
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrMalformedCommand, s)
}

// Command is a single edit to an ACL.
type Command struct {
	Key    EntryKey
	Mode   EditMode
	Rights Rights
}

func AddRights(k EntryKey, r Rights) Command     { return Command{Key: k, Mode: ModeAdd, Rights: r} }
func RemoveRights(k EntryKey, r Rights) Command  { return Command{Key: k, Mode: ModeRemove, Rights: r} }
func ReplaceRights(k EntryKey, r Rights) Command { return Command{Key: k, Mode: ModeReplace, Rights: r} }

func (c Command) Validate() error {
	if err := c.Key.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedCommand, err)
	}
	switch c.Mode {
	case ModeAdd, ModeRemove, ModeReplace:
	default:
		return fmt.Errorf("%w: %s", ErrMalformedCommand, c.Mode)
	}
	return nil
}

// Apply returns the ACL resulting from executing c against a. An entry whose
// rights end up empty is removed.
func (a ACL) Apply(c Command) (ACL, error) {
	if err := c.Validate(); err != nil {
		return a, err
	}
	current := a.entries[c.Key]
	var next Rights
	switch c.Mode {
	case ModeAdd:
		next = current.Union(c.Rights)
	case ModeRemove:
		next = current.Except(c.Rights)
	case ModeReplace:
		next = c.Rights
	}
	if next == current {
		return a, nil
	}
	m := a.clone()
	if next.IsEmpty() {
		delete(m, c.Key)
	} else {
		m[c.Key] = next
	}
	return fromMap(m), nil
}

// String renders a in the configuration format "key=rights;key=rights".
func (a ACL) String() string {
	entries := a.Entries()
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, e.Key.String()+"="+e.Rights.String())
	}
	return strings.Join(parts, ";")
}

// ParseACL parses the format written by ACL.String. Blank input is Empty.
func ParseACL(s string) (ACL, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Empty, nil
	}
	var entries []Entry
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		keyText, rightsText, ok := strings.Cut(part, "=")
		if !ok {
			return Empty, fmt.Errorf("%w: missing '=' in %q", ErrInvalidEntryKey, part)
		}
		key, err := ParseEntryKey(strings.TrimSpace(keyText))
		if err != nil {
			return Empty, err
		}
		r, err := ParseRights(strings.TrimSpace(rightsText))
		if err != nil {
			return Empty, err
		}
		entries = append(entries, Entry{Key: key, Rights: r})
	}
	return New(entries...)
}
