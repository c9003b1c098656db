// Package rights holds the value types of mailbox access control: rights,
// ACL entry keys, ACLs, edit commands and the diff between two ACLs.
// Nothing in this package performs I/O and every value is immutable once
// constructed, so values may be shared between goroutines freely.
package rights

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedRight matches every UnsupportedRightError.
var ErrUnsupportedRight = errors.New("unsupported right")

// UnsupportedRightError reports a right mnemonic outside the RFC 4314 vocabulary.
type UnsupportedRightError struct {
	Char rune
}

func (e *UnsupportedRightError) Error() string {
	return fmt.Sprintf("unsupported right: %q", e.Char)
}

func (e *UnsupportedRightError) Is(target error) bool {
	return target == ErrUnsupportedRight
}

// Right is a single RFC 4314 right, identified by its mnemonic character.
type Right byte

const (
	Lookup         Right = 'l' // mailbox is visible to LIST
	Read           Right = 'r' // SELECT, FETCH, SEARCH, COPY from
	WriteSeen      Right = 's' // keep \Seen across sessions
	Write          Right = 'w' // STORE flags other than \Seen and \Deleted
	Insert         Right = 'i' // APPEND, COPY into
	Post           Right = 'p' // send mail to the submission address
	CreateMailbox  Right = 'k' // CREATE child mailboxes
	DeleteMailbox  Right = 'x' // DELETE the mailbox
	DeleteMessages Right = 't' // STORE \Deleted
	PerformExpunge Right = 'e' // EXPUNGE
	Administer     Right = 'a' // SETACL, DELETEACL, GETACL, LISTRIGHTS
)

// canonical RFC 4314 ordering, also the bit order of Rights.
var ordered = [...]Right{
	Lookup, Read, WriteSeen, Write, Insert, Post,
	CreateMailbox, DeleteMailbox, DeleteMessages, PerformExpunge, Administer,
}

// ParseRight returns the right for an RFC 4314 mnemonic.
func ParseRight(c rune) (Right, error) {
	for _, r := range ordered {
		if rune(r) == c {
			return r, nil
		}
	}
	return 0, &UnsupportedRightError{Char: c}
}

func (r Right) String() string {
	return string(rune(r))
}

func (r Right) bit() Rights {
	for i, o := range ordered {
		if o == r {
			return 1 << i
		}
	}
	return 0
}

// Rights is a set of rights. The zero value is the empty set.
type Rights uint16

const (
	None Rights = 0
	All  Rights = 1<<len(ordered) - 1
)

// NewRights returns the set holding the given rights.
func NewRights(rs ...Right) Rights {
	var s Rights
	for _, r := range rs {
		s |= r.bit()
	}
	return s
}

// ParseRights parses a string of mnemonics such as "lrswi". Unknown
// characters fail with an UnsupportedRightError. Whitespace is not allowed.
func ParseRights(s string) (Rights, error) {
	var set Rights
	for _, c := range s {
		r, err := ParseRight(c)
		if err != nil {
			return None, err
		}
		set |= r.bit()
	}
	return set, nil
}

// MustParseRights is ParseRights for literals known to be valid.
func MustParseRights(s string) Rights {
	set, err := ParseRights(s)
	if err != nil {
		panic(err)
	}
	return set
}

func (s Rights) Contains(r Right) bool {
	b := r.bit()
	return b != 0 && s&b == b
}

// ContainsAll reports whether every right of o is in s.
func (s Rights) ContainsAll(o Rights) bool {
	return s&o == o
}

func (s Rights) Union(o Rights) Rights {
	return s | o
}

// Except returns s without the rights in o.
func (s Rights) Except(o Rights) Rights {
	return s &^ o
}

func (s Rights) Intersect(o Rights) Rights {
	return s & o
}

func (s Rights) IsEmpty() bool {
	return s&All == 0
}

// List returns the rights of s in canonical order.
func (s Rights) List() []Right {
	var l []Right
	for i, r := range ordered {
		if s&(1<<i) != 0 {
			l = append(l, r)
		}
	}
	return l
}

// String returns the mnemonics of s in canonical order, "" for the empty set.
func (s Rights) String() string {
	var b strings.Builder
	for _, r := range s.List() {
		b.WriteByte(byte(r))
	}
	return b.String()
}

func (s Rights) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Rights) UnmarshalText(text []byte) error {
	parsed, err := ParseRights(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
