package rights

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidEntryKey = errors.New("invalid ACL entry key")

// NameType tells which kind of principal an EntryKey names.
type NameType uint8

const (
	NameUser NameType = iota + 1
	NameGroup
	NameSpecial
)

func (t NameType) String() string {
	switch t {
	case NameUser:
		return "user"
	case NameGroup:
		return "group"
	case NameSpecial:
		return "special"
	default:
		return fmt.Sprintf("NameType(%d)", uint8(t))
	}
}

// Reserved names of the special principals.
const (
	OwnerName         = "owner"
	AnybodyName       = "anyone"
	AuthenticatedName = "authenticated"
)

const (
	negativePrefix = "-"
	groupPrefix    = "$"
	anybodyAlias   = "anybody"
)

// EntryKey identifies who an ACL entry grants (or, when Negative, revokes)
// rights to. Positive and negative keys for the same principal are distinct
// map keys and coexist independently.
type EntryKey struct {
	Name     string
	Type     NameType
	Negative bool
}

// The special principals, positive and negative.
var (
	Owner                 = EntryKey{Name: OwnerName, Type: NameSpecial}
	OwnerNegative         = EntryKey{Name: OwnerName, Type: NameSpecial, Negative: true}
	Anybody               = EntryKey{Name: AnybodyName, Type: NameSpecial}
	AnybodyNegative       = EntryKey{Name: AnybodyName, Type: NameSpecial, Negative: true}
	Authenticated         = EntryKey{Name: AuthenticatedName, Type: NameSpecial}
	AuthenticatedNegative = EntryKey{Name: AuthenticatedName, Type: NameSpecial, Negative: true}
)

func UserKey(name string, negative bool) EntryKey {
	return EntryKey{Name: name, Type: NameUser, Negative: negative}
}

func GroupKey(name string, negative bool) EntryKey {
	return EntryKey{Name: name, Type: NameGroup, Negative: negative}
}

// Positive returns k with the negative bit cleared.
func (k EntryKey) Positive() EntryKey {
	k.Negative = false
	return k
}

func (k EntryKey) IsSpecial() bool {
	return k.Type == NameSpecial
}

// Validate checks the key invariants: user and group keys have a name,
// special keys carry one of the reserved names. A user name must not read
// back as something else in text form, so it may not be a reserved name or
// the "anybody" alias, nor start with "-" or "$".
func (k EntryKey) Validate() error {
	switch k.Type {
	case NameUser, NameGroup:
		if k.Name == "" {
			return fmt.Errorf("%w: empty %s name", ErrInvalidEntryKey, k.Type)
		}
		if k.Type == NameUser {
			return validateUserName(k.Name)
		}
		return nil
	case NameSpecial:
		switch k.Name {
		case OwnerName, AnybodyName, AuthenticatedName:
			return nil
		}
		return fmt.Errorf("%w: unknown special name %q", ErrInvalidEntryKey, k.Name)
	default:
		return fmt.Errorf("%w: %s", ErrInvalidEntryKey, k.Type)
	}
}

func validateUserName(name string) error {
	switch name {
	case OwnerName, AnybodyName, AuthenticatedName, anybodyAlias:
		return fmt.Errorf("%w: user name %q is reserved", ErrInvalidEntryKey, name)
	}
	if strings.HasPrefix(name, negativePrefix) || strings.HasPrefix(name, groupPrefix) {
		return fmt.Errorf("%w: user name %q starts with a key prefix", ErrInvalidEntryKey, name)
	}
	return nil
}

// String returns the textual form used for persistence: "-" marks a
// negative key, "$" a group; special names are written bare.
func (k EntryKey) String() string {
	var b strings.Builder
	if k.Negative {
		b.WriteString(negativePrefix)
	}
	if k.Type == NameGroup {
		b.WriteString(groupPrefix)
	}
	b.WriteString(k.Name)
	return b.String()
}

// ParseEntryKey is the inverse of EntryKey.String. The legacy spelling
// "anybody" is accepted for the anyone principal.
func ParseEntryKey(s string) (EntryKey, error) {
	var k EntryKey
	if rest, ok := strings.CutPrefix(s, negativePrefix); ok {
		k.Negative = true
		s = rest
	}
	if rest, ok := strings.CutPrefix(s, groupPrefix); ok {
		k.Type = NameGroup
		k.Name = rest
		return k, k.Validate()
	}
	switch s {
	case OwnerName, AnybodyName, AuthenticatedName:
		k.Type = NameSpecial
		k.Name = s
	case anybodyAlias:
		k.Type = NameSpecial
		k.Name = AnybodyName
	default:
		k.Type = NameUser
		k.Name = s
	}
	return k, k.Validate()
}

func (k EntryKey) MarshalText() ([]byte, error) {
	if err := k.Validate(); err != nil {
		return nil, err
	}
	return []byte(k.String()), nil
}

func (k *EntryKey) UnmarshalText(text []byte) error {
	parsed, err := ParseEntryKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
