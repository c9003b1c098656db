package models

import (
	"slices"
	"strings"
)

// SystemFlag is a bit set of the IMAP system flags.
type SystemFlag uint8

const (
	FlagAnswered SystemFlag = 1 << iota
	FlagDeleted
	FlagDraft
	FlagFlagged
	FlagRecent
	FlagSeen
	// FlagUser marks that the message may carry user-defined keywords.
	FlagUser
)

var systemFlagNames = []struct {
	flag SystemFlag
	name string
}{
	{FlagAnswered, `\Answered`},
	{FlagDeleted, `\Deleted`},
	{FlagDraft, `\Draft`},
	{FlagFlagged, `\Flagged`},
	{FlagRecent, `\Recent`},
	{FlagSeen, `\Seen`},
	{FlagUser, `\*`},
}

// Flags is the flag state of a message: system flags plus keywords.
// Keywords are kept sorted and without duplicates.
type Flags struct {
	System   SystemFlag
	Keywords []string
}

// NewFlags builds a normalized Flags value.
func NewFlags(system SystemFlag, keywords ...string) Flags {
	return Flags{System: system, Keywords: normalizeKeywords(keywords)}
}

// ParseFlags accepts IMAP flag names; anything not starting with a
// backslash is a keyword.
func ParseFlags(names []string) Flags {
	var f Flags
	var keywords []string
	for _, n := range names {
		if !strings.HasPrefix(n, `\`) {
			keywords = append(keywords, n)
			continue
		}
		for _, sf := range systemFlagNames {
			if strings.EqualFold(sf.name, n) {
				f.System |= sf.flag
			}
		}
	}
	f.Keywords = normalizeKeywords(keywords)
	return f
}

// Names is the inverse of ParseFlags.
func (f Flags) Names() []string {
	var names []string
	for _, sf := range systemFlagNames {
		if f.System&sf.flag != 0 {
			names = append(names, sf.name)
		}
	}
	return append(names, f.Keywords...)
}

func normalizeKeywords(keywords []string) []string {
	if len(keywords) == 0 {
		return nil
	}
	l := slices.Clone(keywords)
	slices.Sort(l)
	return slices.Compact(l)
}

func (f Flags) Has(flag SystemFlag) bool {
	return f.System&flag == flag
}

func (f Flags) IsSeen() bool {
	return f.Has(FlagSeen)
}

func (f Flags) IsDeleted() bool {
	return f.Has(FlagDeleted)
}

// Union returns the flags set in f or o.
func (f Flags) Union(o Flags) Flags {
	return NewFlags(f.System|o.System, append(slices.Clone(f.Keywords), o.Keywords...)...)
}

// Except returns f without the flags set in o.
func (f Flags) Except(o Flags) Flags {
	var keywords []string
	for _, k := range f.Keywords {
		if !slices.Contains(o.Keywords, k) {
			keywords = append(keywords, k)
		}
	}
	return Flags{System: f.System &^ o.System, Keywords: keywords}
}

func (f Flags) Equal(o Flags) bool {
	return f.System == o.System && slices.Equal(f.Keywords, o.Keywords)
}
