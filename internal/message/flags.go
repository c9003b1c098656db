package message

import (
	"fmt"
	"strings"

	"github.com/znz-systems/boxmeta/internal/models"
)

// Calculator derives the new flags of a message from its current ones. It
// must be pure: on a lost conditional write it is called again with the
// freshly read flags.
type Calculator interface {
	Apply(old models.Flags) models.Flags
}

type FlagsMode uint8

const (
	FlagsAdd FlagsMode = iota + 1
	FlagsRemove
	FlagsReplace
)

func ParseFlagsMode(s string) (FlagsMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "add", "+":
		return FlagsAdd, nil
	case "remove", "-":
		return FlagsRemove, nil
	case "replace", "":
		return FlagsReplace, nil
	default:
		return 0, fmt.Errorf("unknown flags mode %q", s)
	}
}

// FlagsUpdate is the Calculator behind STORE-like requests. \Recent belongs
// to the session that first sees a message and is never changed by it.
type FlagsUpdate struct {
	Mode  FlagsMode
	Flags models.Flags
}

func (u FlagsUpdate) Apply(old models.Flags) models.Flags {
	requested := u.Flags
	requested.System &^= models.FlagRecent
	var next models.Flags
	switch u.Mode {
	case FlagsAdd:
		next = old.Union(requested)
	case FlagsRemove:
		next = old.Except(requested)
	default:
		next = models.NewFlags(requested.System|old.System&models.FlagRecent, requested.Keywords...)
	}
	return next
}
