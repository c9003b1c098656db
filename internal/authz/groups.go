package authz

import (
	"context"
	"fmt"
	"strings"
)

// NoGroups has no groups at all.
type NoGroups struct{}

func (NoGroups) IsMember(context.Context, string, string) (bool, error) {
	return false, nil
}

// StaticGroups is a fixed group table, usually loaded from configuration.
type StaticGroups struct {
	members map[string]map[string]struct{}
}

func NewStaticGroups(groups map[string][]string) *StaticGroups {
	g := &StaticGroups{members: make(map[string]map[string]struct{}, len(groups))}
	for name, principals := range groups {
		set := make(map[string]struct{}, len(principals))
		for _, p := range principals {
			set[p] = struct{}{}
		}
		g.members[name] = set
	}
	return g
}

// ParseGroups reads "admins=alice,bob;sales=carol".
func ParseGroups(s string) (*StaticGroups, error) {
	groups := make(map[string][]string)
	for _, def := range strings.Split(s, ";") {
		def = strings.TrimSpace(def)
		if def == "" {
			continue
		}
		name, list, ok := strings.Cut(def, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid group definition %q", def)
		}
		for _, p := range strings.Split(list, ",") {
			if p = strings.TrimSpace(p); p != "" {
				groups[name] = append(groups[name], p)
			}
		}
		if _, seen := groups[name]; !seen {
			groups[name] = nil
		}
	}
	return NewStaticGroups(groups), nil
}

func (g *StaticGroups) IsMember(_ context.Context, group, principal string) (bool, error) {
	_, ok := g.members[group][principal]
	return ok, nil
}
