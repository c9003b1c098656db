package rights

// Diff describes how an ACL changed. Changed entries carry the new rights.
type Diff struct {
	Added   []Entry
	Removed []Entry
	Changed []Entry
}

// ComputeDiff compares prev and next.
func ComputeDiff(prev, next ACL) Diff {
	var d Diff
	for _, e := range next.Entries() {
		old, ok := prev.Get(e.Key)
		switch {
		case !ok:
			d.Added = append(d.Added, e)
		case old != e.Rights:
			d.Changed = append(d.Changed, e)
		}
	}
	for _, e := range prev.Entries() {
		if _, ok := next.Get(e.Key); !ok {
			d.Removed = append(d.Removed, e)
		}
	}
	return d
}

func (d Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}
