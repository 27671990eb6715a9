package gormstore

// ChildDiff is the result of comparing stored child rows with the aggregate's children.
type ChildDiff[T any] struct {
	Added   []T
	Changed []T
	Removed []string
}

func (d ChildDiff[T]) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0
}

// Reconcile compares children by identity: rows missing from stored are added,
// rows present in both but not equal are changed, and stored rows missing from
// desired are removed. Unchanged rows are never rewritten, so their creation
// timestamps survive.
func Reconcile[T any](stored, desired []T, key func(T) string, equal func(a, b T) bool) ChildDiff[T] {
	var diff ChildDiff[T]

	byID := make(map[string]T, len(stored))
	for _, s := range stored {
		byID[key(s)] = s
	}

	seen := make(map[string]struct{}, len(desired))
	for _, d := range desired {
		id := key(d)
		seen[id] = struct{}{}
		s, ok := byID[id]
		switch {
		case !ok:
			diff.Added = append(diff.Added, d)
		case !equal(s, d):
			diff.Changed = append(diff.Changed, d)
		}
	}

	for _, s := range stored {
		if _, ok := seen[key(s)]; !ok {
			diff.Removed = append(diff.Removed, key(s))
		}
	}
	return diff
}
