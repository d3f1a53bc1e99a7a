package docstore

// Coalesce folds a run of changes into at most one change per document id,
// keeping the position of each id's first change. It is what both stores
// use to turn "everything that happened since the last delivery" into a
// batch in which ids are unique:
//
//	added    then modified → added (with the later fields)
//	added    then removed  → nothing (the subscriber never saw the document)
//	removed  then added    → modified
//	anything else          → the later change
func Coalesce(changes []Change) []Change {
	if len(changes) < 2 {
		return changes
	}

	type slot struct {
		change Change
		alive  bool
	}
	slots := make([]slot, 0, len(changes))
	index := make(map[string]int, len(changes))

	for _, c := range changes {
		i, seen := index[c.ID]
		if !seen || !slots[i].alive {
			// An id folded away earlier starts over at the end.
			index[c.ID] = len(slots)
			slots = append(slots, slot{change: c, alive: true})
			continue
		}

		prev := slots[i].change
		switch {
		case prev.Kind == Added && c.Kind == Modified:
			slots[i].change = Change{Kind: Added, ID: c.ID, Fields: c.Fields}
		case prev.Kind == Added && c.Kind == Removed:
			slots[i].alive = false
		case prev.Kind == Removed && c.Kind == Added:
			slots[i].change = Change{Kind: Modified, ID: c.ID, Fields: c.Fields}
		default:
			slots[i].change = c
		}
	}

	out := make([]Change, 0, len(slots))
	for _, s := range slots {
		if s.alive {
			out = append(out, s.change)
		}
	}
	return out
}
