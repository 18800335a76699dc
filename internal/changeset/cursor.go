package changeset

// IndexOfClosestRetained maps a caret offset in c's source to an offset in
// c's output.
//
// An offset inside or at the edge of a retained range maps directly. An
// offset inside a dropped region snaps to the retained boundary closest in
// source distance. When two candidates are equally good, including a boundary
// that maps to both sides of an insert, preferForward selects the later
// output offset and otherwise the earlier one. Without any retains the result
// is 0, or Length() when preferForward is set.
func (c Changeset) IndexOfClosestRetained(index int, preferForward bool) int {
	best, bestDist := -1, 0
	consider := func(p, d int) {
		switch {
		case best < 0 || d < bestDist:
			best, bestDist = p, d
		case d == bestDist && preferForward && p > best:
			best = p
		case d == bestDist && !preferForward && p < best:
			best = p
		}
	}

	out := 0
	for _, s := range c.strips.items {
		if r, ok := s.(Retain); ok {
			switch {
			case index < r.Start:
				consider(out, r.Start-index)
			case index > r.End:
				consider(out+r.Len(), index-r.End)
			default:
				consider(out+index-r.Start, 0)
			}
		}
		out += s.Len()
	}
	if best < 0 {
		if preferForward {
			return out
		}
		return 0
	}
	return best
}
