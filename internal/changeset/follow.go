package changeset

import (
	"math"
	"sort"
)

// anchor is the text one side inserted at one source boundary, expressed as
// ranges of that side's output.
type anchor struct {
	runs []Retain
	text string
	done bool
}

// Follow rebases other, which targets the same source as c, so that it
// applies to the output of c. For any source S:
//
//	S.Compose(a).Compose(a.Follow(b)) == S.Compose(b).Compose(b.Follow(a))
//
// Source indices retained by both sides stay, indices dropped by either side
// are dropped, and inserts from both sides are kept. An insert is anchored at
// the source boundary after the retain that precedes it. When both sides
// insert at the same boundary the lexicographically smaller text goes first,
// with the anchored side's text first on a tie.
//
// The merged document follows the order of the side that transposes source
// ranges. When both sides transpose, it follows other's order and the law
// above does not hold.
func (c Changeset) Follow(other Changeset) Changeset {
	n := max(c.strips.maxIndex, other.strips.maxIndex)
	if !c.strips.monotonic() && other.strips.monotonic() {
		return c.followInOwnOrder(other, n)
	}

	pos := c.retainedAt(n)
	anchors, bounds := c.anchors()
	return New(weave(other.strips, anchors, bounds,
		func(v Insert, _ int) Strip { return v },
		func(i, _ int) (Strip, bool) {
			p := pos[i]
			return Retain{Start: p, End: p + 1}, p >= 0
		},
		func(a *anchor) []Strip {
			out := make([]Strip, len(a.runs))
			for i, r := range a.runs {
				out[i] = r
			}
			return out
		},
	)...)
}

// followInOwnOrder lays the merged document out in c's order: it walks c and
// weaves other's inserts in, as other.Follow(c) would when walking c from
// other's side.
func (c Changeset) followInOwnOrder(other Changeset, n int) Changeset {
	kept := other.retainedAt(n)
	anchors, bounds := other.anchors()
	return New(weave(c.strips, anchors, bounds,
		func(v Insert, at int) Strip { return Retain{Start: at, End: at + v.Len()} },
		func(i, at int) (Strip, bool) {
			return Retain{Start: at, End: at + 1}, kept[i] >= 0
		},
		func(a *anchor) []Strip { return []Strip{Insert{Text: a.text}} },
	)...)
}

// weave walks the strips of walk in order and interleaves the anchored
// inserts of the other side at their source boundaries. insert and retain
// render walk's own strips given their output position in walk; anchored
// renders the other side's inserts.
func weave(
	walk Strips,
	anchors map[int]*anchor,
	bounds []int,
	insert func(v Insert, at int) Strip,
	retain func(i, at int) (Strip, bool),
	anchored func(a *anchor) []Strip,
) []Strip {
	out := make([]Strip, 0, len(walk.items)+len(anchors))
	emit := func(b int) {
		a, ok := anchors[b]
		if !ok || a.done {
			return
		}
		a.done = true
		out = append(out, anchored(a)...)
	}
	flush := func(from, to int) {
		for _, b := range bounds {
			if b >= from && b < to {
				emit(b)
			}
		}
	}

	cur, at := 0, 0
	for _, s := range walk.items {
		switch v := s.(type) {
		case Insert:
			if a, ok := anchors[cur]; ok && !a.done && a.text <= v.Text {
				emit(cur)
			}
			out = append(out, insert(v, at))
		case Retain:
			switch {
			case v.Start > cur:
				flush(cur, v.Start)
			case v.Start < cur:
				emit(cur)
			}
			for i := v.Start; i < v.End; i++ {
				emit(i)
				if r, ok := retain(i, at+i-v.Start); ok {
					out = append(out, r)
				}
			}
			cur = v.End
		}
		at += s.Len()
	}
	flush(cur, math.MaxInt)
	flush(0, cur)
	return out
}

// anchors groups the inserts of c by the source boundary they follow and
// returns the boundaries in ascending order.
func (c Changeset) anchors() (map[int]*anchor, []int) {
	anchors := make(map[int]*anchor)
	var bounds []int
	boundary, out := 0, 0
	for _, s := range c.strips.items {
		switch v := s.(type) {
		case Retain:
			boundary = v.End
		case Insert:
			a, ok := anchors[boundary]
			if !ok {
				a = &anchor{}
				anchors[boundary] = a
				bounds = append(bounds, boundary)
			}
			a.runs = append(a.runs, Retain{Start: out, End: out + v.Len()})
			a.text += v.Text
		}
		out += s.Len()
	}
	sort.Ints(bounds)
	return anchors, bounds
}
