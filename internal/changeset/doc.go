// Package changeset implements the operational-transformation algebra used
// by collabtext.
//
// A Changeset transforms a source text into an output text. It is an ordered
// sequence of strips, each either a Retain of a half-open range of source
// indices or an Insert of literal text. Offsets count Unicode code points.
//
// The algebra:
//
//	a.Compose(b)   b applied after a, as one changeset from a's source
//	a.Follow(b)    b rebased so it applies after the concurrent a
//	a.Merge(b)     a.Compose(a.Follow(b))
//	c.Inverse(d)   the changeset that takes d.Compose(c) back to d
//
// Retains are not required to be monotonic; a changeset may reorder or
// transpose ranges of its source.
//
// All values are immutable and safe to share between goroutines.
package changeset
