package changeset

import (
	"sort"
	"strings"
)

// Strips is a normalized, immutable sequence of strips.
//
// Normalization drops empty strips, joins retains whose ranges touch and
// concatenates adjacent inserts, so two equal transforms always have equal
// strips.
type Strips struct {
	items    []Strip
	maxIndex int
	length   int

	// err records the first retain with a negative start or start > end.
	// Such retains are left out of items and reported by Validate.
	err error
}

// NewStrips normalizes items into a Strips value.
func NewStrips(items ...Strip) Strips {
	out := make([]Strip, 0, len(items))
	var maxIndex, length int
	var bad error
	for _, s := range items {
		if r, ok := s.(Retain); ok && (r.Start < 0 || r.Start > r.End) {
			if bad == nil {
				bad = invalid("normalize", ErrInvalidRetain, "[%d, %d)", r.Start, r.End)
			}
			continue
		}
		if s == nil || s.Len() <= 0 {
			continue
		}
		if r, ok := s.(Retain); ok && r.End > maxIndex {
			maxIndex = r.End
		}
		length += s.Len()
		if n := len(out); n > 0 {
			if joined, ok := join(out[n-1], s); ok {
				out[n-1] = joined
				continue
			}
		}
		out = append(out, s)
	}
	return Strips{items: out, maxIndex: maxIndex, length: length, err: bad}
}

// Count returns the number of strips.
func (s Strips) Count() int {
	return len(s.items)
}

// At returns the i-th strip.
func (s Strips) At(i int) Strip {
	return s.items[i]
}

// All returns a copy of the strips.
func (s Strips) All() []Strip {
	out := make([]Strip, len(s.items))
	copy(out, s.items)
	return out
}

// MaxIndex returns one past the highest retained source index.
func (s Strips) MaxIndex() int {
	return s.maxIndex
}

// Length returns the length of the output.
func (s Strips) Length() int {
	return s.length
}

// Validate checks that every retain was well formed and that every retained
// index is below sourceLength.
func (s Strips) Validate(sourceLength int) error {
	if s.err != nil {
		return s.err
	}
	if s.maxIndex > sourceLength {
		return invalid("validate", ErrOutOfBounds, "max index %d, source length %d", s.maxIndex, sourceLength)
	}
	return nil
}

// monotonic reports whether the retains appear in ascending source order
// without overlapping.
func (s Strips) monotonic() bool {
	end := 0
	for _, it := range s.items {
		if r, ok := it.(Retain); ok {
			if r.Start < end {
				return false
			}
			end = r.End
		}
	}
	return true
}

// Equal reports whether s and other hold the same strips.
func (s Strips) Equal(other Strips) bool {
	if len(s.items) != len(other.items) {
		return false
	}
	for i := range s.items {
		if s.items[i] != other.items[i] {
			return false
		}
	}
	return true
}

func (s Strips) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, item := range s.items {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(item.String())
	}
	b.WriteByte(']')
	return b.String()
}

// offsets returns the output offset at which each strip starts.
func (s Strips) offsets() []int {
	offs := make([]int, len(s.items))
	pos := 0
	for i, item := range s.items {
		offs[i] = pos
		pos += item.Len()
	}
	return offs
}

// slice appends to dst the strips covering output offsets [from, to).
func (s Strips) slice(dst []Strip, offs []int, from, to int) []Strip {
	if from >= to {
		return dst
	}
	i := sort.Search(len(offs), func(i int) bool { return offs[i] > from }) - 1
	for ; i < len(s.items) && offs[i] < to; i++ {
		item := s.items[i]
		lo := max(from, offs[i]) - offs[i]
		hi := min(to, offs[i]+item.Len()) - offs[i]
		dst = append(dst, cut(item, lo, hi))
	}
	return dst
}
