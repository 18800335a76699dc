package changeset

import (
	"strconv"
	"unicode/utf8"
)

// Strip is a single unit of a changeset. It is either a Retain or an Insert.
type Strip interface {
	// Len returns the number of output code points the strip produces.
	Len() int

	String() string

	isStrip()
}

// Retain copies source indices [Start, End) to the output.
type Retain struct {
	Start int
	End   int
}

// NewRetain returns the retain of [start, end).
func NewRetain(start, end int) (Retain, error) {
	if start < 0 || start > end {
		return Retain{}, invalid("retain", ErrInvalidRetain, "[%d, %d)", start, end)
	}
	return Retain{Start: start, End: end}, nil
}

// Len returns End - Start.
func (r Retain) Len() int {
	return r.End - r.Start
}

func (r Retain) String() string {
	if r.End-r.Start == 1 {
		return strconv.Itoa(r.Start)
	}
	return "[" + strconv.Itoa(r.Start) + "," + strconv.Itoa(r.End-1) + "]"
}

func (Retain) isStrip() {}

// Insert writes Text to the output.
type Insert struct {
	Text string
}

// Len returns the number of code points in Text.
func (i Insert) Len() int {
	return utf8.RuneCountInString(i.Text)
}

func (i Insert) String() string {
	return strconv.Quote(i.Text)
}

func (Insert) isStrip() {}

// join merges b into a when the two are contiguous.
func join(a, b Strip) (Strip, bool) {
	switch x := a.(type) {
	case Retain:
		if y, ok := b.(Retain); ok && x.End == y.Start {
			return Retain{Start: x.Start, End: y.End}, true
		}
	case Insert:
		if y, ok := b.(Insert); ok {
			return Insert{Text: x.Text + y.Text}, true
		}
	}
	return nil, false
}

// cut returns the part of s covering its output offsets [from, to).
func cut(s Strip, from, to int) Strip {
	switch v := s.(type) {
	case Retain:
		return Retain{Start: v.Start + from, End: v.Start + to}
	case Insert:
		if from == 0 && to == v.Len() {
			return v
		}
		return Insert{Text: runeSlice(v.Text, from, to)}
	}
	return nil
}

// runeSlice returns the code points [from, to) of s.
func runeSlice(s string, from, to int) string {
	start, i := len(s), 0
	for pos := range s {
		if i == from {
			start = pos
		}
		if i == to {
			return s[start:pos]
		}
		i++
	}
	if from == i {
		start = len(s)
	}
	return s[start:]
}
