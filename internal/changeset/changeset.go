package changeset

import "strings"

// Changeset is an immutable transform from a source text to an output text.
// The zero value is the empty changeset, which maps any source to "".
type Changeset struct {
	strips Strips
}

// New returns the changeset made of the given strips, normalized.
func New(items ...Strip) Changeset {
	return Changeset{strips: NewStrips(items...)}
}

// FromStrips wraps an already normalized Strips value.
func FromStrips(s Strips) Changeset {
	return Changeset{strips: s}
}

// FromText returns the document changeset that produces text from nothing.
func FromText(text string) Changeset {
	return New(Insert{Text: text})
}

// Identity returns the changeset that retains all of a source of length n.
func Identity(n int) Changeset {
	return New(Retain{Start: 0, End: n})
}

// Strips returns the normalized strips.
func (c Changeset) Strips() Strips {
	return c.strips
}

// Length returns the length of the output text.
func (c Changeset) Length() int {
	return c.strips.length
}

// MaxIndex returns one past the highest retained source index.
func (c Changeset) MaxIndex() int {
	return c.strips.maxIndex
}

// IsEmpty reports whether c has no strips.
func (c Changeset) IsEmpty() bool {
	return len(c.strips.items) == 0
}

// IsDocument reports whether c contains only inserts.
func (c Changeset) IsDocument() bool {
	return c.strips.maxIndex == 0
}

// Text returns the output of a document changeset.
func (c Changeset) Text() (string, error) {
	var b strings.Builder
	for _, s := range c.strips.items {
		ins, ok := s.(Insert)
		if !ok {
			return "", invalid("text", ErrNotDocument, "found retain %s", s)
		}
		b.WriteString(ins.Text)
	}
	return b.String(), nil
}

// Equal reports whether c and other are structurally identical.
func (c Changeset) Equal(other Changeset) bool {
	return c.strips.Equal(other.strips)
}

func (c Changeset) String() string {
	return c.strips.String()
}

// Compose returns the changeset equivalent to applying c and then other.
// The retains of other address the output of c.
func (c Changeset) Compose(other Changeset) (Changeset, error) {
	if err := firstErr(c, other); err != nil {
		return Changeset{}, err
	}
	if other.strips.maxIndex > c.strips.length {
		return Changeset{}, invalid("compose", ErrOutOfBounds,
			"retains up to %d on output of length %d", other.strips.maxIndex, c.strips.length)
	}
	offs := c.strips.offsets()
	out := make([]Strip, 0, len(other.strips.items))
	for _, s := range other.strips.items {
		switch v := s.(type) {
		case Insert:
			out = append(out, v)
		case Retain:
			out = c.strips.slice(out, offs, v.Start, v.End)
		}
	}
	return New(out...), nil
}

// Merge returns c with the concurrent other applied after it.
func (c Changeset) Merge(other Changeset) (Changeset, error) {
	return c.Compose(c.Follow(other))
}

// Inverse returns the changeset that takes the output of c back to the
// output of before, where before is the document c was applied to.
//
// Positions c kept are retained from c's output, positions c dropped are
// inserted again from before's text, and text c inserted is left out.
func (c Changeset) Inverse(before Changeset) (Changeset, error) {
	if err := firstErr(c, before); err != nil {
		return Changeset{}, err
	}
	if c.strips.maxIndex > before.strips.length {
		return Changeset{}, invalid("inverse", ErrOutOfBounds,
			"retains up to %d on document of length %d", c.strips.maxIndex, before.strips.length)
	}
	kept := c.retainedAt(before.strips.length)
	out := make([]Strip, 0, len(before.strips.items))
	pos := 0
	for _, s := range before.strips.items {
		switch v := s.(type) {
		case Insert:
			i := 0
			for _, r := range v.Text {
				if p := kept[pos+i]; p >= 0 {
					out = append(out, Retain{Start: p, End: p + 1})
				} else {
					out = append(out, Insert{Text: string(r)})
				}
				i++
			}
		case Retain:
			for i := 0; i < v.Len(); i++ {
				p := kept[pos+i]
				if p < 0 {
					return Changeset{}, invalid("inverse", ErrNotDocument,
						"dropped index %d has no text to restore", pos+i)
				}
				out = append(out, Retain{Start: p, End: p + 1})
			}
		}
		pos += s.Len()
	}
	return New(out...), nil
}

// IsIdentity reports whether c is empty or retains a prefix of its source
// starting at index 0 and nothing else. It does not know the source length:
// a retain of [0, 3) truncates a longer source. Use IsIdentityFor to check
// against a particular document.
func (c Changeset) IsIdentity() bool {
	switch len(c.strips.items) {
	case 0:
		return true
	case 1:
		r, ok := c.strips.items[0].(Retain)
		return ok && r.Start == 0
	}
	return false
}

// IsIdentityFor reports whether applying c to ref leaves ref unchanged.
func (c Changeset) IsIdentityFor(ref Changeset) bool {
	composed, err := ref.Compose(c)
	return err == nil && composed.Equal(ref)
}

// Identity returns the minimal identity changeset for c's output.
func (c Changeset) Identity() Changeset {
	return Identity(c.strips.length)
}

// firstErr returns the first malformed-retain error among css.
func firstErr(css ...Changeset) error {
	for _, c := range css {
		if c.strips.err != nil {
			return c.strips.err
		}
	}
	return nil
}

// retainedAt maps each source index below n to the first output position
// c copies it to, or -1 when c drops it.
func (c Changeset) retainedAt(n int) []int {
	n = max(n, c.strips.maxIndex)
	pos := make([]int, n)
	for i := range pos {
		pos[i] = -1
	}
	out := 0
	for _, s := range c.strips.items {
		if r, ok := s.(Retain); ok {
			for i := r.Start; i < r.End; i++ {
				if pos[i] < 0 {
					pos[i] = out + i - r.Start
				}
			}
		}
		out += s.Len()
	}
	return pos
}
