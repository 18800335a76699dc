// Package selection tracks a caret or selected range across changesets.
package selection

import (
	"encoding/json"
	"fmt"

	"collabtext/internal/changeset"
)

// Selection is a range of offsets over one revision of a document. A
// selection with Start == End is a caret.
// Selection is an immutable value type.
type Selection struct {
	Start int
	End   int
}

// Caret returns the collapsed selection at offset.
func Caret(offset int) Selection {
	return Selection{Start: offset, End: offset}
}

// New returns the selection from start to end.
func New(start, end int) Selection {
	return Selection{Start: start, End: end}
}

// IsCollapsed reports whether s is a caret.
func (s Selection) IsCollapsed() bool {
	return s.Start == s.End
}

// CollapseSame returns the caret form of s when both ends are equal and s
// unchanged otherwise.
func (s Selection) CollapseSame() Selection {
	if s.IsCollapsed() {
		return Caret(s.Start)
	}
	return s
}

// Follow maps s through cs. preferForward decides ties the same way as
// changeset.Changeset.IndexOfClosestRetained.
func (s Selection) Follow(cs changeset.Changeset, preferForward bool) Selection {
	return Selection{
		Start: cs.IndexOfClosestRetained(s.Start, preferForward),
		End:   cs.IndexOfClosestRetained(s.End, preferForward),
	}
}

func (s Selection) String() string {
	if s.IsCollapsed() {
		return fmt.Sprintf("{%d}", s.Start)
	}
	return fmt.Sprintf("{%d,%d}", s.Start, s.End)
}

type wire struct {
	Start int  `json:"start"`
	End   *int `json:"end,omitempty"`
}

// MarshalJSON encodes s as {"start": n} for a caret and {"start": n, "end": m}
// otherwise.
func (s Selection) MarshalJSON() ([]byte, error) {
	w := wire{Start: s.Start}
	if !s.IsCollapsed() {
		end := s.End
		w.End = &end
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes s. A missing end defaults to start.
func (s *Selection) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("selection: %w", err)
	}
	if w.Start < 0 || (w.End != nil && *w.End < 0) {
		return fmt.Errorf("selection: negative offset in %s", data)
	}
	s.Start = w.Start
	s.End = w.Start
	if w.End != nil {
		s.End = *w.End
	}
	return nil
}
