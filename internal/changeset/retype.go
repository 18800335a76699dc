package changeset

// InsertionsToRetained treats c as a document and rewrites the inserts of
// candidate that only re-type text already present next to them.
//
// An insert is rewritten into a retain when its text equals the document text
// right after the preceding retain (or right before the following one) and
// candidate does not already retain any of those indices. The rewritten
// changeset produces the same output as candidate when composed onto c.
func (c Changeset) InsertionsToRetained(candidate Changeset) Changeset {
	doc, known := c.runes()
	items := candidate.strips.items
	used := make([]bool, len(doc))
	for _, s := range items {
		if r, ok := s.(Retain); ok {
			for i := r.Start; i < min(r.End, len(used)); i++ {
				used[i] = true
			}
		}
	}

	matches := func(at int, text []rune) bool {
		if at < 0 || at+len(text) > len(doc) {
			return false
		}
		for i, r := range text {
			if !known[at+i] || used[at+i] || doc[at+i] != r {
				return false
			}
		}
		return true
	}
	claim := func(at, n int) Retain {
		for i := at; i < at+n; i++ {
			used[i] = true
		}
		return Retain{Start: at, End: at + n}
	}

	out := make([]Strip, 0, len(items))
	boundary := 0
	for i, s := range items {
		switch v := s.(type) {
		case Retain:
			out = append(out, v)
			boundary = v.End
		case Insert:
			text := []rune(v.Text)
			if matches(boundary, text) {
				out = append(out, claim(boundary, len(text)))
				boundary += len(text)
				continue
			}
			if i+1 < len(items) {
				if next, ok := items[i+1].(Retain); ok && matches(next.Start-len(text), text) {
					out = append(out, claim(next.Start-len(text), len(text)))
					continue
				}
			}
			out = append(out, v)
		}
	}
	return New(out...)
}

// runes returns the output of c as code points. Positions produced by a
// retain are zero and reported as unknown.
func (c Changeset) runes() ([]rune, []bool) {
	doc := make([]rune, 0, c.strips.length)
	known := make([]bool, 0, c.strips.length)
	for _, s := range c.strips.items {
		switch v := s.(type) {
		case Insert:
			for _, r := range v.Text {
				doc = append(doc, r)
				known = append(known, true)
			}
		case Retain:
			for i := 0; i < v.Len(); i++ {
				doc = append(doc, 0)
				known = append(known, false)
			}
		}
	}
	return doc, known
}
