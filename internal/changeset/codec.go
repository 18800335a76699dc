package changeset

import (
	"bytes"
	"encoding/json"
	"math"
)

// Serialize returns the wire form of c: a retain of one index is an int, a
// longer retain is an inclusive [first, last] pair and an insert is a string.
func (c Changeset) Serialize() []any {
	out := make([]any, 0, len(c.strips.items))
	for _, s := range c.strips.items {
		switch v := s.(type) {
		case Retain:
			if v.Len() == 1 {
				out = append(out, v.Start)
			} else {
				out = append(out, []int{v.Start, v.End - 1})
			}
		case Insert:
			out = append(out, v.Text)
		}
	}
	return out
}

// ParseValue builds a changeset from its wire form. It accepts the output of
// Serialize as well as generic values decoded by encoding/json.
func ParseValue(value any) (Changeset, error) {
	var elems []any
	switch v := value.(type) {
	case nil:
		return Changeset{}, nil
	case []any:
		elems = v
	default:
		return Changeset{}, invalid("parse", ErrMalformed, "expected array, got %T", value)
	}

	items := make([]Strip, 0, len(elems))
	for i, elem := range elems {
		switch v := elem.(type) {
		case string:
			items = append(items, Insert{Text: v})
		case []int:
			r, err := parsePair(i, v)
			if err != nil {
				return Changeset{}, err
			}
			items = append(items, r)
		case []any:
			pair := make([]int, len(v))
			for j, x := range v {
				n, err := parseIndex(i, x)
				if err != nil {
					return Changeset{}, err
				}
				pair[j] = n
			}
			r, err := parsePair(i, pair)
			if err != nil {
				return Changeset{}, err
			}
			items = append(items, r)
		default:
			n, err := parseIndex(i, v)
			if err != nil {
				return Changeset{}, err
			}
			items = append(items, Retain{Start: n, End: n + 1})
		}
	}
	return New(items...), nil
}

// Parse decodes a JSON-encoded changeset.
func Parse(data []byte) (Changeset, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return Changeset{}, &ValidationError{Op: "parse", Err: ErrMalformed, Detail: err.Error()}
	}
	return ParseValue(value)
}

// MarshalJSON implements json.Marshaler.
func (c Changeset) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Serialize())
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Changeset) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// maxWireIndex bounds indices read from the wire so that ranges cannot
// overflow when converted to half-open form.
const maxWireIndex = math.MaxInt32

func parsePair(i int, pair []int) (Retain, error) {
	if len(pair) != 2 {
		return Retain{}, invalid("parse", ErrMalformed, "element %d: pair of length %d", i, len(pair))
	}
	if pair[0] < 0 || pair[0] > pair[1] || pair[1] > maxWireIndex {
		return Retain{}, invalid("parse", ErrMalformed, "element %d: range [%d,%d]", i, pair[0], pair[1])
	}
	return Retain{Start: pair[0], End: pair[1] + 1}, nil
}

func parseIndex(i int, v any) (int, error) {
	var n int
	switch x := v.(type) {
	case int:
		n = x
	case int64:
		if x > maxWireIndex {
			return 0, invalid("parse", ErrMalformed, "element %d: index %d too large", i, x)
		}
		n = int(x)
	case float64:
		if x != math.Trunc(x) || x < 0 || x > maxWireIndex {
			return 0, invalid("parse", ErrMalformed, "element %d: non-integral index %v", i, x)
		}
		n = int(x)
	case json.Number:
		v, err := x.Int64()
		if err != nil || v > maxWireIndex {
			return 0, invalid("parse", ErrMalformed, "element %d: index %q", i, x.String())
		}
		n = int(v)
	default:
		return 0, invalid("parse", ErrMalformed, "element %d: unexpected %T", i, v)
	}
	if n < 0 {
		return 0, invalid("parse", ErrMalformed, "element %d: negative index %d", i, n)
	}
	if n > maxWireIndex {
		return 0, invalid("parse", ErrMalformed, "element %d: index %d too large", i, n)
	}
	return n, nil
}
