package changeset

import (
	"math/rand"
	"testing"
)

func randomWord(rng *rand.Rand) string {
	letters := []rune("xyzXYZ01é")
	word := make([]rune, 1+rng.Intn(3))
	for j := range word {
		word[j] = letters[rng.Intn(len(letters))]
	}
	return string(word)
}

// randomEdit returns a monotonic changeset over a source of length n.
func randomEdit(rng *rand.Rand, n int) Changeset {
	var items []Strip
	for i := 0; i <= n; i++ {
		if rng.Intn(4) == 0 {
			items = append(items, Insert{Text: randomWord(rng)})
		}
		if i < n && rng.Intn(3) != 0 {
			items = append(items, Retain{Start: i, End: i + 1})
		}
	}
	return New(items...)
}

// randomTransposed returns a changeset that keeps random chunks of a source
// of length n in shuffled order, sometimes repeating one.
func randomTransposed(rng *rand.Rand, n int) Changeset {
	var chunks []Retain
	for i := 0; i < n; {
		end := min(i+1+rng.Intn(4), n)
		if rng.Intn(4) != 0 {
			chunks = append(chunks, Retain{Start: i, End: end})
		}
		i = end
	}
	rng.Shuffle(len(chunks), func(i, j int) { chunks[i], chunks[j] = chunks[j], chunks[i] })
	if len(chunks) > 0 && rng.Intn(5) == 0 {
		chunks = append(chunks, chunks[0])
	}
	var items []Strip
	for _, r := range chunks {
		if rng.Intn(3) == 0 {
			items = append(items, Insert{Text: randomWord(rng)})
		}
		items = append(items, r)
	}
	if rng.Intn(3) == 0 {
		items = append(items, Insert{Text: randomWord(rng)})
	}
	return New(items...)
}

func TestPropertiesTransposed(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const base = "abcdefghijkl"
	for iter := 0; iter < 500; iter++ {
		a := randomTransposed(rng, len(base))
		b := randomEdit(rng, len(base))
		if iter%2 == 1 {
			a, b = b, a
		}
		ab := apply(t, base, a, a.Follow(b))
		ba := apply(t, base, b, b.Follow(a))
		if ab != ba {
			t.Fatalf("convergence: a=%s b=%s: %q != %q", a, b, ab, ba)
		}
	}
}

func TestPropertiesRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const base = "the quick brown fox"
	n := len(base)
	for iter := 0; iter < 500; iter++ {
		a := randomEdit(rng, n)
		b := randomEdit(rng, n)

		ab := apply(t, base, a, a.Follow(b))
		ba := apply(t, base, b, b.Follow(a))
		if ab != ba {
			t.Fatalf("convergence: a=%s b=%s: %q != %q", a, b, ab, ba)
		}

		inv, err := a.Inverse(FromText(base))
		if err != nil {
			t.Fatalf("Inverse(%s) error: %v", a, err)
		}
		if got := apply(t, base, a, inv); got != base {
			t.Fatalf("inverse law: a=%s inverse=%s: %q", a, inv, got)
		}

		back, err := ParseValue(a.Serialize())
		if err != nil || !back.Equal(a) {
			t.Fatalf("round trip: %s -> %s, %v", a, back, err)
		}

		rewritten := FromText(base).InsertionsToRetained(a)
		if got, want := apply(t, base, rewritten), apply(t, base, a); got != want {
			t.Fatalf("InsertionsToRetained(%s) = %s: %q != %q", a, rewritten, got, want)
		}
	}
}
