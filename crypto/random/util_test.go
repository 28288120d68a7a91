package random

import (
	"sort"
	"testing"

	big "github.com/ncw/gmp"
)

func TestIntInRange(t *testing.T) {
	max := big.NewInt(17)
	for i := 0; i < 200; i++ {
		r := Int(max)
		if r.Sign() < 0 || r.Cmp(max) != -1 {
			t.Fatalf("random int out of range: %s", r)
		}
		if NonZeroInt(max).Sign() == 0 {
			t.Fatal("NonZeroInt returned zero")
		}
	}
}

func TestSafePrimes(t *testing.T) {
	p, q := SafePrimes(64)
	if p.BitLen() != 64 {
		t.Fatalf("expected 64 bit prime, got %d bits", p.BitLen())
	}
	// p = 2q + 1
	expected := new(big.Int).Mul(q, big.NewInt(2))
	expected.Add(expected, big.NewInt(1))
	if expected.Cmp(p) != 0 {
		t.Fatal("p != 2q+1")
	}
}

func TestShuffleKeepsElements(t *testing.T) {
	in := []int{1, 1, 2, 3, 3, 3, 4, 5, 6, 7}
	out := append([]int(nil), in...)
	Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	sort.Ints(out)
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("shuffle changed the multiset: %v", out)
		}
	}
	// degenerate sizes must not panic
	Shuffle(0, func(i, j int) { t.Fatal("swap on empty input") })
	Shuffle(1, func(i, j int) { t.Fatal("swap on single input") })
}

func TestOracleDeterministic(t *testing.T) {
	max := big.NewInt(1000003)
	a := Oracle([]byte("decide"), max)
	b := Oracle([]byte("decide"), max)
	if a.Cmp(b) != 0 {
		t.Fatal("oracle is not deterministic")
	}
}
