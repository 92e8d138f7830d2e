package mathx

import (
	"math"
	"testing"
)

func TestMod_Wraps(t *testing.T) {
	cases := []struct{ a, b, want int }{
		{0, 4, 0},
		{5, 4, 1},
		{-1, 4, 3},
		{-5, 4, 3},
		{3, 1, 0},
	}
	for _, c := range cases {
		if got := Mod(c.a, c.b); got != c.want {
			t.Fatalf("Mod(%d,%d)=%d want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestAddInt64_Overflow(t *testing.T) {
	if v, ok := AddInt64(1, 2); !ok || v != 3 {
		t.Fatalf("AddInt64(1,2)=%d,%v", v, ok)
	}
	if _, ok := AddInt64(math.MaxInt64, 1); ok {
		t.Fatalf("expected overflow")
	}
	if _, ok := AddInt64(math.MinInt64, -1); ok {
		t.Fatalf("expected underflow")
	}
}

func TestHashSource_DeterministicAndResumable(t *testing.T) {
	a := NewHashSource(42)
	b := NewHashSource(42)
	for i := 0; i < 100; i++ {
		x, y := a.Intn(16), b.Intn(16)
		if x != y {
			t.Fatalf("draw %d mismatch: %d vs %d", i, x, y)
		}
		if x < 0 || x >= 16 {
			t.Fatalf("draw out of range: %d", x)
		}
	}

	c := NewHashSource(42)
	c.Restore(a.Draws())
	if a.Intn(1000) != c.Intn(1000) {
		t.Fatalf("restored source diverged")
	}
}

func TestClamp01(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-2.220446049250313e-16, 0},
		{0.5, 0.5},
		{1.5, 1},
		{math.NaN(), 0},
	}
	for _, c := range cases {
		if got := Clamp01(c.in); got != c.want {
			t.Fatalf("Clamp01(%v)=%v want %v", c.in, got, c.want)
		}
	}
}
