package field

import "echofield.ai/internal/sim/logic/mathx"

// Lattice owns the N×N×N energy grid and the per-site records. Energy is
// double-buffered: a step reads energy and writes next, then swaps.
// Index layout is (x*N + y)*N + z.
type Lattice struct {
	size   int
	energy []int64
	next   []int64
	sites  []Site
}

func newLattice(size int) *Lattice {
	n := size * size * size
	return &Lattice{
		size:   size,
		energy: make([]int64, n),
		next:   make([]int64, n),
		sites:  make([]Site, n),
	}
}

func (l *Lattice) Size() int { return l.size }
func (l *Lattice) Len() int  { return len(l.energy) }

func (l *Lattice) Contains(p Pos) bool {
	for _, v := range p {
		if v < 0 || v >= l.size {
			return false
		}
	}
	return true
}

func (l *Lattice) index(p Pos) int {
	return (p[0]*l.size+p[1])*l.size + p[2]
}

func (l *Lattice) pos(i int) Pos {
	n := l.size
	return Pos{i / (n * n), (i / n) % n, i % n}
}

// neighbor returns the index of the toroidal neighbor of i in direction d.
func (l *Lattice) neighbor(i, d int) int {
	p := l.pos(i)
	o := dirOffsets[d]
	q := Pos{
		mathx.Mod(p[0]+o[0], l.size),
		mathx.Mod(p[1]+o[1], l.size),
		mathx.Mod(p[2]+o[2], l.size),
	}
	return l.index(q)
}

// Neighbors returns the six toroidal neighbors of p in distribution order.
func (l *Lattice) Neighbors(p Pos) [numDirs]Pos {
	var out [numDirs]Pos
	for d, o := range dirOffsets {
		out[d] = Pos{
			mathx.Mod(p[0]+o[0], l.size),
			mathx.Mod(p[1]+o[1], l.size),
			mathx.Mod(p[2]+o[2], l.size),
		}
	}
	return out
}

func (l *Lattice) Energy(p Pos) int64 {
	if !l.Contains(p) {
		return 0
	}
	return l.energy[l.index(p)]
}

// Snapshot returns a copy of the current energies. It never aliases the live grid.
func (l *Lattice) Snapshot() []int64 {
	return append([]int64(nil), l.energy...)
}

// TotalEnergy sums the grid, reporting false if the sum overflows int64.
func (l *Lattice) TotalEnergy() (int64, bool) {
	var sum int64
	for _, e := range l.energy {
		var ok bool
		if sum, ok = mathx.AddInt64(sum, e); !ok {
			return 0, false
		}
	}
	return sum, true
}

func (l *Lattice) swap() {
	l.energy, l.next = l.next, l.energy
}
