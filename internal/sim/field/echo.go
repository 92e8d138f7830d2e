package field

// EchoBuffer keeps the most recent depth lattice snapshots in a ring and a
// per-site count of buffered snapshots with positive energy, so presence
// fractions are O(1) per site instead of a rescan of every snapshot.
type EchoBuffer struct {
	depth   int
	ring    [][]int64
	head    int // oldest entry
	n       int
	present []int32
}

func NewEchoBuffer(depth, sites int) *EchoBuffer {
	if depth < 0 {
		depth = 0
	}
	return &EchoBuffer{
		depth:   depth,
		ring:    make([][]int64, depth),
		present: make([]int32, sites),
	}
}

func (b *EchoBuffer) Depth() int { return b.depth }
func (b *EchoBuffer) Len() int   { return b.n }

// Push copies snap into the buffer, evicting the oldest entry once the buffer
// holds depth snapshots. The evicted slot's storage is reused.
func (b *EchoBuffer) Push(snap []int64) {
	if b.depth == 0 {
		return
	}
	var slot int
	if b.n == b.depth {
		slot = b.head
		old := b.ring[slot]
		for i, e := range old {
			if e > 0 {
				b.present[i]--
			}
		}
		b.head = (b.head + 1) % b.depth
	} else {
		slot = (b.head + b.n) % b.depth
		b.n++
	}
	dst := b.ring[slot]
	if cap(dst) < len(snap) {
		dst = make([]int64, len(snap))
	}
	dst = dst[:len(snap)]
	copy(dst, snap)
	b.ring[slot] = dst
	for i, e := range dst {
		if e > 0 {
			b.present[i]++
		}
	}
}

// PresenceFraction is the fraction of buffered snapshots in which site i held
// positive energy; 0 when the buffer is empty.
func (b *EchoBuffer) PresenceFraction(i int) float64 {
	if b.n == 0 {
		return 0
	}
	return float64(b.present[i]) / float64(b.n)
}

// Snapshots returns the buffered snapshots oldest first. The slices are
// internal storage and must not be modified.
func (b *EchoBuffer) Snapshots() [][]int64 {
	out := make([][]int64, 0, b.n)
	for k := 0; k < b.n; k++ {
		out = append(out, b.ring[(b.head+k)%b.depth])
	}
	return out
}
