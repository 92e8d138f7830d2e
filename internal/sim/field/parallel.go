package field

import (
	"runtime"
	"sync"
)

// slabCount is the number of x-slabs a step fans out over.
func (f *Field) slabCount() int {
	workers := f.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > f.cfg.Size {
		workers = f.cfg.Size
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// forEachSlab splits the lattice into contiguous x-slabs and runs fn on each
// concurrently. Slab k covers indices [lo, hi) and slabs are numbered in index
// order, so per-slab outputs concatenated by k match a sequential scan.
func (f *Field) forEachSlab(fn func(k, lo, hi int)) {
	size := f.cfg.Size
	plane := size * size
	workers := f.slabCount()
	if workers == 1 {
		fn(0, 0, plane*size)
		return
	}

	var wg sync.WaitGroup
	for k := 0; k < workers; k++ {
		x0 := k * size / workers
		x1 := (k + 1) * size / workers
		wg.Add(1)
		go func(k, lo, hi int) {
			defer wg.Done()
			fn(k, lo, hi)
		}(k, x0*plane, x1*plane)
	}
	wg.Wait()
}
