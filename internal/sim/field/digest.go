package field

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// StateDigest hashes everything that determines future steps: step counter,
// parameters, energies, site records and the echo buffer's presence bits.
// The random source and event log are excluded so replays that pass explicit
// positions verify against the same digests.
func (f *Field) StateDigest() string {
	h := sha256.New()
	var tmp [8]byte
	u64 := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}
	i64 := func(v int64) { u64(uint64(v)) }
	f64 := func(v float64) { u64(math.Float64bits(v)) }

	u64(f.step)
	i64(int64(f.cfg.Size))
	f64(f.cfg.BaseThreshold)
	i64(int64(f.cfg.EchoDepth))
	f64(f.cfg.EchoInfluence)
	f64(f.cfg.ThresholdDecay)

	for _, e := range f.lat.energy {
		i64(e)
	}
	for _, s := range f.lat.sites {
		i64(int64(s.Seniority))
		i64(s.TotalShared)
		i64(s.TotalReceived)
	}

	i64(int64(f.echo.Len()))
	bits := make([]byte, (f.lat.Len()+7)/8)
	for _, snap := range f.echo.Snapshots() {
		for k := range bits {
			bits[k] = 0
		}
		for i, e := range snap {
			if e > 0 {
				bits[i/8] |= 1 << uint(i%8)
			}
		}
		h.Write(bits)
	}
	return hex.EncodeToString(h.Sum(nil))
}
