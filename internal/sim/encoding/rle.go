package encoding

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// EncodeRLE encodes a sequence of energy values into base64(varint pairs).
// The pairs are (zigzag value, run_len) repeated. Lattices are mostly zero, so
// runs compress well.
func EncodeRLE(vals []int64) string {
	var buf bytes.Buffer
	var tmp [binary.MaxVarintLen64]byte

	i := 0
	for i < len(vals) {
		v := vals[i]
		run := 1
		for j := i + 1; j < len(vals) && vals[j] == v && run < 1<<31; j++ {
			run++
		}

		n := binary.PutVarint(tmp[:], v)
		buf.Write(tmp[:n])
		n = binary.PutUvarint(tmp[:], uint64(run))
		buf.Write(tmp[:n])

		i += run
	}

	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// DecodeRLE decodes EncodeRLE output. If want >= 0 the decoded length must match.
func DecodeRLE(b64 string, want int) ([]int64, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, err
	}
	var out []int64
	if want > 0 {
		out = make([]int64, 0, want)
	}
	for i := 0; i < len(raw); {
		v, n := binary.Varint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		run, n := binary.Uvarint(raw[i:])
		if n <= 0 {
			return nil, fmt.Errorf("bad varint at %d", i)
		}
		i += n
		if want >= 0 && uint64(len(out))+run > uint64(want) {
			return nil, fmt.Errorf("run overflows expected length %d", want)
		}
		for k := uint64(0); k < run; k++ {
			out = append(out, v)
		}
	}
	if want >= 0 && len(out) != want {
		return nil, fmt.Errorf("decoded %d values, want %d", len(out), want)
	}
	return out, nil
}
