package neural

import (
	"encoding/binary"
	"math"
)

// toPCM16 converts model output in [-1, 1] to little-endian 16-bit PCM,
// scaled by gain and clipped.
func toPCM16(samples []float32, gain float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		v := float64(s*gain) * 32767
		v = math.Max(-32768, math.Min(32767, math.Round(v)))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}
