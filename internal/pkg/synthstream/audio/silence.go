package audio

import "encoding/binary"

const (
	silenceCapMillis = 60

	// Near-zero bands, wide enough to tolerate dither.
	silence8Low   = 124
	silence8High  = 132
	silence16Band = 128
)

// SilenceCapper bounds runs of consecutive silent frames. The run counter
// carries across chunks until Reset.
type SilenceCapper struct {
	format Format
	max    int
	run    int
}

// NewSilenceCapper returns a capper for f. Formats other than 8 or 16 bit
// PCM are passed through untouched.
func NewSilenceCapper(f Format) *SilenceCapper {
	return &SilenceCapper{
		format: f,
		max:    f.SampleRate * silenceCapMillis / 1000,
	}
}

// Max is the longest silent run, in frames, that survives capping.
func (c *SilenceCapper) Max() int { return c.max }

// Reset clears the silent-run counter. Call at the start of each utterance.
func (c *SilenceCapper) Reset() { c.run = 0 }

// Apply returns a copy of chunk with silent frames beyond the cap removed. A
// trailing partial frame is discarded.
func (c *SilenceCapper) Apply(chunk []byte) []byte {
	fs := c.format.FrameSize()
	if c.max <= 0 || fs == 0 || !c.format.Supported() {
		return append([]byte(nil), chunk...)
	}

	out := make([]byte, 0, len(chunk))
	for i := 0; i+fs <= len(chunk); i += fs {
		frame := chunk[i : i+fs]
		if c.silent(frame) {
			c.run++
			if c.run > c.max {
				continue
			}
		} else {
			c.run = 0
		}
		out = append(out, frame...)
	}
	return out
}

func (c *SilenceCapper) silent(frame []byte) bool {
	if c.format.BitsPerSample == 8 {
		for _, v := range frame {
			if v < silence8Low || v > silence8High {
				return false
			}
		}
		return true
	}
	for i := 0; i+1 < len(frame); i += 2 {
		v := int16(binary.LittleEndian.Uint16(frame[i:]))
		if v < -silence16Band || v > silence16Band {
			return false
		}
	}
	return true
}
