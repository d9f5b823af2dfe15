package audio

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
)

const (
	MinRate     = 100
	MaxRate     = 600
	DefaultRate = MinRate
)

// ClampRate bounds a rate percentage to [MinRate, MaxRate].
func ClampRate(percent int) int {
	return min(max(percent, MinRate), MaxRate)
}

// Processor applies silence capping and time-stretching to delivered chunks.
// Process and Flush may be called from different goroutines.
type Processor struct {
	mu        sync.Mutex
	format    Format
	trim      bool
	capper    *SilenceCapper
	stretcher *Stretcher

	rate atomic.Int32
}

// NewProcessor returns a processor with no format. Until SetFormat is
// called, chunks pass through unmodified.
func NewProcessor(trimSilence bool) *Processor {
	p := &Processor{trim: trimSilence}
	p.rate.Store(DefaultRate)
	return p
}

// SetFormat establishes the PCM layout of subsequent chunks. Changing the
// format discards any stretcher state.
func (p *Processor) SetFormat(f Format) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if f == p.format {
		return
	}
	p.format = f
	p.capper = NewSilenceCapper(f)
	p.stretcher = nil
}

// Format returns the established format and whether one is known.
func (p *Processor) Format() (Format, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format, p.format.Valid()
}

// SetRate sets the speed percentage, clamped to [MinRate, MaxRate], and
// returns the stored value. Returning to MinRate drops the stretcher.
func (p *Processor) SetRate(percent int) int {
	percent = ClampRate(percent)
	p.rate.Store(int32(percent))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stretcher != nil {
		if percent > MinRate {
			p.stretcher.SetSpeed(speedOf(percent))
		} else {
			p.stretcher = nil
		}
	}
	return percent
}

// Rate returns the speed percentage.
func (p *Processor) Rate() int {
	return int(p.rate.Load())
}

// Begin resets per-utterance state. Samples the stretcher still buffers from
// the previous utterance are discarded.
func (p *Processor) Begin() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.capper != nil {
		p.capper.Reset()
	}
	p.stretcher = nil
}

// Process returns the post-processed form of chunk, or nil when nothing is
// ready to enqueue. The result never aliases chunk.
func (p *Processor) Process(chunk []byte) []byte {
	if len(chunk) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.format.Valid() {
		return append([]byte(nil), chunk...)
	}

	var buf []byte
	if p.trim && p.capper != nil {
		buf = p.capper.Apply(chunk)
	} else {
		buf = append([]byte(nil), chunk...)
	}
	if len(buf) == 0 {
		return nil
	}

	rate := int(p.rate.Load())
	if rate <= MinRate || !p.format.Supported() {
		return buf
	}

	if p.stretcher == nil {
		p.stretcher = NewStretcher(p.format.SampleRate, p.format.Channels)
		p.stretcher.SetSpeed(speedOf(rate))
	}
	p.stretcher.Write(decodePCM(buf, p.format.BitsPerSample))
	out := p.stretcher.Read()
	if len(out) == 0 {
		return nil
	}
	return encodePCM(out, p.format.BitsPerSample)
}

// Flush drains the stretcher's buffered tail.
func (p *Processor) Flush() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stretcher == nil || p.rate.Load() <= MinRate || !p.format.Supported() {
		return nil
	}
	p.stretcher.Flush()
	out := p.stretcher.Read()
	if len(out) == 0 {
		return nil
	}
	return encodePCM(out, p.format.BitsPerSample)
}

func speedOf(percent int) float64 {
	return float64(percent) / 100
}

func decodePCM(buf []byte, bits int) []int16 {
	if bits == 8 {
		out := make([]int16, len(buf))
		for i, v := range buf {
			out[i] = int16(int(v)-128) << 8
		}
		return out
	}
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return out
}

func encodePCM(samples []int16, bits int) []byte {
	if bits == 8 {
		out := make([]byte, len(samples))
		for i, v := range samples {
			out[i] = byte((int(v) >> 8) + 128)
		}
		return out
	}
	out := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}
