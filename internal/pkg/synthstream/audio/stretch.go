package audio

import "math"

const (
	stretchMinPitch = 65
	stretchMaxPitch = 400
	// Pitch search runs on a signal downsampled to roughly this rate.
	amdfFreq = 4000
)

// Stretcher is a streaming pitch-preserving speed transform. It works by
// detecting the pitch period of voiced input and dropping whole periods,
// cross-fading the neighbours with overlap-add. Input is buffered until
// enough samples for a pitch search are available, so a Write may produce
// no output at all.
type Stretcher struct {
	sampleRate int
	channels   int
	speed      float64

	minPeriod   int
	maxPeriod   int
	maxRequired int

	input  []int16
	output []int16
	down   []int16

	remainingInputToCopy int
}

// NewStretcher returns a stretcher for interleaved 16-bit samples.
func NewStretcher(sampleRate, channels int) *Stretcher {
	if channels < 1 {
		channels = 1
	}
	s := &Stretcher{
		sampleRate: sampleRate,
		channels:   channels,
		speed:      1,
		minPeriod:  sampleRate / stretchMaxPitch,
		maxPeriod:  sampleRate / stretchMinPitch,
	}
	s.maxRequired = 2 * s.maxPeriod
	return s
}

// SetSpeed sets the playback speed factor. Values below 1 are treated as 1.
func (s *Stretcher) SetSpeed(speed float64) {
	if speed < 1 {
		speed = 1
	}
	s.speed = speed
}

// Write appends interleaved samples. A trailing partial frame is ignored.
func (s *Stretcher) Write(samples []int16) {
	frames := len(samples) / s.channels
	if frames == 0 {
		return
	}
	s.input = append(s.input, samples[:frames*s.channels]...)
	s.process()
}

// Available returns the number of frames ready to Read.
func (s *Stretcher) Available() int {
	return len(s.output) / s.channels
}

// Read drains and returns all available output samples.
func (s *Stretcher) Read() []int16 {
	if len(s.output) == 0 {
		return nil
	}
	out := s.output
	s.output = nil
	return out
}

// Flush forces buffered input through the transform. The output is trimmed
// to the length the buffered input should have after speed-up.
func (s *Stretcher) Flush() {
	remaining := len(s.input) / s.channels
	if remaining == 0 {
		return
	}
	expected := len(s.output)/s.channels + int(float64(remaining)/s.speed+0.5)

	pad := make([]int16, 2*s.maxRequired*s.channels)
	s.input = append(s.input, pad...)
	s.process()

	if len(s.output)/s.channels > expected {
		s.output = s.output[:expected*s.channels]
	}
	s.input = s.input[:0]
	s.remainingInputToCopy = 0
}

func (s *Stretcher) process() {
	if s.speed <= 1.00001 {
		s.output = append(s.output, s.input...)
		s.input = s.input[:0]
		return
	}
	s.changeSpeed()
}

func (s *Stretcher) changeSpeed() {
	numInput := len(s.input) / s.channels
	if numInput < s.maxRequired {
		return
	}

	position := 0
	for position+s.maxRequired <= numInput {
		if s.remainingInputToCopy > 0 {
			position += s.copyToOutput(position)
			continue
		}
		samples := s.input[position*s.channels:]
		period := s.findPitchPeriod(samples)
		position += period + s.skipPitchPeriod(samples, period)
	}

	s.input = append(s.input[:0], s.input[position*s.channels:]...)
}

func (s *Stretcher) copyToOutput(position int) int {
	n := min(s.remainingInputToCopy, s.maxRequired)
	start := position * s.channels
	s.output = append(s.output, s.input[start:start+n*s.channels]...)
	s.remainingInputToCopy -= n
	return n
}

// skipPitchPeriod emits a cross-fade of two adjacent periods in place of
// both and returns the number of frames emitted.
func (s *Stretcher) skipPitchPeriod(samples []int16, period int) int {
	var n int
	if s.speed >= 2 {
		n = int(float64(period) / (s.speed - 1))
	} else {
		n = period
		s.remainingInputToCopy = int(float64(period) * (2 - s.speed) / (s.speed - 1))
	}
	if n <= 0 {
		return 0
	}

	ch := s.channels
	base := len(s.output)
	s.output = append(s.output, make([]int16, n*ch)...)
	out := s.output[base:]
	rampDown := samples
	rampUp := samples[period*ch:]
	for c := 0; c < ch; c++ {
		for t := 0; t < n; t++ {
			i := t*ch + c
			v := (int(rampDown[i])*(n-t) + int(rampUp[i])*t) / n
			out[i] = int16(v)
		}
	}
	return n
}

// findPitchPeriod runs an AMDF search, coarse on a downsampled mono signal
// and then refined at full resolution around the coarse estimate.
func (s *Stretcher) findPitchPeriod(samples []int16) int {
	skip := 1
	if s.sampleRate > amdfFreq {
		skip = s.sampleRate / amdfFreq
	}

	if s.channels == 1 && skip == 1 {
		return findPitchPeriodInRange(samples, s.minPeriod, s.maxPeriod)
	}

	s.downsample(samples, skip)
	period := findPitchPeriodInRange(s.down, s.minPeriod/skip, s.maxPeriod/skip)
	if skip == 1 {
		return period
	}

	period *= skip
	lo := max(period-(skip<<2), s.minPeriod)
	hi := min(period+(skip<<2), s.maxPeriod)
	if s.channels == 1 {
		return findPitchPeriodInRange(samples, lo, hi)
	}
	s.downsample(samples, 1)
	return findPitchPeriodInRange(s.down, lo, hi)
}

func (s *Stretcher) downsample(samples []int16, skip int) {
	n := s.maxRequired / skip
	step := skip * s.channels
	s.down = s.down[:0]
	for i := 0; i < n; i++ {
		sum := 0
		for j := 0; j < step; j++ {
			sum += int(samples[i*step+j])
		}
		s.down = append(s.down, int16(sum/step))
	}
}

func findPitchPeriodInRange(samples []int16, minPeriod, maxPeriod int) int {
	if minPeriod < 1 {
		minPeriod = 1
	}
	best := minPeriod
	bestDiff := math.MaxInt
	for period := minPeriod; period <= maxPeriod && 2*period <= len(samples); period++ {
		diff := 0
		for i := 0; i < period; i++ {
			d := int(samples[i]) - int(samples[i+period])
			if d < 0 {
				d = -d
			}
			diff += d
		}
		// Compare diff/period without dividing.
		if bestDiff == math.MaxInt || diff*best < bestDiff*period {
			bestDiff = diff
			best = period
		}
	}
	return best
}
