package audio

import "fmt"

// Format describes interleaved linear PCM as delivered by an engine.
// 8-bit samples are unsigned, 16-bit samples are signed little-endian.
type Format struct {
	SampleRate    int
	BitsPerSample int
	Channels      int
}

// FrameSize is the number of bytes holding one sample for every channel.
func (f Format) FrameSize() int {
	return f.BitsPerSample / 8 * f.Channels
}

// Valid reports whether the format has been established.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.BitsPerSample > 0 && f.Channels > 0
}

// Supported reports whether the post-processing stages can operate on f.
func (f Format) Supported() bool {
	return f.Valid() && (f.BitsPerSample == 8 || f.BitsPerSample == 16)
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dbit/%dch", f.SampleRate, f.BitsPerSample, f.Channels)
}

// Duration returns the playback length in seconds of n bytes of audio.
func (f Format) Duration(n int) float64 {
	fs := f.FrameSize()
	if fs == 0 || f.SampleRate == 0 {
		return 0
	}
	return float64(n/fs) / float64(f.SampleRate)
}
