package capture

import (
	"synthstream/internal/pkg/synthstream/engine"
	"synthstream/internal/pkg/synthstream/stream"
)

// OutputSamples is the size, in 16-bit samples, of the shared output buffer
// handed to callback engines.
const OutputSamples = 3300

// Callback decodes engine callback messages. Audio arrives through a shared
// buffer the engine fills before each MsgWaveformBuffer.
type Callback struct {
	a     *Adapter
	buf   []byte
	audio bool
}

// NewCallback returns a decoder for a. When waveform is false,
// MsgWaveformBuffer messages are ignored because audio reaches the process
// some other way.
func NewCallback(a *Adapter, waveform bool) *Callback {
	return &Callback{
		a:     a,
		buf:   make([]byte, OutputSamples*2),
		audio: waveform,
	}
}

// Buffer is the shared output buffer to register with the engine.
func (c *Callback) Buffer() []byte { return c.buf }

// Handle is the engine.Callback.
func (c *Callback) Handle(msg engine.Message, length int) engine.CallbackResult {
	gen := c.a.capturing()
	if gen == 0 {
		return engine.DataAbort
	}

	switch msg {
	case engine.MsgWaveformBuffer:
		if !c.audio {
			break
		}
		if length <= 0 {
			c.a.Completed(gen)
			break
		}
		n := min(length*2, len(c.buf))
		c.a.Deliver(gen, c.buf[:n])
	case engine.MsgIndexReply:
		if length == engine.IndexDone {
			c.a.Completed(gen)
			break
		}
		c.a.Marker(stream.KindIndex, gen, length)
	}
	return engine.DataProcessed
}
