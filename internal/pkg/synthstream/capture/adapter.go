// Package capture turns the two engine delivery shapes, a push callback into
// a shared buffer and writes to an output device, into one item stream.
package capture

import (
	"sync/atomic"

	"synthstream/internal/pkg/synthstream/audio"
	"synthstream/internal/pkg/synthstream/stream"
)

// Observer is told about audio admitted to the queue.
type Observer interface {
	Audio(gen uint64, bytes int)
}

// Adapter gates produced data on the active generation and feeds the
// post-processor and output queue. Its methods are safe to call from engine
// goroutines.
type Adapter struct {
	queue *stream.Queue
	proc  *audio.Processor
	obs   Observer

	active atomic.Uint64

	doneGen atomic.Uint64
	done    chan struct{}
}

func NewAdapter(queue *stream.Queue, proc *audio.Processor, obs Observer) *Adapter {
	return &Adapter{
		queue: queue,
		proc:  proc,
		obs:   obs,
		done:  make(chan struct{}, 1),
	}
}

// Activate opens the producer gate for generation g.
func (a *Adapter) Activate(g uint64) { a.active.Store(g) }

// Deactivate closes the producer gate.
func (a *Adapter) Deactivate() { a.active.Store(0) }

// Active returns the generation producers are allowed to publish for.
func (a *Adapter) Active() uint64 { return a.active.Load() }

// capturing returns the generation to tag produced data with, or 0 when
// data should be dropped.
func (a *Adapter) capturing() uint64 {
	gen := a.active.Load()
	if gen == 0 || gen != a.queue.Current() {
		return 0
	}
	return gen
}

// SetFormat establishes the PCM layout of delivered audio.
func (a *Adapter) SetFormat(f audio.Format) { a.proc.SetFormat(f) }

// Deliver post-processes raw and enqueues it for gen. raw is not retained.
func (a *Adapter) Deliver(gen uint64, raw []byte) {
	if gen == 0 || gen != a.active.Load() {
		return
	}
	out := a.proc.Process(raw)
	if len(out) == 0 {
		return
	}
	n := len(out)
	if a.queue.PushAudio(gen, out) && a.obs != nil {
		a.obs.Audio(gen, n)
	}
}

// Marker enqueues an index or error marker for gen.
func (a *Adapter) Marker(kind stream.Kind, gen uint64, value int) {
	if gen == 0 || gen != a.active.Load() {
		return
	}
	a.queue.PushMarker(kind, gen, value)
}

// Completed signals that the engine finished generation gen.
func (a *Adapter) Completed(gen uint64) {
	if gen == 0 {
		return
	}
	a.doneGen.Store(gen)
	select {
	case a.done <- struct{}{}:
	default:
	}
}

// Done fires after Completed. Check IsDone for the generation it was for.
func (a *Adapter) Done() <-chan struct{} { return a.done }

// IsDone reports whether the last completion was raised for gen.
func (a *Adapter) IsDone(gen uint64) bool { return a.doneGen.Load() == gen }

// DrainDone discards any pending completion signal.
func (a *Adapter) DrainDone() {
	a.doneGen.Store(0)
	select {
	case <-a.done:
	default:
	}
}

// Flush enqueues the post-processor's buffered tail for gen. The queue
// still drops it if gen is no longer readable.
func (a *Adapter) Flush(gen uint64) {
	tail := a.proc.Flush()
	if len(tail) == 0 {
		return
	}
	a.queue.PushAudio(gen, tail)
}
