package capture

import (
	"errors"
	"sync"
	"sync/atomic"

	"synthstream/internal/pkg/synthstream/audio"
	"synthstream/internal/pkg/synthstream/engine"
)

// ErrNilHeader is returned for a device call without a header.
var ErrNilHeader = errors.New("capture: nil wave header")

var handleSeq atomic.Uintptr

// Interceptor stands in for an output device. Every Open is claimed and
// answered with a manufactured handle; calls carrying any other handle go to
// the original primitives.
type Interceptor struct {
	a *Adapter

	mu       sync.Mutex
	handle   engine.DeviceHandle
	notify   engine.DeviceNotify
	original engine.Device
}

var _ engine.Device = (*Interceptor)(nil)

func NewInterceptor(a *Adapter) *Interceptor {
	return &Interceptor{a: a}
}

// SetOriginal records the primitives that were replaced by Install.
func (i *Interceptor) SetOriginal(d engine.Device) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.original = d
}

// owns returns whether h is the manufactured handle, and the original
// device for pass-through when it is not.
func (i *Interceptor) owns(h engine.DeviceHandle) (bool, engine.Device) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return h != 0 && h == i.handle, i.original
}

func (i *Interceptor) Open(deviceID int, f audio.Format, notify engine.DeviceNotify) (engine.DeviceHandle, error) {
	h := engine.DeviceHandle(handleSeq.Add(1))

	i.mu.Lock()
	i.handle = h
	i.notify = notify
	i.mu.Unlock()

	if f.Valid() {
		i.a.SetFormat(f)
	}
	i.signal(engine.DeviceOpened, nil)
	return h, nil
}

func (i *Interceptor) Prepare(h engine.DeviceHandle, hdr *engine.WaveHeader) error {
	ok, orig := i.owns(h)
	if !ok {
		return passthrough(orig, func(d engine.Device) error { return d.Prepare(h, hdr) })
	}
	if hdr != nil {
		hdr.Flags |= engine.HeaderPrepared
	}
	return nil
}

func (i *Interceptor) Unprepare(h engine.DeviceHandle, hdr *engine.WaveHeader) error {
	ok, orig := i.owns(h)
	if !ok {
		return passthrough(orig, func(d engine.Device) error { return d.Unprepare(h, hdr) })
	}
	if hdr != nil {
		hdr.Flags &^= engine.HeaderPrepared
	}
	return nil
}

func (i *Interceptor) Write(h engine.DeviceHandle, hdr *engine.WaveHeader) error {
	ok, orig := i.owns(h)
	if !ok {
		return passthrough(orig, func(d engine.Device) error { return d.Write(h, hdr) })
	}
	if hdr == nil {
		return ErrNilHeader
	}

	if gen := i.a.capturing(); gen != 0 && len(hdr.Data) > 0 {
		i.a.Deliver(gen, hdr.Data)
	}

	hdr.Flags |= engine.HeaderDone
	i.signal(engine.DeviceDone, hdr)
	return nil
}

// Reset means the engine finished or abandoned playback.
func (i *Interceptor) Reset(h engine.DeviceHandle) error {
	ok, orig := i.owns(h)
	if !ok {
		return passthrough(orig, func(d engine.Device) error { return d.Reset(h) })
	}
	i.a.Completed(i.a.Active())
	return nil
}

func (i *Interceptor) Close(h engine.DeviceHandle) error {
	ok, orig := i.owns(h)
	if !ok {
		return passthrough(orig, func(d engine.Device) error { return d.Close(h) })
	}
	i.a.Completed(i.a.Active())
	i.signal(engine.DeviceClosed, nil)
	return nil
}

func (i *Interceptor) signal(msg engine.DeviceMessage, hdr *engine.WaveHeader) {
	i.mu.Lock()
	notify := i.notify
	i.mu.Unlock()
	if notify != nil {
		notify(msg, hdr)
	}
}

func passthrough(orig engine.Device, call func(engine.Device) error) error {
	if orig == nil {
		return engine.ErrInvalidHandle
	}
	return call(orig)
}
