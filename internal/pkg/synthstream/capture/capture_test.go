package capture

import (
	"errors"
	"testing"

	"synthstream/internal/pkg/synthstream/audio"
	"synthstream/internal/pkg/synthstream/engine"
	"synthstream/internal/pkg/synthstream/stream"
)

func newTestAdapter(gen uint64) (*Adapter, *stream.Queue) {
	q := stream.NewQueue(stream.Limits{}, nil)
	a := NewAdapter(q, audio.NewProcessor(false), nil)
	if gen != 0 {
		q.Begin(gen)
		a.Activate(gen)
	}
	return a, q
}

func TestCallbackAudio(t *testing.T) {
	a, q := newTestAdapter(1)
	cb := NewCallback(a, true)
	if len(cb.Buffer()) != OutputSamples*2 {
		t.Fatalf("len(Buffer()) = %d, want %d", len(cb.Buffer()), OutputSamples*2)
	}
	copy(cb.Buffer(), []byte{1, 2, 3, 4, 5, 6})

	if got := cb.Handle(engine.MsgWaveformBuffer, 3); got != engine.DataProcessed {
		t.Fatalf("Handle() = %v, want DataProcessed", got)
	}
	buf := make([]byte, 16)
	n, kind, _ := q.Pull(buf)
	if n != 6 || kind != stream.KindAudio {
		t.Fatalf("Pull() = (%d, %v), want (6, audio)", n, kind)
	}

	// The shared buffer is reused; queued data must not change with it.
	copy(cb.Buffer(), []byte{9, 9})
	cb.Handle(engine.MsgWaveformBuffer, 1)
	cb.Buffer()[0] = 0
	n, _, _ = q.Pull(buf)
	if n != 2 || buf[0] != 9 {
		t.Fatalf("queued audio = %v, want copy of buffer", buf[:n])
	}
}

func TestCallbackCapsLengthToBuffer(t *testing.T) {
	a, q := newTestAdapter(1)
	cb := NewCallback(a, true)
	cb.Handle(engine.MsgWaveformBuffer, OutputSamples*4)
	if got := q.Buffered(); got != OutputSamples*2 {
		t.Fatalf("Buffered() = %d, want %d", got, OutputSamples*2)
	}
}

func TestCallbackCompletion(t *testing.T) {
	a, _ := newTestAdapter(4)
	cb := NewCallback(a, true)

	cb.Handle(engine.MsgWaveformBuffer, 0)
	select {
	case <-a.Done():
	default:
		t.Fatal("zero-length waveform did not signal completion")
	}
	if !a.IsDone(4) {
		t.Fatal("IsDone(4) = false")
	}

	a.DrainDone()
	cb.Handle(engine.MsgIndexReply, engine.IndexDone)
	select {
	case <-a.Done():
	default:
		t.Fatal("IndexDone did not signal completion")
	}
}

func TestCallbackIndexMarker(t *testing.T) {
	a, q := newTestAdapter(2)
	cb := NewCallback(a, true)
	cb.Handle(engine.MsgIndexReply, 17)

	_, kind, value := q.Pull(nil)
	if kind != stream.KindIndex || value != 17 {
		t.Fatalf("Pull() = (%v, %d), want (index, 17)", kind, value)
	}
}

func TestCallbackWithoutWaveformIgnoresAudio(t *testing.T) {
	a, q := newTestAdapter(1)
	cb := NewCallback(a, false)
	cb.Handle(engine.MsgWaveformBuffer, 10)
	cb.Handle(engine.MsgWaveformBuffer, 0)
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
	if a.IsDone(1) {
		t.Fatal("waveform completion accepted without waveform delivery")
	}
}

func TestCallbackAbortsWhenStale(t *testing.T) {
	a, q := newTestAdapter(0)
	cb := NewCallback(a, true)
	if got := cb.Handle(engine.MsgWaveformBuffer, 10); got != engine.DataAbort {
		t.Fatalf("Handle() idle = %v, want DataAbort", got)
	}

	q.Begin(3)
	a.Activate(2)
	if got := cb.Handle(engine.MsgIndexReply, 1); got != engine.DataAbort {
		t.Fatalf("Handle() mismatched = %v, want DataAbort", got)
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
}

func TestDeliverDropsAfterDeactivate(t *testing.T) {
	a, q := newTestAdapter(1)
	a.Deactivate()
	a.Deliver(1, []byte{1, 2})
	a.Marker(stream.KindIndex, 1, 3)
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
}

func TestDeliverAfterDoneIsDropped(t *testing.T) {
	a, q := newTestAdapter(1)
	a.Deliver(1, []byte{1, 2})
	q.PushMarker(stream.KindDone, 1, 0)

	// The gate is still open, as it is for a device thread that checked it
	// before the worker closed it.
	a.Deliver(1, []byte{3, 4})
	a.Marker(stream.KindIndex, 1, 3)
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want audio and Done only", q.Len())
	}
	q.Pull(make([]byte, 8))
	if _, kind, _ := q.Pull(nil); kind != stream.KindDone {
		t.Fatalf("last item = %v, want done", kind)
	}
}

type recordingDevice struct {
	calls []string
}

func (d *recordingDevice) Open(int, audio.Format, engine.DeviceNotify) (engine.DeviceHandle, error) {
	d.calls = append(d.calls, "open")
	return 0, nil
}

func (d *recordingDevice) Prepare(engine.DeviceHandle, *engine.WaveHeader) error {
	d.calls = append(d.calls, "prepare")
	return nil
}

func (d *recordingDevice) Write(engine.DeviceHandle, *engine.WaveHeader) error {
	d.calls = append(d.calls, "write")
	return nil
}

func (d *recordingDevice) Unprepare(engine.DeviceHandle, *engine.WaveHeader) error {
	d.calls = append(d.calls, "unprepare")
	return nil
}

func (d *recordingDevice) Reset(engine.DeviceHandle) error {
	d.calls = append(d.calls, "reset")
	return nil
}

func (d *recordingDevice) Close(engine.DeviceHandle) error {
	d.calls = append(d.calls, "close")
	return nil
}

func TestInterceptorCapturesOwnHandle(t *testing.T) {
	a, q := newTestAdapter(5)
	ic := NewInterceptor(a)

	var msgs []engine.DeviceMessage
	f := audio.Format{SampleRate: 11025, BitsPerSample: 16, Channels: 1}
	h, err := ic.Open(0, f, func(m engine.DeviceMessage, _ *engine.WaveHeader) { msgs = append(msgs, m) })
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got, ok := a.proc.Format(); !ok || got != f {
		t.Fatalf("processor format = %v, want %v", got, f)
	}

	hdr := &engine.WaveHeader{Data: []byte{10, 0, 20, 0}}
	if err := ic.Prepare(h, hdr); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if hdr.Flags&engine.HeaderPrepared == 0 {
		t.Fatal("Prepare() did not set prepared flag")
	}
	if err := ic.Write(h, hdr); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if hdr.Flags&engine.HeaderDone == 0 {
		t.Fatal("Write() did not mark header done")
	}
	if err := ic.Unprepare(h, hdr); err != nil {
		t.Fatalf("Unprepare() error = %v", err)
	}
	if hdr.Flags&engine.HeaderPrepared != 0 {
		t.Fatal("Unprepare() left prepared flag")
	}
	if got := q.Buffered(); got != 4 {
		t.Fatalf("Buffered() = %d, want 4", got)
	}

	if err := ic.Reset(h); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if !a.IsDone(5) {
		t.Fatal("Reset() did not signal completion")
	}
	a.DrainDone()
	if err := ic.Close(h); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !a.IsDone(5) {
		t.Fatal("Close() did not signal completion")
	}

	want := []engine.DeviceMessage{engine.DeviceOpened, engine.DeviceDone, engine.DeviceClosed}
	if len(msgs) != len(want) {
		t.Fatalf("notifications = %v, want %v", msgs, want)
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Fatalf("notifications = %v, want %v", msgs, want)
		}
	}
}

func TestInterceptorPassesForeignHandles(t *testing.T) {
	a, q := newTestAdapter(1)
	ic := NewInterceptor(a)
	orig := &recordingDevice{}
	ic.SetOriginal(orig)

	own, _ := ic.Open(0, audio.Format{}, nil)
	foreign := own + 1000
	hdr := &engine.WaveHeader{Data: []byte{1, 2}}

	ic.Prepare(foreign, hdr)
	ic.Write(foreign, hdr)
	ic.Unprepare(foreign, hdr)
	ic.Reset(foreign)
	ic.Close(foreign)

	want := []string{"prepare", "write", "unprepare", "reset", "close"}
	if len(orig.calls) != len(want) {
		t.Fatalf("original calls = %v, want %v", orig.calls, want)
	}
	for i := range want {
		if orig.calls[i] != want[i] {
			t.Fatalf("original calls = %v, want %v", orig.calls, want)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("foreign write reached queue: Len() = %d", q.Len())
	}
	if a.IsDone(1) {
		t.Fatal("foreign reset signalled completion")
	}
}

func TestInterceptorWithoutOriginal(t *testing.T) {
	a, _ := newTestAdapter(1)
	ic := NewInterceptor(a)
	if err := ic.Write(42, &engine.WaveHeader{}); !errors.Is(err, engine.ErrInvalidHandle) {
		t.Fatalf("Write() error = %v, want ErrInvalidHandle", err)
	}
	h, _ := ic.Open(0, audio.Format{}, nil)
	if err := ic.Write(h, nil); !errors.Is(err, ErrNilHeader) {
		t.Fatalf("Write(nil) error = %v, want ErrNilHeader", err)
	}
}

func TestInterceptorDropsWhenIdle(t *testing.T) {
	a, q := newTestAdapter(1)
	ic := NewInterceptor(a)
	h, _ := ic.Open(0, audio.Format{}, nil)
	a.Deactivate()

	hdr := &engine.WaveHeader{Data: []byte{1, 2}}
	if err := ic.Write(h, hdr); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if hdr.Flags&engine.HeaderDone == 0 {
		t.Fatal("Write() did not mark header done while idle")
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
	ic.Reset(h)
	select {
	case <-a.Done():
		t.Fatal("Reset() while idle signalled completion")
	default:
	}
}
