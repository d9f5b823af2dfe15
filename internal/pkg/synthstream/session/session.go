// Package session drives a single-threaded synthesis engine from one
// dedicated worker goroutine and exposes its output as a pull stream.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"synthstream/internal/pkg/synthstream/audio"
	"synthstream/internal/pkg/synthstream/capture"
	"synthstream/internal/pkg/synthstream/engine"
	"synthstream/internal/pkg/synthstream/metrics"
	"synthstream/internal/pkg/synthstream/stream"
)

var (
	ErrInitTimeout   = errors.New("session: engine initialization timed out")
	ErrClosed        = errors.New("session: closed")
	ErrInvalidParam  = errors.New("session: invalid parameter id")
	ErrFormatUnknown = errors.New("session: audio format not yet known")
)

// Session owns one engine instance. All methods are safe for concurrent use;
// Read is meant for a single consumer.
type Session struct {
	id   string
	desc engine.Descriptor
	dir  string
	opts options
	log  zerolog.Logger
	m    *metrics.Metrics

	queue   *stream.Queue
	proc    *audio.Processor
	adapter *capture.Adapter
	cmds    *commandQueue
	params  paramSet

	cancelToken atomic.Uint64
	generations atomic.Uint64
	stop        chan struct{}
	calls       chan func(engine.Engine)

	multiVoice atomic.Bool

	latencyGen   atomic.Uint64
	latencyStart atomic.Int64

	wg        conc.WaitGroup
	exited    chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

// Open probes dir for an installed engine family, or uses the one named by
// WithBackend, and starts a session on it.
func Open(dir string, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var (
		desc engine.Descriptor
		err  error
	)
	if o.backend != "" {
		desc, err = engine.Lookup(o.backend)
	} else {
		desc, err = engine.Detect(dir)
	}
	if err != nil {
		return nil, err
	}
	return New(desc, dir, opts...)
}

// New starts a session on the given engine family. It returns once the
// engine is initialized on the worker, or ErrInitTimeout.
func New(desc engine.Descriptor, dir string, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New("synthstream", nil)
	}

	s := &Session{
		id:     uuid.NewString(),
		desc:   desc,
		dir:    dir,
		opts:   o,
		m:      o.metrics,
		cmds:   newCommandQueue(),
		stop:   make(chan struct{}, 1),
		calls:  make(chan func(engine.Engine)),
		exited: make(chan struct{}),
	}
	s.log = o.logger.With().
		Str("component", "session").
		Str("session", s.id).
		Str("backend", desc.Name).
		Logger()
	s.queue = stream.NewQueue(o.limits, o.metrics)
	s.proc = audio.NewProcessor(o.trimSilence)
	s.adapter = capture.NewAdapter(s.queue, s.proc, s)

	ready := make(chan error, 1)
	s.wg.Go(func() { s.run(ready) })

	timer := time.NewTimer(o.initTimeout)
	defer timer.Stop()

	select {
	case err := <-ready:
		if err != nil {
			s.wg.Wait()
			s.closed.Store(true)
			return nil, err
		}
	case <-timer.C:
		// The worker may still be inside the engine factory. Leave it a
		// quit command and do not wait for it.
		s.closed.Store(true)
		s.cmds.push(command{kind: cmdQuit})
		s.log.Error().Dur("timeout", o.initTimeout).Msg("Engine initialization timed out")
		return nil, ErrInitTimeout
	}

	s.log.Info().Str("dir", dir).Str("delivery", desc.Delivery.String()).Msg("Session started")
	return s, nil
}

func (s *Session) ID() string      { return s.id }
func (s *Session) Backend() string { return s.desc.Name }

// Close stops synthesis, shuts the engine down on its worker and waits for
// the worker to exit. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancelToken.Add(1)
		s.signalStop()
		s.cmds.clear()
		s.cmds.push(command{kind: cmdQuit})
		s.wg.Wait()
		s.log.Info().Msg("Session closed")
	})
	return nil
}

// Speak cancels whatever is queued or playing and schedules text. Text is
// expected in UTF-8. Engines with a legacy charset also accept text already
// encoded in that charset.
func (s *Session) Speak(text string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	snapshot := s.cancelToken.Add(1)
	s.signalStop()
	s.cmds.push(command{kind: cmdSpeak, snapshot: snapshot, text: text})
	return nil
}

// Stop cancels all pending and in-flight speech and discards buffered
// output. Nothing from the cancelled generations is readable afterwards.
func (s *Session) Stop() error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.cancelToken.Add(1)
	s.signalStop()
	s.cmds.clear()
	s.queue.Reset()
	s.adapter.Deactivate()
	return nil
}

// Read copies the next piece of output into buf. For audio, n is the number
// of bytes copied. For markers, value carries the index or error code.
// KindNone means nothing is available right now.
func (s *Session) Read(buf []byte) (n int, kind stream.Kind, value int) {
	if s.closed.Load() {
		return 0, stream.KindNone, 0
	}
	return s.queue.Pull(buf)
}

// SetVariant selects a voice variant for subsequent utterances.
func (s *Session) SetVariant(id int) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.params.variant.set(id)
	return nil
}

// SetVoice selects a language or voice. It is ignored by engines with a
// single voice.
func (s *Session) SetVoice(id int) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.multiVoice.Load() {
		s.params.voice.set(id)
	}
	return nil
}

// SetQualityParam sets voice quality parameter id (1 to QualityParams) for
// subsequent utterances.
func (s *Session) SetQualityParam(id, value int) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if !validQualityParam(id) {
		return fmt.Errorf("%w: %d", ErrInvalidParam, id)
	}
	s.params.quality[id].set(value)
	return nil
}

// QualityParam returns the last requested or engine-reported value of id.
func (s *Session) QualityParam(id int) (int, error) {
	if !validQualityParam(id) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidParam, id)
	}
	return s.params.quality[id].get(), nil
}

// SetRate sets the playback rate in percent and returns the clamped value.
// It applies to audio processed from now on, including the current utterance.
func (s *Session) SetRate(percent int) int {
	return s.proc.SetRate(percent)
}

func (s *Session) Rate() int { return s.proc.Rate() }

// Format returns the PCM layout of the stream.
func (s *Session) Format() (audio.Format, error) {
	f, ok := s.proc.Format()
	if !ok {
		return audio.Format{}, ErrFormatUnknown
	}
	return f, nil
}

// LoadDictionary loads custom pronunciation dictionaries. It runs on the
// worker between utterances.
func (s *Session) LoadDictionary(ctx context.Context, mainPath, rootPath string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	errc := make(chan error, 1)
	call := func(eng engine.Engine) {
		d, ok := eng.(engine.Dictionaries)
		if !ok {
			errc <- engine.ErrNotSupported
			return
		}
		errc <- d.LoadDictionary(mainPath, rootPath)
	}

	select {
	case s.calls <- call:
	case <-s.exited:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Audio implements capture.Observer to time the first chunk of each
// utterance.
func (s *Session) Audio(gen uint64, _ int) {
	if gen != 0 && s.latencyGen.CompareAndSwap(gen, 0) {
		start := time.Unix(0, s.latencyStart.Load())
		s.m.ObserveFirstAudioLatency(time.Since(start))
	}
}

func (s *Session) signalStop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Session) drainStop() {
	select {
	case <-s.stop:
	default:
	}
}
