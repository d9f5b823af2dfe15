package session

import (
	"fmt"
	"time"

	"synthstream/internal/pkg/synthstream/capture"
	"synthstream/internal/pkg/synthstream/engine"
	"synthstream/internal/pkg/synthstream/metrics"
	"synthstream/internal/pkg/synthstream/preprocess"
	"synthstream/internal/pkg/synthstream/stream"
)

// worker is the state owned by the engine goroutine.
type worker struct {
	s         *Session
	eng       engine.Engine
	installer engine.Installer
	pre       *preprocess.Preprocessor
	pumper    engine.Pumper
}

func (s *Session) run(ready chan<- error) {
	defer close(s.exited)

	w, err := s.startEngine()
	if err != nil {
		ready <- err
		return
	}
	ready <- nil

	w.loop()
	w.shutdown()
}

func (s *Session) startEngine() (*worker, error) {
	w := &worker{s: s}

	if s.desc.Delivery == engine.DeliveryIntercept {
		inst := s.opts.installer
		if inst == nil && s.desc.Installer != nil {
			var err error
			if inst, err = s.desc.Installer(s.dir); err != nil {
				return nil, fmt.Errorf("device installer: %w", err)
			}
		}
		if inst == nil {
			return nil, fmt.Errorf("%s: no device installer: %w", s.desc.Name, engine.ErrUnsupportedEngine)
		}

		// Hooks go in before the engine exists so its first device open
		// is already captured.
		ic := capture.NewInterceptor(s.adapter)
		orig, err := inst.Install(ic)
		if err != nil {
			return nil, fmt.Errorf("install device hooks: %w", err)
		}
		ic.SetOriginal(orig)
		w.installer = inst
	}

	eng, err := s.desc.New(engine.Config{
		Dir:     s.dir,
		Backend: s.desc.Name,
		Logger:  s.opts.logger.With().Str("backend", s.desc.Name).Logger(),
	})
	if err != nil {
		w.uninstall()
		return nil, err
	}
	w.eng = eng

	info := eng.Info()
	if info.Format.Valid() {
		s.adapter.SetFormat(info.Format)
	}

	cb := capture.NewCallback(s.adapter, info.Delivery == engine.DeliveryCallback)
	if err := eng.RegisterCallback(cb.Handle); err != nil {
		w.closeEngine()
		return nil, fmt.Errorf("register callback: %w", err)
	}
	if info.Delivery == engine.DeliveryCallback {
		if bo, ok := eng.(engine.BufferedOutput); ok {
			if err := bo.SetOutputBuffer(cb.Buffer()); err != nil {
				w.closeEngine()
				return nil, fmt.Errorf("set output buffer: %w", err)
			}
		}
	}

	s.params.seed(eng, s.log)
	if _, ok := eng.(engine.VoiceSelector); ok {
		s.multiVoice.Store(true)
	}
	if p, ok := eng.(engine.Pumper); ok {
		w.pumper = p
	}
	w.pre = preprocess.NewPreprocessor(info.Text)

	s.log.Debug().
		Str("engine", info.Name).
		Str("format", info.Format.String()).
		Msg("Engine initialized")
	return w, nil
}

func (w *worker) loop() {
	s := w.s
	var pending <-chan struct{}
	if w.pumper != nil {
		pending = w.pumper.Pending()
	}

	for {
		w.pump()

		cmd, ok := s.cmds.pop()
		if !ok {
			select {
			case <-s.cmds.wake:
			case call := <-s.calls:
				call(w.eng)
			case <-pending:
			}
			continue
		}

		if cmd.kind == cmdQuit {
			return
		}
		w.speak(cmd)
	}
}

func (w *worker) pump() {
	if w.pumper != nil {
		w.pumper.Pump()
	}
}

func (w *worker) speak(cmd command) {
	s := w.s
	if cmd.snapshot != s.cancelToken.Load() {
		s.m.Superseded.Inc()
		return
	}

	g := s.generations.Add(1)
	s.drainStop()
	s.adapter.DrainDone()
	s.proc.Begin()
	s.queue.Begin(g)
	s.adapter.Activate(g)

	// A Speak or Stop may have landed between dequeue and opening the gate.
	if cmd.snapshot != s.cancelToken.Load() {
		s.adapter.Deactivate()
		s.queue.Abandon(g)
		s.m.Superseded.Inc()
		return
	}

	log := s.log.With().Uint64("generation", g).Logger()
	s.params.apply(w.eng, log)

	var text []byte
	if cmd.text != "" {
		text = w.pre.Process(cmd.text)
	}
	if len(text) == 0 {
		w.finish(g, metrics.OutcomeEmpty)
		return
	}

	s.latencyStart.Store(time.Now().UnixNano())
	s.latencyGen.Store(g)

	var outcome string
	err := w.eng.AddText(text)
	if err == nil {
		err = w.eng.Synthesize()
	}
	if err != nil {
		log.Warn().Err(err).Msg("Synthesis failed")
		s.m.EngineErrors.Inc()
		s.adapter.Marker(stream.KindError, g, engine.Code(err))
		outcome = metrics.OutcomeFailed
	} else {
		outcome = w.wait(g)
	}

	if outcome != metrics.OutcomeCompleted || cmd.snapshot != s.cancelToken.Load() {
		if err := w.eng.Stop(); err != nil {
			log.Debug().Err(err).Msg("Engine stop failed")
		}
	}
	s.adapter.Flush(g)
	w.finish(g, outcome)

	log.Debug().Str("outcome", outcome).Msg("Utterance finished")
}

// wait blocks until generation g completes, is stopped or times out.
func (w *worker) wait(g uint64) string {
	s := w.s
	timer := time.NewTimer(s.opts.utteranceTimeout)
	defer timer.Stop()

	var pending <-chan struct{}
	if w.pumper != nil {
		pending = w.pumper.Pending()
	}

	for {
		select {
		case <-s.adapter.Done():
			if s.adapter.IsDone(g) {
				return metrics.OutcomeCompleted
			}
		case <-s.stop:
			return metrics.OutcomeStopped
		case <-timer.C:
			s.log.Warn().
				Uint64("generation", g).
				Dur("timeout", s.opts.utteranceTimeout).
				Msg("Utterance timed out")
			return metrics.OutcomeTimeout
		case <-pending:
			w.pump()
		}
	}
}

// finish closes the producer gate and ends generation g with a Done marker.
// The marker is dropped if g was already made unreadable.
func (w *worker) finish(g uint64, outcome string) {
	s := w.s
	s.latencyGen.CompareAndSwap(g, 0)
	s.adapter.Deactivate()
	s.queue.PushMarker(stream.KindDone, g, 0)
	s.m.Utterance(outcome)
}

func (w *worker) shutdown() {
	s := w.s
	s.adapter.Deactivate()
	s.queue.Reset()
	if err := w.eng.Stop(); err != nil {
		s.log.Debug().Err(err).Msg("Engine stop failed")
	}
	w.closeEngine()
}

func (w *worker) closeEngine() {
	if w.eng != nil {
		if err := w.eng.Close(); err != nil {
			w.s.log.Warn().Err(err).Msg("Engine close failed")
		}
		w.eng = nil
	}
	w.uninstall()
}

func (w *worker) uninstall() {
	if w.installer == nil {
		return
	}
	if err := w.installer.Uninstall(); err != nil {
		w.s.log.Warn().Err(err).Msg("Failed to remove device hooks")
	}
	w.installer = nil
}
