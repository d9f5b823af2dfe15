// Package neural runs an ONNX text-to-speech model as a callback-delivery
// engine.
package neural

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"

	"synthstream/internal/pkg/synthstream/audio"
	"synthstream/internal/pkg/synthstream/engine"
	"synthstream/internal/pkg/synthstream/preprocess"
)

const Name = "neural"

// SampleRate is the model's output rate.
const SampleRate = 24000

var Format = audio.Format{SampleRate: SampleRate, BitsPerSample: 16, Channels: 1}

// Voice quality parameters, numbered as the ECI families number theirs.
const (
	paramSpeed  = 6
	paramVolume = 7
)

// Defaults match the ECI ranges so settings carry over between families.
var defaultParams = [8]int{0, 50, 65, 30, 0, 50, 50, 90}

func init() {
	engine.Register(engine.Descriptor{
		Name:     Name,
		Delivery: engine.DeliveryCallback,
		Priority: 0,
		Probe:    Probe,
		New: func(cfg engine.Config) (engine.Engine, error) {
			e, err := New(cfg)
			if err != nil {
				return nil, err
			}
			return e, nil
		},
	})
}

// Probe reports whether dir holds a model and its token table.
func Probe(dir string) bool {
	for _, name := range []string{"model.onnx", "tokens.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

type inferFunc func(tokens []int64, style []float32, speed float32) ([]float32, error)

type Engine struct {
	session   *ort.DynamicAdvancedSession
	infer     inferFunc
	tokenizer *Tokenizer
	voices    []string
	voice     *voice
	log       zerolog.Logger

	cb      engine.Callback
	buf     []byte
	text    []byte
	params  [8]int
	variant int
	stopped atomic.Bool
}

var (
	_ engine.Engine         = (*Engine)(nil)
	_ engine.BufferedOutput = (*Engine)(nil)
)

// New loads the model in cfg.Dir.
func New(cfg engine.Config) (*Engine, error) {
	tokenizer, err := LoadTokenizer(filepath.Join(cfg.Dir, "tokens.txt"))
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}
	voices := voicePaths(cfg.Dir)
	if len(voices) == 0 {
		return nil, fmt.Errorf("no voice.bin or voices/*.bin in %s", cfg.Dir)
	}
	v, err := loadVoice(voices[0])
	if err != nil {
		return nil, err
	}

	if err := acquireRuntime(); err != nil {
		return nil, err
	}
	session, err := ort.NewDynamicAdvancedSession(
		filepath.Join(cfg.Dir, "model.onnx"),
		[]string{"tokens", "style", "speed"},
		[]string{"audio"},
		nil,
	)
	if err != nil {
		releaseRuntime()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	e := newEngine(tokenizer, voices, v, cfg.Logger)
	e.session = session
	e.infer = e.run
	return e, nil
}

func newEngine(tokenizer *Tokenizer, voices []string, v *voice, log zerolog.Logger) *Engine {
	return &Engine{
		tokenizer: tokenizer,
		voices:    voices,
		voice:     v,
		log:       log.With().Str("engine", Name).Logger(),
		params:    defaultParams,
	}
}

func (e *Engine) Info() engine.Info {
	return engine.Info{
		Name:     Name,
		Delivery: engine.DeliveryCallback,
		Format:   Format,
		Text:     preprocess.Options{Expand: true},
	}
}

func (e *Engine) RegisterCallback(cb engine.Callback) error {
	e.cb = cb
	return nil
}

func (e *Engine) SetOutputBuffer(buf []byte) error {
	if len(buf) < 2 {
		return fmt.Errorf("output buffer too small: %d bytes", len(buf))
	}
	e.buf = buf
	return nil
}

// SetVariant switches to the id-th installed voice.
func (e *Engine) SetVariant(id int) error {
	if id < 0 || id >= len(e.voices) {
		return fmt.Errorf("variant %d: %d voices installed: %w", id, len(e.voices), engine.ErrNotSupported)
	}
	v, err := loadVoice(e.voices[id])
	if err != nil {
		return err
	}
	e.voice = v
	e.variant = id
	return nil
}

func (e *Engine) SetVoiceParam(id, value int) error {
	if id < 1 || id >= len(e.params) {
		return engine.ErrNotSupported
	}
	e.params[id] = value
	return nil
}

func (e *Engine) VoiceParam(id int) (int, error) {
	if id < 1 || id >= len(e.params) {
		return 0, engine.ErrNotSupported
	}
	return e.params[id], nil
}

func (e *Engine) AddText(text []byte) error {
	e.text = append(e.text, text...)
	return nil
}

// speed maps parameter 6 (50 is normal) onto the model's speed input.
func (e *Engine) speed() float32 {
	return min(max(float32(e.params[paramSpeed])/50, 0.5), 2)
}

// gain maps parameter 7 (90 is unity).
func (e *Engine) gain() float32 {
	return min(max(float32(e.params[paramVolume])/90, 0), 1.5)
}

// Synthesize runs the model and hands the result to the callback in
// buffer-sized pieces, then signals completion with an empty buffer.
func (e *Engine) Synthesize() error {
	text := string(e.text)
	e.text = e.text[:0]
	e.stopped.Store(false)

	if e.cb == nil || e.buf == nil {
		return fmt.Errorf("callback or output buffer not registered")
	}

	tokens := e.tokenizer.Encode(text)
	if len(tokens) > 2 {
		samples, err := e.infer(tokens, e.voice.style(len(tokens)), e.speed())
		if err != nil {
			e.log.Warn().Err(err).Int("tokens", len(tokens)).Msg("Inference failed")
			return &engine.StatusError{Op: "inference", Code: 1}
		}
		pcm := toPCM16(samples, e.gain())
		for off := 0; off < len(pcm); {
			if e.stopped.Load() {
				return nil
			}
			n := copy(e.buf, pcm[off:])
			off += n
			if e.cb(engine.MsgWaveformBuffer, n/2) == engine.DataAbort {
				e.log.Debug().Msg("Synthesis aborted by consumer")
				return nil
			}
		}
	}
	e.cb(engine.MsgWaveformBuffer, 0)
	return nil
}

func (e *Engine) Stop() error {
	e.stopped.Store(true)
	e.text = e.text[:0]
	return nil
}

func (e *Engine) Close() error {
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	if rerr := releaseRuntime(); err == nil {
		err = rerr
	}
	return err
}

func (e *Engine) run(tokens []int64, style []float32, speed float32) ([]float32, error) {
	tokenTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(tokens))), tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokens tensor: %w", err)
	}
	defer tokenTensor.Destroy()

	styleTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(style))), style)
	if err != nil {
		return nil, fmt.Errorf("failed to create style tensor: %w", err)
	}
	defer styleTensor.Destroy()

	speedTensor, err := ort.NewTensor(ort.NewShape(1), []float32{speed})
	if err != nil {
		return nil, fmt.Errorf("failed to create speed tensor: %w", err)
	}
	defer speedTensor.Destroy()

	outputs := make([]ort.Value, 1)
	if err := e.session.Run([]ort.Value{tokenTensor, styleTensor, speedTensor}, outputs); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("no output from model")
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output tensor type")
	}
	// GetData aliases tensor memory that Destroy frees.
	return append([]float32(nil), out.GetData()...), nil
}
