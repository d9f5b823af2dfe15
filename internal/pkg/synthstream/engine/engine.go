package engine

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"synthstream/internal/pkg/synthstream/audio"
	"synthstream/internal/pkg/synthstream/preprocess"
)

var (
	// ErrUnsupportedEngine means no engine family could be stood up from a
	// directory: nothing matched, the binary is missing, or required entry
	// points could not be resolved.
	ErrUnsupportedEngine = errors.New("unsupported engine")
	// ErrNotSupported means the engine family lacks an optional capability.
	ErrNotSupported = errors.New("operation not supported by engine")
)

// Delivery is how an engine hands produced audio back to the process.
type Delivery int

const (
	// DeliveryCallback engines fill a registered buffer and invoke a callback.
	DeliveryCallback Delivery = iota
	// DeliveryIntercept engines write straight to an output device whose
	// primitives must be redirected.
	DeliveryIntercept
)

func (d Delivery) String() string {
	if d == DeliveryIntercept {
		return "intercept"
	}
	return "callback"
}

// Message codes passed to a Callback.
type Message int

const (
	MsgWaveformBuffer Message = 0
	MsgPhonemeBuffer  Message = 1
	MsgIndexReply     Message = 2
	MsgPhonemeIndex   Message = 3
)

// IndexDone is the MsgIndexReply length that marks the end of synthesis.
const IndexDone = 0xFFFF

// CallbackResult is returned from a Callback to the engine.
type CallbackResult int

const (
	DataNotProcessed CallbackResult = 0
	DataProcessed    CallbackResult = 1
	DataAbort        CallbackResult = 2
)

// Callback receives engine notifications. For MsgWaveformBuffer, length is
// the number of 16-bit samples written into the output buffer.
type Callback func(msg Message, length int) CallbackResult

// Info describes an engine family's fixed traits.
type Info struct {
	Name     string
	Delivery Delivery
	// Format is zero when it is only learned when the device is opened.
	Format audio.Format
	// Text is how utterances are normalized before AddText.
	Text preprocess.Options
}

// Engine is a single-threaded synthesis engine. Only one goroutine may call
// into an Engine at a time.
type Engine interface {
	Info() Info
	RegisterCallback(cb Callback) error
	SetVariant(id int) error
	SetVoiceParam(id, value int) error
	VoiceParam(id int) (int, error)
	AddText(text []byte) error
	Synthesize() error
	Stop() error
	Close() error
}

// BufferedOutput engines write audio into a caller-owned buffer before
// invoking the callback.
type BufferedOutput interface {
	SetOutputBuffer(buf []byte) error
}

// VoiceSelector engines carry several voices or languages.
type VoiceSelector interface {
	SetVoice(id int) error
	Voice() (int, error)
}

// Dictionaries engines accept custom pronunciation dictionaries.
type Dictionaries interface {
	LoadDictionary(mainPath, rootPath string) error
}

// Pumper engines need their event dispatch serviced on the owning goroutine.
// Pending fires when Pump has work to do.
type Pumper interface {
	Pending() <-chan struct{}
	Pump()
}

// Config is handed to a Factory.
type Config struct {
	Dir     string
	Backend string
	Logger  zerolog.Logger
}

// Factory creates an engine. It runs on the goroutine that will own it.
type Factory func(cfg Config) (Engine, error)

// StatusError carries a failing engine status code.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine: %s failed with status %d", e.Op, e.Code)
}

// Code extracts the engine status code from err, or -1.
func Code(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return -1
}
