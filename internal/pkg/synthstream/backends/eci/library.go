// Package eci drives ETI-Eloquence style engines through their ECI entry
// points. The entry points themselves come from a Loader.
package eci

import (
	"fmt"
	"sync"

	"synthstream/internal/pkg/synthstream/engine"
)

// Version selects an engine generation.
type Version string

const (
	V33 Version = "3.3"
	V20 Version = "2.0"
)

// Handle is an engine instance handle. Zero is no instance.
type Handle uintptr

// Library is the set of entry points every supported engine exports.
// Boolean results report success.
type Library interface {
	New() Handle
	Delete(h Handle)
	RegisterCallback(h Handle, cb engine.Callback) bool
	// SetParam returns the previous value, or -1 on failure.
	SetParam(h Handle, param, value int) int
	GetParam(h Handle, param int) int
	// SetVoiceParam returns the previous value, or -1 on failure.
	SetVoiceParam(h Handle, voice, param, value int) int
	CopyVoice(h Handle, variant int) bool
	AddText(h Handle, text []byte) bool
	Synthesize(h Handle) bool
	Stop(h Handle) bool
	// Close unloads the library.
	Close() error
}

// Licenser libraries must be unlocked before New succeeds.
type Licenser interface {
	RequestLicense(key int32)
}

type VoiceParamReader interface {
	GetVoiceParam(h Handle, voice, param int) int
}

type SpeakingProbe interface {
	Speaking(h Handle) bool
}

// DictionaryLibrary libraries support user pronunciation dictionaries.
// Dictionary handles are non-negative.
type DictionaryLibrary interface {
	NewDict(h Handle) int
	SetDict(h Handle, dict int) bool
	LoadDict(h Handle, dict, volume int, path string) bool
}

type DeviceSelector interface {
	SetOutputDevice(h Handle, device int) bool
}

// OutputRedirector libraries can render into a caller buffer instead of a
// device.
type OutputRedirector interface {
	SetOutputBuffer(h Handle, samples int, buf []byte) bool
}

// MessagePump libraries deliver callbacks from an event queue that has to
// be serviced on the goroutine that created the instance.
type MessagePump interface {
	Pending() <-chan struct{}
	Pump()
}

// StatusReporter libraries expose the status of the last failed call.
type StatusReporter interface {
	ProgStatus(h Handle) int
}

// DeviceHooker libraries let the output device primitives they call be
// replaced. HookDevice returns the primitives it displaced.
type DeviceHooker interface {
	HookDevice(hooks engine.Device) (engine.Device, error)
	UnhookDevice() error
}

// Loader resolves the entry points of the engine installed in dir.
type Loader func(dir string, v Version) (Library, error)

// Unavailable is a Loader for builds without native loading.
func Unavailable(_ string, v Version) (Library, error) {
	return nil, fmt.Errorf("eci %s: no native loader in this build: %w", v, engine.ErrUnsupportedEngine)
}

type cachedLibrary struct {
	lib  Library
	refs int
}

// libraryCache shares one loaded library between the device installer and
// the engine created after it.
type libraryCache struct {
	mu      sync.Mutex
	entries map[string]*cachedLibrary
}

func newLibraryCache() *libraryCache {
	return &libraryCache{entries: make(map[string]*cachedLibrary)}
}

func (c *libraryCache) acquire(load Loader, dir string, v Version) (Library, func(), error) {
	key := string(v) + "|" + dir

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		lib, err := load(dir, v)
		if err != nil {
			return nil, nil, fmt.Errorf("eci %s: %w: %w", v, engine.ErrUnsupportedEngine, err)
		}
		entry = &cachedLibrary{lib: lib}
		c.entries[key] = entry
	}
	entry.refs++

	var once sync.Once
	release := func() {
		once.Do(func() { c.release(key) })
	}
	return entry.lib, release, nil
}

func (c *libraryCache) release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs > 0 {
		return
	}
	delete(c.entries, key)
	_ = entry.lib.Close()
}
