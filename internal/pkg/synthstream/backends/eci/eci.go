package eci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"

	"synthstream/internal/pkg/synthstream/audio"
	"synthstream/internal/pkg/synthstream/engine"
	"synthstream/internal/pkg/synthstream/preprocess"
)

const (
	Name33 = "eci-3.3"
	Name20 = "eci-2.0"

	paramSynthMode = 1
	paramLanguage  = 9

	licenseMask = 0x39AB43F2

	primeInterval = 5 * time.Millisecond
)

// Format33 is the fixed output format of the 3.3 family.
var Format33 = audio.Format{SampleRate: 11025, BitsPerSample: 16, Channels: 1}

var licenseOffsets = []int64{0, 3600, -3600}

// Replaced in tests.
var (
	clock      = time.Now
	primeLimit = 5 * time.Second
)

// Register adds both ECI families to the engine registry.
func Register(load Loader) {
	for _, d := range Descriptors(load) {
		engine.Register(d)
	}
}

// Descriptors returns the ECI families backed by load. Both share one
// library cache.
func Descriptors(load Loader) []engine.Descriptor {
	cache := newLibraryCache()
	return []engine.Descriptor{
		{
			Name:     Name20,
			Delivery: engine.DeliveryIntercept,
			Priority: 20,
			Probe:    func(dir string) bool { return hasFile(dir, "ENGSYN32.DLL") },
			New: func(cfg engine.Config) (engine.Engine, error) {
				e, err := newEngine20(cache, load, cfg)
				if err != nil {
					return nil, err
				}
				return e, nil
			},
			Installer: func(dir string) (engine.Installer, error) {
				d, err := newDeviceHooks(cache, load, dir)
				if err != nil {
					return nil, err
				}
				return d, nil
			},
		},
		{
			Name:     Name33,
			Delivery: engine.DeliveryCallback,
			Priority: 10,
			Probe:    func(dir string) bool { return hasExt(dir, ".SYN") },
			New: func(cfg engine.Config) (engine.Engine, error) {
				e, err := newEngine33(cache, load, cfg)
				if err != nil {
					return nil, err
				}
				return e, nil
			},
		},
	}
}

func hasFile(dir, name string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), name) {
			return true
		}
	}
	return false
}

func hasExt(dir, ext string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ext) {
			return true
		}
	}
	return false
}

// licenseKey derives the unlock key for a wall clock time in seconds.
func licenseKey(unix int64) int32 {
	return int32(uint32(unix) ^ licenseMask)
}

// base holds what both generations share.
type base struct {
	lib     Library
	release func()
	h       Handle
	log     zerolog.Logger
	info    engine.Info
}

func (e *base) fail(op string) error {
	code := -1
	if sr, ok := e.lib.(StatusReporter); ok {
		code = sr.ProgStatus(e.h)
	}
	return &engine.StatusError{Op: op, Code: code}
}

func (e *base) Info() engine.Info { return e.info }

func (e *base) RegisterCallback(cb engine.Callback) error {
	if !e.lib.RegisterCallback(e.h, cb) {
		return e.fail("eciRegisterCallback")
	}
	return nil
}

func (e *base) SetVariant(id int) error {
	if !e.lib.CopyVoice(e.h, id) {
		return e.fail("eciCopyVoice")
	}
	return nil
}

func (e *base) SetVoiceParam(id, value int) error {
	if e.lib.SetVoiceParam(e.h, 0, id, value) < 0 {
		return e.fail("eciSetVoiceParam")
	}
	return nil
}

func (e *base) VoiceParam(id int) (int, error) {
	r, ok := e.lib.(VoiceParamReader)
	if !ok {
		return 0, engine.ErrNotSupported
	}
	return r.GetVoiceParam(e.h, 0, id), nil
}

func (e *base) AddText(text []byte) error {
	if !e.lib.AddText(e.h, text) {
		return e.fail("eciAddText")
	}
	return nil
}

func (e *base) Synthesize() error {
	if !e.lib.Synthesize(e.h) {
		return e.fail("eciSynthesize")
	}
	return nil
}

func (e *base) Stop() error {
	if !e.lib.Stop(e.h) {
		return e.fail("eciStop")
	}
	return nil
}

func (e *base) Close() error {
	if e.h != 0 {
		e.lib.Delete(e.h)
		e.h = 0
	}
	if e.release != nil {
		e.release()
		e.release = nil
	}
	return nil
}

// Pending is nil for libraries without an event queue, which never fires.
func (e *base) Pending() <-chan struct{} {
	if mp, ok := e.lib.(MessagePump); ok {
		return mp.Pending()
	}
	return nil
}

func (e *base) Pump() {
	if mp, ok := e.lib.(MessagePump); ok {
		mp.Pump()
	}
}

// Engine33 renders into a shared buffer and reports through the callback.
type Engine33 struct {
	base
	dict int
}

var (
	_ engine.Engine         = (*Engine33)(nil)
	_ engine.BufferedOutput = (*Engine33)(nil)
	_ engine.VoiceSelector  = (*Engine33)(nil)
	_ engine.Dictionaries   = (*Engine33)(nil)
	_ engine.Pumper         = (*Engine33)(nil)
)

func newEngine33(cache *libraryCache, load Loader, cfg engine.Config) (*Engine33, error) {
	lib, release, err := cache.acquire(load, cfg.Dir, V33)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger.With().Str("eci", string(V33)).Logger()

	h := newLicensed(lib, log)
	if h == 0 {
		release()
		return nil, errors.New("eci 3.3: could not create an engine instance")
	}

	return &Engine33{
		base: base{
			lib:     lib,
			release: release,
			h:       h,
			log:     log,
			info: engine.Info{
				Name:     Name33,
				Delivery: engine.DeliveryCallback,
				Format:   Format33,
				Text: preprocess.Options{
					InlineCommands: true,
					CrashGuard:     true,
					Charset:        charmap.Windows1252,
				},
			},
		},
		dict: -1,
	}, nil
}

// newLicensed tries the unlock key for now and an hour either side to
// absorb clock skew, then an unlicensed instance.
func newLicensed(lib Library, log zerolog.Logger) Handle {
	if lic, ok := lib.(Licenser); ok {
		now := clock().Unix()
		for _, offset := range licenseOffsets {
			lic.RequestLicense(licenseKey(now + offset))
			if h := lib.New(); h != 0 {
				return h
			}
			log.Debug().Int64("offset", offset).Msg("License attempt rejected")
		}
		log.Warn().Msg("All license attempts failed, trying unlicensed instance")
	}
	return lib.New()
}

// SetOutputBuffer routes synthesis into buf and switches the engine from
// device playback to buffer mode.
func (e *Engine33) SetOutputBuffer(buf []byte) error {
	if r, ok := e.lib.(OutputRedirector); ok {
		if !r.SetOutputBuffer(e.h, len(buf)/2, buf) {
			return e.fail("eciSetOutputBuffer")
		}
	}
	if e.lib.SetParam(e.h, paramSynthMode, 1) < 0 {
		return e.fail("eciSetParam")
	}
	return nil
}

func (e *Engine33) SetVoice(id int) error {
	if e.lib.SetParam(e.h, paramLanguage, id) < 0 {
		return e.fail("eciSetParam")
	}
	return nil
}

func (e *Engine33) Voice() (int, error) {
	return e.lib.GetParam(e.h, paramLanguage), nil
}

// LoadDictionary creates and selects a dictionary on first use, then loads
// the given volumes into it. Empty paths are skipped.
func (e *Engine33) LoadDictionary(mainPath, rootPath string) error {
	dl, ok := e.lib.(DictionaryLibrary)
	if !ok {
		return engine.ErrNotSupported
	}
	if e.dict < 0 {
		d := dl.NewDict(e.h)
		if d < 0 {
			return e.fail("eciNewDict")
		}
		if !dl.SetDict(e.h, d) {
			return e.fail("eciSetDict")
		}
		e.dict = d
	}
	for volume, path := range []string{mainPath, rootPath} {
		if path == "" {
			continue
		}
		if !dl.LoadDict(e.h, e.dict, volume, path) {
			return fmt.Errorf("load dictionary %s: %w", path, e.fail("eciLoadDict"))
		}
	}
	return nil
}

// Engine20 plays through the output device; its audio is captured by the
// device hooks installed before it is created.
type Engine20 struct {
	base
}

var (
	_ engine.Engine = (*Engine20)(nil)
	_ engine.Pumper = (*Engine20)(nil)
)

func newEngine20(cache *libraryCache, load Loader, cfg engine.Config) (*Engine20, error) {
	lib, release, err := cache.acquire(load, cfg.Dir, V20)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger.With().Str("eci", string(V20)).Logger()

	h := lib.New()
	if h == 0 {
		release()
		return nil, errors.New("eci 2.0: could not create an engine instance")
	}
	e := &Engine20{base: base{
		lib:     lib,
		release: release,
		h:       h,
		log:     log,
		info: engine.Info{
			Name:     Name20,
			Delivery: engine.DeliveryIntercept,
			Text: preprocess.Options{
				ASCIIOnly:  true,
				CrashGuard: true,
				Charset:    charmap.Windows1252,
			},
		},
	}}

	if ds, ok := lib.(DeviceSelector); ok && !ds.SetOutputDevice(h, 0) {
		log.Debug().Msg("Output device selection failed")
	}
	lib.SetParam(h, paramSynthMode, 1)
	e.prime()
	return e, nil
}

// prime runs a throwaway utterance; the engine sets up its output path on
// first use.
func (e *Engine20) prime() {
	e.lib.AddText(e.h, []byte(" "))
	e.lib.Synthesize(e.h)
	if sp, ok := e.lib.(SpeakingProbe); ok {
		err := engine.Poll(context.Background(), primeInterval, primeLimit, func() (bool, error) {
			return !sp.Speaking(e.h), nil
		})
		if err != nil {
			e.log.Warn().Err(err).Msg("Engine still speaking after priming")
		}
	}
	e.lib.Stop(e.h)
}

// deviceHooks installs the output device hooks of a 2.0 library.
type deviceHooks struct {
	hooker  DeviceHooker
	release func()
}

func newDeviceHooks(cache *libraryCache, load Loader, dir string) (*deviceHooks, error) {
	lib, release, err := cache.acquire(load, dir, V20)
	if err != nil {
		return nil, err
	}
	hooker, ok := lib.(DeviceHooker)
	if !ok {
		release()
		return nil, fmt.Errorf("eci 2.0: device hooks: %w", engine.ErrNotSupported)
	}
	return &deviceHooks{hooker: hooker, release: release}, nil
}

func (d *deviceHooks) Install(hooks engine.Device) (engine.Device, error) {
	return d.hooker.HookDevice(hooks)
}

func (d *deviceHooks) Uninstall() error {
	err := d.hooker.UnhookDevice()
	d.release()
	return err
}
