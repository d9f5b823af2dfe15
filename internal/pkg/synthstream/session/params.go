package session

import (
	"sync/atomic"

	"github.com/rs/zerolog"

	"synthstream/internal/pkg/synthstream/engine"
)

// QualityParams is the number of voice quality parameters, numbered from 1.
const QualityParams = 7

// param is written from any goroutine and applied by the worker. The value
// is stored before the dirty flag is raised, and the worker clears the flag
// before loading the value, so an update is never lost: at worst it is
// applied twice.
type param struct {
	value atomic.Int64
	dirty atomic.Bool
}

func (p *param) set(v int) {
	p.value.Store(int64(v))
	p.dirty.Store(true)
}

// seed records the engine's own value without scheduling an update.
func (p *param) seed(v int) {
	p.value.Store(int64(v))
}

func (p *param) get() int {
	return int(p.value.Load())
}

func (p *param) take() (int, bool) {
	if !p.dirty.Swap(false) {
		return 0, false
	}
	return int(p.value.Load()), true
}

type paramSet struct {
	voice   param
	variant param
	quality [QualityParams + 1]param

	// Worker-owned.
	appliedVoice   int
	appliedVariant int
}

func validQualityParam(id int) bool {
	return id >= 1 && id <= QualityParams
}

// seed loads the engine's starting values.
func (ps *paramSet) seed(eng engine.Engine, log zerolog.Logger) {
	for id := 1; id <= QualityParams; id++ {
		v, err := eng.VoiceParam(id)
		if err != nil {
			log.Debug().Err(err).Int("param", id).Msg("Voice param not readable")
			continue
		}
		ps.quality[id].seed(v)
	}
	if vs, ok := eng.(engine.VoiceSelector); ok {
		if v, err := vs.Voice(); err == nil {
			ps.voice.seed(v)
			ps.appliedVoice = v
		}
	}
}

// apply pushes dirty parameters to the engine. Variant selection can reset
// quality parameters, so those go last.
func (ps *paramSet) apply(eng engine.Engine, log zerolog.Logger) {
	if vs, ok := eng.(engine.VoiceSelector); ok {
		if v, dirty := ps.voice.take(); dirty && v != ps.appliedVoice {
			if err := vs.SetVoice(v); err != nil {
				log.Warn().Err(err).Int("voice", v).Msg("Failed to set voice")
			} else {
				ps.appliedVoice = v
			}
		}
	}

	if v, dirty := ps.variant.take(); dirty && v != ps.appliedVariant {
		if err := eng.SetVariant(v); err != nil {
			log.Warn().Err(err).Int("variant", v).Msg("Failed to set variant")
		} else {
			ps.appliedVariant = v
		}
	}

	for id := 1; id <= QualityParams; id++ {
		v, dirty := ps.quality[id].take()
		if !dirty {
			continue
		}
		if err := eng.SetVoiceParam(id, v); err != nil {
			log.Warn().Err(err).Int("param", id).Int("value", v).Msg("Failed to set voice param")
		}
	}
}
