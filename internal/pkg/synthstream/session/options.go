package session

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"synthstream/internal/pkg/synthstream/engine"
	"synthstream/internal/pkg/synthstream/metrics"
	"synthstream/internal/pkg/synthstream/stream"
)

const (
	DefaultInitTimeout      = 10 * time.Second
	DefaultUtteranceTimeout = 2 * time.Minute
)

type options struct {
	logger           zerolog.Logger
	backend          string
	initTimeout      time.Duration
	utteranceTimeout time.Duration
	limits           stream.Limits
	trimSilence      bool
	metrics          *metrics.Metrics
	installer        engine.Installer
}

func defaultOptions() options {
	return options{
		logger:           log.Logger,
		initTimeout:      DefaultInitTimeout,
		utteranceTimeout: DefaultUtteranceTimeout,
		trimSilence:      true,
	}
}

// Option configures a Session.
type Option func(*options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBackend skips probing and uses the named engine family.
func WithBackend(name string) Option {
	return func(o *options) { o.backend = name }
}

// WithInitTimeout bounds how long Open waits for the engine to come up.
func WithInitTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.initTimeout = d
		}
	}
}

// WithUtteranceTimeout sets the per-utterance deadline after which the
// engine is forcibly stopped.
func WithUtteranceTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.utteranceTimeout = d
		}
	}
}

func WithQueueLimits(l stream.Limits) Option {
	return func(o *options) { o.limits = l }
}

// WithTrimSilence toggles capping of silent runs.
func WithTrimSilence(on bool) Option {
	return func(o *options) { o.trimSilence = on }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithInstaller overrides the device hook installer of intercept families.
func WithInstaller(i engine.Installer) Option {
	return func(o *options) { o.installer = i }
}
