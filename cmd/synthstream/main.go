package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"synthstream/internal/pkg/synthstream/audio"
	"synthstream/internal/pkg/synthstream/backends/eci"
	"synthstream/internal/pkg/synthstream/config"
	"synthstream/internal/pkg/synthstream/engine"
	"synthstream/internal/pkg/synthstream/metrics"
	"synthstream/internal/pkg/synthstream/session"
	"synthstream/internal/pkg/synthstream/stream"

	_ "synthstream/internal/pkg/synthstream/backends/neural"
)

const pollInterval = 5 * time.Millisecond

func main() {
	fmt.Fprintf(os.Stderr, "synthstream %s\n", Version)

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	eci.Register(eci.Unavailable)

	cfg, err := config.LoadAndParse(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal().Err(err).Msg("Failed to parse configuration")
	}

	if err := setupLogging(cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to setup logging")
	}

	if cfg.ListBackends {
		fmt.Fprintf(os.Stderr, "Registered backends:\n")
		for _, name := range engine.ListBackends() {
			fmt.Fprintf(os.Stderr, "  %s\n", name)
		}
		return
	}

	log.Debug().
		Str("engine_dir", cfg.EngineDir).
		Str("backend", cfg.Backend).
		Int("rate", cfg.Rate).
		Str("config_file", cfg.ConfigFile()).
		Msg("Configuration loaded")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New("synthstream", reg)
	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg)
		defer srv.Shutdown(context.Background())
	}

	log.Info().Str("dir", cfg.EngineDir).Msg("Opening synthesis session...")
	s, err := session.Open(cfg.EngineDir,
		session.WithLogger(log.Logger),
		session.WithBackend(cfg.Backend),
		session.WithInitTimeout(cfg.InitTimeout),
		session.WithUtteranceTimeout(cfg.UtteranceTimeout),
		session.WithQueueLimits(stream.Limits{MaxBytes: cfg.QueueMaxBytes, MaxItems: cfg.QueueMaxItems}),
		session.WithTrimSilence(cfg.TrimSilence),
		session.WithMetrics(m),
	)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.EngineDir).Msg("Failed to open session")
	}
	defer s.Close()

	log.Info().Str("backend", s.Backend()).Str("session", s.ID()).Msg("Session ready")

	applySettings(s, cfg)

	if cfg.DictMain != "" || cfg.DictRoot != "" {
		if err := s.LoadDictionary(ctx, cfg.DictMain, cfg.DictRoot); err != nil {
			log.Warn().Err(err).Msg("Failed to load dictionaries")
		}
	}

	if cfg.Watch {
		err := cfg.OnChange(func(next *config.Config) {
			log.Info().Msg("Config file changed, re-applying voice settings")
			applySettings(s, next)
		}, func(err error) {
			log.Warn().Err(err).Msg("Ignoring invalid config change")
		})
		if err != nil {
			log.Warn().Err(err).Msg("Config watch not started")
		}
	}

	if cfg.Interactive {
		err = runInteractive(ctx, s, cfg.Output)
	} else {
		err = speakToFile(ctx, s, cfg.Text, cfg.Output)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("Synthesis failed")
	}
}

func applySettings(s *session.Session, cfg *config.Config) {
	if got := s.SetRate(cfg.Rate); got != cfg.Rate {
		log.Warn().Int("requested", cfg.Rate).Int("rate", got).Msg("Rate clamped")
	}
	if err := s.SetVariant(cfg.Variant); err != nil {
		log.Warn().Err(err).Msg("Failed to set variant")
	}
	if err := s.SetVoice(cfg.Voice); err != nil {
		log.Warn().Err(err).Msg("Failed to set voice")
	}
	params, err := cfg.QualityParams()
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring voice parameters")
		return
	}
	for id, value := range params {
		if err := s.SetQualityParam(id, value); err != nil {
			log.Warn().Err(err).Int("param", id).Msg("Failed to set voice parameter")
		}
	}
}

func speakToFile(ctx context.Context, s *session.Session, text, output string) error {
	log.Info().Str("text", truncateText(text, 50)).Msg("Generating speech...")
	startTime := time.Now()

	if err := s.Speak(text); err != nil {
		return err
	}
	pcm, _, err := collect(ctx, s, nil)
	if err != nil {
		return err
	}

	return save(s, output, pcm, time.Since(startTime))
}

// runInteractive speaks each stdin line into its own numbered file. A line
// that arrives while the previous one is still being synthesized cuts it
// short.
func runInteractive(ctx context.Context, s *session.Session, output string) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	base := strings.TrimSuffix(output, ".wav")
	n := 0
	var next string
	pending := false
	for {
		if !pending {
			select {
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				next = line
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if strings.TrimSpace(next) == "" {
			pending = false
			continue
		}

		// Stop first so nothing of the previous utterance, its Done
		// included, is still readable.
		if err := s.Stop(); err != nil {
			return err
		}
		n++
		startTime := time.Now()
		if err := s.Speak(next); err != nil {
			return err
		}

		pcm, interrupted, err := collect(ctx, s, lines)
		if err != nil {
			return err
		}
		path := fmt.Sprintf("%s-%03d.wav", base, n)
		if len(pcm) > 0 {
			if err := save(s, path, pcm, time.Since(startTime)); err != nil {
				return err
			}
		}
		next, pending = interrupted.text, interrupted.ok
		if interrupted.closed {
			return nil
		}
	}
}

type interruption struct {
	text   string
	ok     bool
	closed bool
}

// collect reads the session until the utterance's Done item. A line received
// on interrupt ends collection early.
func collect(ctx context.Context, s *session.Session, interrupt <-chan string) ([]byte, interruption, error) {
	var pcm []byte
	buf := make([]byte, 64*1024)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		n, kind, value := s.Read(buf)
		switch kind {
		case stream.KindAudio:
			pcm = append(pcm, buf[:n]...)
			continue
		case stream.KindIndex:
			log.Debug().Int("index", value).Msg("Index reached")
			continue
		case stream.KindError:
			log.Warn().Int("code", value).Msg("Engine reported an error")
			continue
		case stream.KindDone:
			return pcm, interruption{}, nil
		}

		select {
		case <-ctx.Done():
			return pcm, interruption{}, ctx.Err()
		case line, ok := <-interrupt:
			if !ok {
				// Input ended; finish the current utterance.
				pcmRest, _, err := collect(ctx, s, nil)
				return append(pcm, pcmRest...), interruption{closed: true}, err
			}
			log.Info().Msg("Superseded by new input")
			return pcm, interruption{text: line, ok: true}, nil
		case <-ticker.C:
		}
	}
}

func save(s *session.Session, path string, pcm []byte, elapsed time.Duration) error {
	format, err := s.Format()
	if err != nil {
		return err
	}
	if err := audio.SaveWAV(path, format, pcm); err != nil {
		return fmt.Errorf("failed to save audio: %w", err)
	}
	log.Info().
		Str("output", path).
		Dur("elapsed", elapsed).
		Float64("duration_sec", format.Duration(len(pcm))).
		Msg("Audio saved successfully")
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")
	return srv
}

func setupLogging(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
		return nil
	}

	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}

func truncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
