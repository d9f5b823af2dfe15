package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrNoConfigFile is returned by OnChange when no config file was loaded.
var ErrNoConfigFile = errors.New("config: no config file to watch")

type Config struct {
	EngineDir        string         `mapstructure:"engine_dir"`
	Backend          string         `mapstructure:"backend"`
	Text             string         `mapstructure:"text"`
	Output           string         `mapstructure:"output"`
	Rate             int            `mapstructure:"rate"`
	Variant          int            `mapstructure:"variant"`
	Voice            int            `mapstructure:"voice"`
	Params           map[string]int `mapstructure:"params"`
	DictMain         string         `mapstructure:"dict_main"`
	DictRoot         string         `mapstructure:"dict_root"`
	InitTimeout      time.Duration  `mapstructure:"init_timeout"`
	UtteranceTimeout time.Duration  `mapstructure:"utterance_timeout"`
	QueueMaxBytes    int            `mapstructure:"queue_max_bytes"`
	QueueMaxItems    int            `mapstructure:"queue_max_items"`
	TrimSilence      bool           `mapstructure:"trim_silence"`
	LogLevel         string         `mapstructure:"log_level"`
	LogFile          string         `mapstructure:"log_file"`
	MetricsAddr      string         `mapstructure:"metrics_addr"`
	Watch            bool           `mapstructure:"watch"`
	Interactive      bool           `mapstructure:"interactive"`
	ListBackends     bool           `mapstructure:"list_backends"`

	v *viper.Viper
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine_dir", ".")
	v.SetDefault("backend", "")
	v.SetDefault("output", "output.wav")
	v.SetDefault("rate", 100)
	v.SetDefault("variant", 0)
	v.SetDefault("voice", 0)
	v.SetDefault("init_timeout", "10s")
	v.SetDefault("utterance_timeout", "2m")
	v.SetDefault("queue_max_bytes", 4<<20)
	v.SetDefault("queue_max_items", 8192)
	v.SetDefault("trim_silence", true)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("metrics_addr", "")
}

// LoadAndParse builds the configuration from defaults, the config file,
// SYNTHSTREAM_* environment variables and args, in increasing precedence.
func LoadAndParse(args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	flagSet := pflag.NewFlagSet("synthstream", pflag.ContinueOnError)
	configFile := flagSet.StringP("config", "c", "", "Path to config file")
	flagSet.StringP("engine-dir", "d", "", "Directory holding the engine installation")
	flagSet.StringP("backend", "b", "", "Engine family to use instead of probing")
	flagSet.StringP("text", "t", "", "Text to synthesize (use '-' to read from stdin)")
	flagSet.StringP("file", "f", "", "Read text from file")
	flagSet.StringP("output", "o", "", "Output WAV file")
	flagSet.IntP("rate", "r", 100, "Playback rate in percent (100-600)")
	flagSet.Int("variant", 0, "Voice variant")
	flagSet.Int("voice", 0, "Voice or language id")
	flagSet.StringToInt("param", nil, "Voice quality parameter as id=value (ids 1-7), repeatable")
	flagSet.String("dict-main", "", "Main pronunciation dictionary")
	flagSet.String("dict-root", "", "Root pronunciation dictionary")
	flagSet.Duration("init-timeout", 0, "Engine initialization timeout")
	flagSet.Duration("utterance-timeout", 0, "Per-utterance timeout")
	flagSet.Int("queue-max-bytes", 0, "Output queue audio byte cap")
	flagSet.Int("queue-max-items", 0, "Output queue item cap")
	flagSet.Bool("trim-silence", true, "Cap long silent runs")
	flagSet.StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	flagSet.String("log-file", "", "Log file path")
	flagSet.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	flagSet.Bool("watch", false, "Re-apply voice settings when the config file changes")
	flagSet.BoolP("interactive", "i", false, "Read utterances from stdin, one per line")
	flagSet.Bool("list-backends", false, "List registered engine families and exit")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: synthstream [options] [text]\n\nOptions:\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}

	bindings := map[string]string{
		"engine_dir":        "engine-dir",
		"backend":           "backend",
		"text":              "text",
		"output":            "output",
		"rate":              "rate",
		"variant":           "variant",
		"voice":             "voice",
		"params":            "param",
		"dict_main":         "dict-main",
		"dict_root":         "dict-root",
		"init_timeout":      "init-timeout",
		"utterance_timeout": "utterance-timeout",
		"queue_max_bytes":   "queue-max-bytes",
		"queue_max_items":   "queue-max-items",
		"trim_silence":      "trim-silence",
		"log_level":         "log-level",
		"log_file":          "log-file",
		"metrics_addr":      "metrics-addr",
		"watch":             "watch",
		"interactive":       "interactive",
		"list_backends":     "list-backends",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flagSet.Lookup(flag)); err != nil {
			return nil, err
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName("synthstream.cfg")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "synthstream"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix("SYNTHSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	textFile, _ := flagSet.GetString("file")
	if textFile != "" {
		content, err := os.ReadFile(textFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read text file: %w", err)
		}
		cfg.Text = strings.TrimSpace(string(content))
	} else if cfg.Text == "-" {
		content, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
		cfg.Text = strings.TrimSpace(string(content))
	} else if cfg.Text == "" {
		if rest := flagSet.Args(); len(rest) > 0 {
			cfg.Text = strings.Join(rest, " ")
		}
	}

	if cfg.Text == "" && !cfg.ListBackends && !cfg.Interactive {
		return nil, fmt.Errorf("text is required (use -t, -f, -i or provide as argument)")
	}

	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Rate < 100 || c.Rate > 600 {
		return fmt.Errorf("rate must be between 100 and 600, got %d", c.Rate)
	}
	if c.InitTimeout <= 0 || c.UtteranceTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.QueueMaxBytes <= 0 || c.QueueMaxItems <= 0 {
		return fmt.Errorf("queue caps must be positive")
	}
	if _, err := c.QualityParams(); err != nil {
		return err
	}
	return nil
}

// QualityParams returns the configured voice quality parameters by id.
func (c *Config) QualityParams() (map[int]int, error) {
	out := make(map[int]int, len(c.Params))
	for key, value := range c.Params {
		id, err := strconv.Atoi(key)
		if err != nil || id < 1 || id > 7 {
			return nil, fmt.Errorf("invalid voice parameter id %q (want 1-7)", key)
		}
		out[id] = value
	}
	return out, nil
}

// ConfigFile returns the path of the loaded config file, if any.
func (c *Config) ConfigFile() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

// OnChange calls fn with the reloaded configuration each time the config file
// changes. Invalid edits are reported through onErr and otherwise ignored.
func (c *Config) OnChange(fn func(*Config), onErr func(error)) error {
	if c.ConfigFile() == "" {
		return ErrNoConfigFile
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(c.v)
		if err != nil {
			if onErr != nil {
				onErr(err)
			}
			return
		}
		fn(next)
	})
	c.v.WatchConfig()
	return nil
}
