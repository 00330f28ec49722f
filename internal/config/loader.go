package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration at path, applies environment overrides,
// and validates the result. A missing or broken file is not fatal: the
// defaults are returned alongside the error so the daemon can start anyway.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		ApplyEnv(cfg)
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		cfg := Default()
		ApplyEnv(cfg)
		return cfg, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		fallback := Default()
		ApplyEnv(fallback)
		return fallback, fmt.Errorf("config: parse %q: %w", path, err)
	}
	ApplyEnv(cfg)
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. Useful in tests where configs are string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing every failure found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d must be 1 or 2", cfg.Audio.Channels))
	}
	if cfg.Audio.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_size %d must be positive", cfg.Audio.BufferSize))
	}

	if cfg.WakeWord.Threshold < 0 || cfg.WakeWord.Threshold > 1 {
		errs = append(errs, fmt.Errorf("wake_word.threshold %.2f is out of range [0, 1]", cfg.WakeWord.Threshold))
	}

	if cfg.Listen.MaxDuration <= 0 {
		errs = append(errs, fmt.Errorf("listen.max_duration %.2f must be positive", cfg.Listen.MaxDuration))
	}
	if cfg.Listen.SilenceTimeout <= 0 {
		errs = append(errs, fmt.Errorf("listen.silence_timeout %.2f must be positive", cfg.Listen.SilenceTimeout))
	}
	if cfg.Listen.SilenceTimeout >= cfg.Listen.MaxDuration {
		errs = append(errs, fmt.Errorf("listen.silence_timeout %.2f must be shorter than listen.max_duration %.2f",
			cfg.Listen.SilenceTimeout, cfg.Listen.MaxDuration))
	}
	if cfg.Listen.EnergyThreshold < 0 || cfg.Listen.EnergyThreshold > 1 {
		errs = append(errs, fmt.Errorf("listen.energy_threshold %.3f is out of range [0, 1]", cfg.Listen.EnergyThreshold))
	}

	if cfg.Commands.MinConfidence <= 0 || cfg.Commands.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("commands.min_confidence %.2f is out of range (0, 1]", cfg.Commands.MinConfidence))
	}

	seen := make(map[string]int, len(cfg.Commands.Custom))
	for i, spec := range cfg.Commands.Custom {
		prefix := fmt.Sprintf("commands.custom[%d]", i)
		if spec.Intent == "" {
			errs = append(errs, fmt.Errorf("%s.intent is required", prefix))
		} else if prev, ok := seen[spec.Intent]; ok {
			errs = append(errs, fmt.Errorf("%s.intent %q is a duplicate of commands.custom[%d]", prefix, spec.Intent, prev))
		} else {
			seen[spec.Intent] = i
		}
		if len(spec.Patterns) == 0 {
			errs = append(errs, fmt.Errorf("%s.patterns must not be empty", prefix))
		}
	}

	if cfg.Duck.Volume < 0 || cfg.Duck.Volume > 1 {
		errs = append(errs, fmt.Errorf("duck.volume %.2f is out of range [0, 1]", cfg.Duck.Volume))
	}

	if cfg.LogLevel != "" && !validLogLevel(cfg.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	return errors.Join(errs...)
}

// ApplyEnv overrides cfg from the environment. Invalid values are warned
// about and ignored, never fatal.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("AUDIO_DEVICE"); v != "" {
		cfg.Audio.InputDevice = v
	}
	if v := os.Getenv("STT_LANGUAGE"); v != "" {
		cfg.STT.Language = v
	}
	if v := os.Getenv("STT_MODEL"); v != "" {
		cfg.STT.ModelPath = v
	}
	if v := os.Getenv("LVC_PROXY"); v != "" {
		cfg.STT.SocksProxy = v
	}
	if v := os.Getenv("AUDIO_SAMPLE_RATE"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			slog.Warn("ignoring invalid AUDIO_SAMPLE_RATE", "value", v)
		} else {
			cfg.Audio.SampleRate = rate
		}
	}
	if envBool("DEBUG_MODE") {
		cfg.Debug = true
	}
	if envBool("DRY_RUN") {
		cfg.DryRun = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if validLogLevel(v) {
			cfg.LogLevel = strings.ToLower(v)
		} else {
			slog.Warn("ignoring invalid LOG_LEVEL", "value", v)
		}
	}
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func validLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// SlogLevel maps the configured log level to a slog level. Debug mode always
// wins over the configured level.
func (c *Config) SlogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
