// Package config loads the daemon configuration from YAML with environment
// overrides. A broken or missing config file degrades to defaults with a
// warning; it never prevents startup.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dexxdean/lvc/internal/nlu"
)

// Audio holds microphone capture settings.
type Audio struct {
	InputDevice string `yaml:"input_device"`
	SampleRate  int    `yaml:"sample_rate"`
	Channels    int    `yaml:"channels"`
	BufferSize  int    `yaml:"buffer_size"`
}

// WakeWord holds wake phrase detection settings.
type WakeWord struct {
	Phrases   []string `yaml:"phrases"`
	Threshold float64  `yaml:"threshold"`
}

// STT holds speech-to-text settings. ModelPath points at a local whisper
// model file; RemoteURL switches to a websocket transcription service,
// optionally through a SOCKS5 proxy.
type STT struct {
	ModelPath  string `yaml:"model_path"`
	Language   string `yaml:"language"`
	RemoteURL  string `yaml:"remote_url"`
	SocksProxy string `yaml:"socks_proxy"`
	Threads    int    `yaml:"threads"`
}

// Feedback holds spoken feedback settings.
type Feedback struct {
	Enabled bool   `yaml:"enabled"`
	Voice   string `yaml:"voice"`
	Rate    int    `yaml:"rate"`
}

// TargetApp names the application that receives automation actions.
type TargetApp struct {
	Enabled bool   `yaml:"enabled"`
	AppName string `yaml:"app_name"`
}

// Listen holds the capture state machine timing. Durations are in seconds,
// matching how they read in a config file.
type Listen struct {
	WindowSeconds   float64 `yaml:"window_seconds"`
	CheckInterval   float64 `yaml:"check_interval"`
	MaxDuration     float64 `yaml:"max_duration"`
	SilenceTimeout  float64 `yaml:"silence_timeout"`
	EnergyThreshold float64 `yaml:"energy_threshold"`
}

// Window returns the rolling wake window length.
func (l Listen) Window() time.Duration { return secs(l.WindowSeconds) }

// Interval returns the wake check cadence.
func (l Listen) Interval() time.Duration { return secs(l.CheckInterval) }

// MaxCapture returns the command capture ceiling.
func (l Listen) MaxCapture() time.Duration { return secs(l.MaxDuration) }

// Silence returns the trailing silence that ends a capture.
func (l Listen) Silence() time.Duration { return secs(l.SilenceTimeout) }

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// CommandSpec is one voice command as written in the config file. The action
// is either a plain string ("log", "exit", "help", "time") or a mapping with
// a type and value.
type CommandSpec struct {
	Intent   string     `yaml:"intent"`
	Patterns []string   `yaml:"patterns"`
	Action   ActionSpec `yaml:"action"`
	Feedback string     `yaml:"feedback"`
}

// ActionSpec decodes the two config shapes of an action into a resolved
// nlu.Action at load time.
type ActionSpec struct {
	nlu.Action
}

// UnmarshalYAML accepts a bare string kind or a {type, value} mapping.
func (a *ActionSpec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var kind string
		if err := node.Decode(&kind); err != nil {
			return err
		}
		switch nlu.ActionKind(kind) {
		case nlu.ActionLog, nlu.ActionExit, nlu.ActionHelp, nlu.ActionTime:
			a.Kind = nlu.ActionKind(kind)
			return nil
		default:
			return fmt.Errorf("unknown action %q", kind)
		}

	case yaml.MappingNode:
		var raw struct {
			Type  string `yaml:"type"`
			Value string `yaml:"value"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		switch raw.Type {
		case "key_command":
			a.Kind = nlu.ActionKeyCommand
			a.Keys = raw.Value
		case "applescript", "script":
			a.Kind = nlu.ActionScript
			a.Script = raw.Value
		default:
			return fmt.Errorf("unknown action type %q", raw.Type)
		}
		if raw.Value == "" {
			return fmt.Errorf("action type %q requires a value", raw.Type)
		}
		return nil

	default:
		return fmt.Errorf("action must be a string or a mapping")
	}
}

// Commands holds intent matching settings and the custom command table.
type Commands struct {
	MinConfidence float64       `yaml:"min_confidence"`
	Custom        []CommandSpec `yaml:"custom"`
}

// Cues holds the audio cue file paths. Empty paths disable the cue.
type Cues struct {
	Wake string `yaml:"wake"`
	Done string `yaml:"done"`
}

// Duck holds playback ducking settings applied while capturing.
type Duck struct {
	Enabled bool    `yaml:"enabled"`
	Volume  float64 `yaml:"volume"`
	FadeMs  int     `yaml:"fade_ms"`
}

// IPC holds the control socket settings.
type IPC struct {
	Socket string `yaml:"socket"`
}

// Config is the full daemon configuration.
type Config struct {
	Audio     Audio     `yaml:"audio"`
	WakeWord  WakeWord  `yaml:"wake_word"`
	STT       STT       `yaml:"stt"`
	Feedback  Feedback  `yaml:"feedback"`
	TargetApp TargetApp `yaml:"target_app"`
	Listen    Listen    `yaml:"listen"`
	Commands  Commands  `yaml:"commands"`
	Cues      Cues      `yaml:"cues"`
	Duck      Duck      `yaml:"duck"`
	IPC       IPC       `yaml:"ipc"`

	Debug    bool   `yaml:"debug"`
	DryRun   bool   `yaml:"dry_run"`
	LogLevel string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Audio: Audio{
			SampleRate: 16000,
			Channels:   1,
			BufferSize: 512,
		},
		WakeWord: WakeWord{
			Threshold: 0.8,
		},
		STT: STT{
			ModelPath: "models/ggml-small.bin",
			Language:  "de",
			Threads:   4,
		},
		Feedback: Feedback{
			Enabled: true,
			Voice:   "",
			Rate:    200,
		},
		TargetApp: TargetApp{
			Enabled: true,
			AppName: "Logic Pro",
		},
		Listen: Listen{
			WindowSeconds:   2.0,
			CheckInterval:   0.5,
			MaxDuration:     5.0,
			SilenceTimeout:  1.5,
			EnergyThreshold: 0.02,
		},
		Commands: Commands{
			MinConfidence: 0.6,
		},
		Duck: Duck{
			Volume: 0.3,
			FadeMs: 150,
		},
		IPC: IPC{
			Socket: "/tmp/lvc.sock",
		},
		LogLevel: "info",
	}
}

// CommandTable resolves the configured custom commands into the matcher's
// command table, falling back to the built-in table when none are configured.
func (c *Config) CommandTable() []nlu.Command {
	if len(c.Commands.Custom) == 0 {
		return nlu.DefaultCommands()
	}
	out := make([]nlu.Command, 0, len(c.Commands.Custom))
	for _, spec := range c.Commands.Custom {
		out = append(out, nlu.Command{
			Intent:   spec.Intent,
			Patterns: spec.Patterns,
			Action:   spec.Action.Action,
			Feedback: spec.Feedback,
		})
	}
	return out
}
