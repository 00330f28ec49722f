package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"

	"github.com/lmittmann/tint"
	log "log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/dexxdean/lvc/internal/audio"
	"github.com/dexxdean/lvc/internal/automation"
	"github.com/dexxdean/lvc/internal/config"
	"github.com/dexxdean/lvc/internal/ipc"
	"github.com/dexxdean/lvc/internal/listen"
	"github.com/dexxdean/lvc/internal/nlu"
	"github.com/dexxdean/lvc/internal/notify"
	"github.com/dexxdean/lvc/internal/tts"
	"github.com/dexxdean/lvc/internal/wake"
	"github.com/dexxdean/lvc/pkg/stt"
)

const remoteTimeout = 60 * time.Second

func main() {
	cfgPath := cli.StringP("config", "c", "", "Config file path")
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	dryRun := cli.Bool("dry-run", false, "Log actions instead of executing them")
	logLevel := cli.StringP("log", "l", "", "Log level (debug, info, warn, error)")
	listDevices := cli.Bool("list-devices", false, "List audio input devices and exit")
	cli.Parse()

	if *listDevices {
		printDevices()
		return
	}

	godotenv.Load(*envFile)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Warn("Falling back to default config", "err", err)
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: cfg.SlogLevel(),
	})))

	log.Info("Booting up", "dry_run", cfg.DryRun)

	if err := run(cfg); err != nil {
		log.Error("Shutting down with error", "err", err)
		os.Exit(1)
	}
	log.Info("Goodbye")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transcriber, err := newTranscriber(cfg)
	if err != nil {
		return fmt.Errorf("init transcriber: %w", err)
	}
	defer transcriber.Close()
	log.Debug("Loaded transcriber")

	source := audio.NewSource(audio.SourceConfig{
		DeviceName: cfg.Audio.InputDevice,
		SampleRate: cfg.Audio.SampleRate,
		FrameSize:  cfg.Audio.BufferSize,
	})
	if err := source.Start(); err != nil {
		return fmt.Errorf("start audio: %w", err)
	}
	defer source.Stop()
	log.Debug("Loaded audio source")

	detector := wake.NewDetector(cfg.WakeWord.Phrases, cfg.WakeWord.Threshold)
	matcher := nlu.NewMatcher(cfg.CommandTable(), cfg.Commands.MinConfidence)

	var runner nlu.AutomationRunner
	if cfg.TargetApp.Enabled {
		runner = automation.NewRunner(cfg.TargetApp.AppName)
	}
	dispatcher := nlu.NewDispatcher(cfg.DryRun, runner, cfg.CommandTable())

	deps := listen.Deps{
		Source:      source,
		Transcriber: transcriber,
		Detector:    detector,
		Matcher:     matcher,
		Dispatcher:  dispatcher,
		Speaker:     tts.NewSpeaker(cfg.Feedback.Enabled, cfg.Feedback.Voice, cfg.Feedback.Rate),
		Cues:        notify.NewCues(cfg.Cues.Wake, cfg.Cues.Done),
	}
	if cfg.Duck.Enabled {
		deps.Ducker = audio.NewDucker(
			[]string{"lvc"},
			int(cfg.Duck.Volume*100),
			time.Duration(cfg.Duck.FadeMs)*time.Millisecond,
		)
	}

	loop, err := listen.New(listen.Config{
		SampleRate:      cfg.Audio.SampleRate,
		FrameSize:       cfg.Audio.BufferSize,
		Window:          cfg.Listen.Window(),
		CheckInterval:   cfg.Listen.Interval(),
		MaxCapture:      cfg.Listen.MaxCapture(),
		SilenceTimeout:  cfg.Listen.Silence(),
		EnergyThreshold: cfg.Listen.EnergyThreshold,
	}, deps)
	if err != nil {
		return err
	}

	log.Info("Boot up - successful")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel() // exit intent ends the ipc server too
		return loop.Run(ctx)
	})
	g.Go(func() error {
		srv := ipc.NewServer(cfg.IPC.Socket)
		return srv.Serve(ctx, controlHandler(loop, detector, dispatcher, cancel))
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newTranscriber(cfg *config.Config) (stt.Transcriber, error) {
	if cfg.STT.RemoteURL != "" {
		return stt.NewRemote(cfg.STT.RemoteURL, cfg.STT.SocksProxy, remoteTimeout)
	}
	return stt.NewWhisper(cfg.STT.ModelPath, stt.Options{
		Language: cfg.STT.Language,
		Threads:  cfg.STT.Threads,
	})
}

// controlHandler serves the lvc-ctl socket commands.
func controlHandler(loop *listen.Loop, detector *wake.Detector, dispatcher *nlu.Dispatcher, stop func()) ipc.Handler {
	return func(msg ipc.ControlMessage) ipc.Response {
		log.Info("Control command", "cmd", msg.Cmd, "arg", msg.Arg)

		switch msg.Cmd {
		case ipc.CmdTrigger:
			loop.Trigger()
			return ipc.OKResponse(nil)

		case ipc.CmdStop:
			stop()
			return ipc.OKResponse(nil)

		case ipc.CmdWakeAdd:
			if msg.Arg == "" {
				return ipc.ErrResponse(errors.New("wake-add requires a phrase"))
			}
			detector.AddPhrase(msg.Arg)
			return ipc.OKResponse(detector.Phrases())

		case ipc.CmdWakeRemove:
			if !detector.RemovePhrase(msg.Arg) {
				return ipc.ErrResponse(fmt.Errorf("phrase %q not removed", msg.Arg))
			}
			return ipc.OKResponse(detector.Phrases())

		case ipc.CmdThreshold:
			v, err := strconv.ParseFloat(msg.Arg, 64)
			if err != nil {
				return ipc.ErrResponse(fmt.Errorf("invalid threshold %q", msg.Arg))
			}
			detector.SetThreshold(v)
			return ipc.OKResponse(nil)

		case ipc.CmdHistory:
			return ipc.OKResponse(dispatcher.History())

		case ipc.CmdClearHistory:
			dispatcher.ClearHistory()
			return ipc.OKResponse(nil)

		case ipc.CmdStatus:
			return ipc.OKResponse(map[string]any{
				"phase":   loop.Phase(),
				"phrases": detector.Phrases(),
			})

		default:
			return ipc.ErrResponse(fmt.Errorf("unknown command %q", msg.Cmd))
		}
	}
}

func printDevices() {
	devices, err := audio.ListDevices()
	if err != nil {
		log.Error("Failed to list devices", "err", err)
		os.Exit(1)
	}
	fmt.Println("Available audio input devices:")
	for i, d := range devices {
		fmt.Printf("[%2d] %s (channels: %d, sample rate: %.0f Hz)\n", i, d.Name, d.Channels, d.SampleRate)
	}
}
