package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gordonklaus/portaudio"
	"github.com/sirupsen/logrus"

	"github.com/rustyguts/streamclean/internal/audio"
	"github.com/rustyguts/streamclean/internal/bridge"
	"github.com/rustyguts/streamclean/internal/config"
	"github.com/rustyguts/streamclean/internal/fabada"
	"github.com/rustyguts/streamclean/internal/priority"
	"github.com/rustyguts/streamclean/internal/status"
)

// Version is injected at build time with -ldflags.
var Version = "0.1.0-dev"

// CLI defines the command-line interface. Flags left at their zero value
// keep the setting from the config file.
type CLI struct {
	Version         bool          `short:"v" help:"Show version information"`
	Config          string        `short:"c" type:"path" help:"Path to JSON config file (defaults to the user config dir)"`
	InputKeyword    []string      `short:"i" help:"Preferred input device name keyword (repeatable)"`
	OutputKeyword   []string      `short:"o" help:"Preferred output device name keyword (repeatable)"`
	SampleRate      float64       `help:"Sample rate in Hz"`
	BlockFrames     int           `help:"Frames per capture/playback block"`
	MaxIterations   int           `help:"Iteration cap for the Bayesian smoother"`
	TrueTripletMean bool          `help:"Use the arithmetic mean for the noise model's local averages"`
	NoPriority      bool          `help:"Do not try to raise the process priority"`
	StatusAddr      string        `help:"Serve the status API on this address (e.g. 127.0.0.1:8089)"`
	MetricsInterval time.Duration `help:"Interval between metrics log lines (0 keeps the config value)"`
	LogLevel        string        `help:"Log level (trace, debug, info, warn, error)"`
	ListDevices     bool          `help:"List audio devices and exit"`
	SaveConfig      bool          `help:"Write the effective settings back to the config file"`
}

// apply overlays flags that were set onto cfg.
func (c *CLI) apply(cfg config.Config) config.Config {
	if len(c.InputKeyword) > 0 {
		cfg.InputKeywords = c.InputKeyword
	}
	if len(c.OutputKeyword) > 0 {
		cfg.OutputKeywords = c.OutputKeyword
	}
	if c.SampleRate > 0 {
		cfg.SampleRate = c.SampleRate
	}
	if c.BlockFrames > 0 {
		cfg.BlockFrames = c.BlockFrames
	}
	if c.MaxIterations > 0 {
		cfg.MaxIterations = c.MaxIterations
	}
	if c.TrueTripletMean {
		cfg.TrueTripletMean = true
	}
	if c.NoPriority {
		cfg.RaisePriority = false
	}
	if c.StatusAddr != "" {
		cfg.StatusAddr = c.StatusAddr
	}
	if c.MetricsInterval > 0 {
		cfg.MetricsInterval = int(c.MetricsInterval.Round(time.Second) / time.Second)
	}
	if c.LogLevel != "" {
		cfg.LogLevel = c.LogLevel
	}
	return cfg.Normalize()
}

func main() {
	cliArgs := &CLI{}
	kong.Parse(cliArgs,
		kong.Name("streamclean"),
		kong.Description("Real-time FABADA denoiser for live stereo audio"),
		kong.UsageOnError(),
	)

	if cliArgs.Version {
		fmt.Printf("streamclean %s\n", Version)
		os.Exit(0)
	}

	if err := run(cliArgs); err != nil {
		logrus.WithError(err).Error("streamclean failed")
		os.Exit(1)
	}
}

func loadConfig(cliArgs *CLI) (config.Config, string, error) {
	path := cliArgs.Config
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return cliArgs.apply(config.Default()), "", err
		}
		path = p
	}
	return cliArgs.apply(config.LoadFrom(path)), path, nil
}

func run(cliArgs *CLI) error {
	cfg, path, err := loadConfig(cliArgs)
	if err != nil {
		logrus.WithError(err).Warn("No config directory, using defaults")
	}

	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if cliArgs.SaveConfig && path != "" {
		if err := config.SaveTo(path, cfg); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
		logrus.WithField("path", path).Info("Config saved")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	if cliArgs.ListDevices {
		return listDevices()
	}

	if cfg.RaisePriority {
		if err := priority.Raise(); err != nil {
			logrus.WithError(err).Warn("Continuing at normal priority")
		}
	}

	weighting := fabada.WeightingReference
	if cfg.TrueTripletMean {
		weighting = fabada.WeightingMean
	}
	denoiser := fabada.NewDenoiser(fabada.Config{
		MaxIterations: cfg.MaxIterations,
		Weighting:     weighting,
	})

	br, err := bridge.New(bridge.Config{
		Channels:    audio.DefaultChannels,
		SampleRate:  cfg.SampleRate,
		BlockFrames: cfg.BlockFrames,
	}, denoiser)
	if err != nil {
		return err
	}

	engine := audio.NewEngine(audio.Config{
		SampleRate:     cfg.SampleRate,
		Channels:       audio.DefaultChannels,
		BlockFrames:    cfg.BlockFrames,
		InputKeywords:  cfg.InputKeywords,
		OutputKeywords: cfg.OutputKeywords,
	}, br)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StatusAddr != "" {
		go status.NewAPIServer(br, engine.Running).Run(ctx, cfg.StatusAddr)
	}
	go status.RunMetrics(ctx, br, time.Duration(cfg.MetricsInterval)*time.Second)

	logrus.WithFields(logrus.Fields{
		"version":      Version,
		"sample_rate":  cfg.SampleRate,
		"block_frames": cfg.BlockFrames,
		"deadline":     br.Config().Deadline(),
		"weighting":    weighting.String(),
	}).Info("Starting denoiser, press Ctrl+C to stop")

	if err := engine.Run(ctx); err != nil {
		return err
	}
	logrus.WithField("stats", fmt.Sprintf("%+v", br.Stats())).Info("Denoiser stopped")
	return nil
}

func listDevices() error {
	devices, err := audio.ListDevices()
	if err != nil {
		return err
	}
	for _, d := range devices {
		fmt.Printf("%3d  in=%d out=%d  %s\n", d.ID, d.InputChannels, d.OutputChannels, d.Name)
	}
	return nil
}
