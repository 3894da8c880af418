// Package config manages persistent settings for the streamclean denoiser.
// Settings are stored as JSON at os.UserConfigDir()/streamclean/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config holds all persistent settings.
type Config struct {
	InputKeywords   []string `json:"input_keywords"`
	OutputKeywords  []string `json:"output_keywords"`
	SampleRate      float64  `json:"sample_rate"`
	BlockFrames     int      `json:"block_frames"`
	MaxIterations   int      `json:"max_iterations"`
	TrueTripletMean bool     `json:"true_triplet_mean"`
	RaisePriority   bool     `json:"raise_priority"`
	StatusAddr      string   `json:"status_addr"`
	MetricsInterval int      `json:"metrics_interval_seconds"`
	LogLevel        string   `json:"log_level"`
}

const (
	minBlockFrames = 2
	maxBlockFrames = 1 << 20
	maxIterations  = 4096
)

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		InputKeywords:   []string{"microsoft"},
		OutputKeywords:  []string{"microsoft"},
		SampleRate:      48000,
		BlockFrames:     16384,
		MaxIterations:   128,
		RaisePriority:   true,
		MetricsInterval: 10,
		LogLevel:        "info",
	}
}

// Path returns the absolute path to the default config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "streamclean", "config.json"), nil
}

// Load reads the default config file. If the file is missing or unreadable,
// the default config is returned, never an error.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	return LoadFrom(path)
}

// LoadFrom reads the config file at path, falling back to defaults on any
// error. Values out of range are clamped.
func LoadFrom(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			logrus.WithFields(logrus.Fields{
				"function": "config.LoadFrom",
				"path":     path,
				"error":    err,
			}).Warn("Config unreadable, using defaults")
		}
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "config.LoadFrom",
			"path":     path,
			"error":    err,
		}).Warn("Config corrupt, using defaults")
		return Default()
	}
	return cfg.Normalize()
}

// Save writes cfg to the default config path.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg)
}

// SaveTo writes cfg to path, creating the directory if needed.
func SaveTo(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Normalize returns cfg with out-of-range values replaced by defaults or
// clamped to their limits.
func (cfg Config) Normalize() Config {
	def := Default()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.BlockFrames < minBlockFrames {
		cfg.BlockFrames = def.BlockFrames
	}
	if cfg.BlockFrames > maxBlockFrames {
		cfg.BlockFrames = maxBlockFrames
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.MaxIterations > maxIterations {
		cfg.MaxIterations = maxIterations
	}
	if cfg.MetricsInterval < 0 {
		cfg.MetricsInterval = 0
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		cfg.LogLevel = def.LogLevel
	}
	cfg.StatusAddr = strings.TrimSpace(cfg.StatusAddr)
	return cfg
}
