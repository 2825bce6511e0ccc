package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the loom configuration file (~/.config/loom/config.yaml).
// Sampling fields are pointers so "not set" is distinguishable from zero.
type Config struct {
	// Sampling defaults
	Temperature       *float64 `yaml:"temperature"`
	TopK              *int64   `yaml:"top_k"`
	TopP              *float64 `yaml:"top_p"`
	TFS               *float64 `yaml:"tfs"`
	RepetitionPenalty *float64 `yaml:"repetition_penalty"`
	RepetitionSlope   *float64 `yaml:"repetition_slope"`
	RepetitionRange   *int64   `yaml:"repetition_range"`
	StopToken         *int64   `yaml:"stop_token"`
	Steps             *int64   `yaml:"steps"`
	Seed              *int64   `yaml:"seed"`
	Sequences         *int64   `yaml:"sequences"`
	ContextLen        *int64   `yaml:"context"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "loom", "config.yaml")
}

// applyRunConfig applies config file defaults to run command variables
// when the corresponding CLI flag was not explicitly set.
func applyRunConfig(c *cli.Command, cfg Config,
	temp, topP, tfs, repeatPenalty, repeatSlope *float64,
	topK, repeatRange, stopToken, steps, seed, sequences *int64,
) {
	applyCommonConfig(c, cfg)
	if cfg.Temperature != nil && !c.IsSet("temp") && !c.IsSet("temperature") && !c.IsSet("t") {
		*temp = *cfg.Temperature
	}
	if cfg.TopP != nil && !c.IsSet("top-p") && !c.IsSet("top_p") {
		*topP = *cfg.TopP
	}
	if cfg.TFS != nil && !c.IsSet("tfs") {
		*tfs = *cfg.TFS
	}
	if cfg.RepetitionPenalty != nil && !c.IsSet("repetition-penalty") && !c.IsSet("repetition_penalty") {
		*repeatPenalty = *cfg.RepetitionPenalty
	}
	if cfg.RepetitionSlope != nil && !c.IsSet("repetition-slope") && !c.IsSet("repetition_slope") {
		*repeatSlope = *cfg.RepetitionSlope
	}
	if cfg.TopK != nil && !c.IsSet("top-k") && !c.IsSet("top_k") {
		*topK = *cfg.TopK
	}
	if cfg.RepetitionRange != nil && !c.IsSet("repetition-range") && !c.IsSet("repetition_range") {
		*repeatRange = *cfg.RepetitionRange
	}
	if cfg.StopToken != nil && !c.IsSet("stop-token") && !c.IsSet("stop_token") {
		*stopToken = *cfg.StopToken
	}
	if cfg.Steps != nil && !c.IsSet("steps") {
		*steps = *cfg.Steps
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
	if cfg.Sequences != nil && !c.IsSet("sequences") {
		*sequences = *cfg.Sequences
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyCommonConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.ContextLen != nil && !c.IsSet("context") {
		contextLen = *cfg.ContextLen
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or cannot be parsed.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
