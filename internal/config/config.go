// Package config provides YAML-based configuration loading for the
// caution controller.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Config is the top-level controller configuration, loaded from a YAML file.
// It mirrors spec.md §6's "configuration surface" plus the ambient plumbing
// (telemetry connection, persistence, dashboard, notify, digest) the core
// itself does not specify but a running instance needs.
type Config struct {
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Detection   DetectionConfig   `yaml:"detection"`
	Aggregator  AggregatorConfig  `yaml:"aggregator"`
	Sequencer   SequencerConfig   `yaml:"sequencer"`
	Eligibility EligibilityConfig `yaml:"eligibility"`
	History     HistoryConfig     `yaml:"history"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Notify      NotifyConfig      `yaml:"notify"`
	Digest      DigestConfig      `yaml:"digest"`
}

// TelemetryConfig holds connection settings for the telemetry source.
type TelemetryConfig struct {
	PollIntervalMs int `yaml:"poll_interval_ms"` // nominal 1000ms per spec.md §4.5
}

// DetectionConfig controls the three concrete detectors.
type DetectionConfig struct {
	RandomEnabled        bool    `yaml:"random_enabled"`
	RandomProbability    float64 `yaml:"random_probability"`
	RandomMaxOccurrences int     `yaml:"random_max_occurrences"`
	StoppedEnabled       bool    `yaml:"stopped_enabled"`
	// StoppedLagThreshold caps how many simultaneously-stalled cars a tick
	// tolerates before suppressing it as a suspected telemetry stall. 0 (the
	// default) derives the cap from the current fleet size instead of a
	// fixed count.
	StoppedLagThreshold int `yaml:"stopped_lag_threshold"`
	OffTrackEnabled      bool    `yaml:"off_track_enabled"`
}

// AggregatorConfig controls the threshold aggregator's windowing, clustering,
// and dynamic scaling.
type AggregatorConfig struct {
	WindowSeconds          int            `yaml:"window_seconds"`
	PerTypeThresholds      map[string]int `yaml:"per_type_thresholds"`
	PerTypeWeights         map[string]int `yaml:"per_type_weights"`
	AccumulativeThreshold  int            `yaml:"accumulative_threshold"`
	ProximityEnabled       bool           `yaml:"proximity_enabled"`
	ProximityDistance      float64        `yaml:"proximity_distance"`
	RaceStartMultiplier    float64        `yaml:"race_start_multiplier"`
	RaceStartMultiplierSec int            `yaml:"race_start_multiplier_seconds"`
}

// SequencerConfig controls the procedure sequencer's phases.
type SequencerConfig struct {
	LapsBeforeWaveArounds int    `yaml:"laps_before_wave_arounds"`
	WaveStrategy          string `yaml:"wave_strategy"` // "lapped_cars", "ahead_of_class_lead", "combined"
	ClassSplitEnabled     bool   `yaml:"class_split_enabled"`
	LapsUnderSafetyCar    int    `yaml:"laps_under_safety_car"`
}

// EligibilityConfig controls when the supervisor is allowed to trip a caution.
type EligibilityConfig struct {
	MaxCautions           int `yaml:"max_cautions"`
	EarliestMinute        int `yaml:"earliest_minute"`
	LatestMinute          int `yaml:"latest_minute"`
	MinimumMinutesBetween int `yaml:"minimum_minutes_between"`
}

// HistoryConfig holds connection settings for the caution-cycle persistence
// layer. This is ambient/observability plumbing, not part of the core.
type HistoryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// DashboardConfig controls the read-only HTTP state observable.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// NotifyConfig controls the optional human-facing chat notifier used for
// digest delivery and fault alerts. Distinct from the command sink: this
// never drives the simulator.
type NotifyConfig struct {
	Platform string        `yaml:"platform"` // "slack", "discord", or "" (disabled)
	Channel  string        `yaml:"channel"`
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack-specific credentials.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"` // xoxb-...
}

// DiscordConfig holds Discord-specific credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// DigestConfig controls the periodic caution-history summary.
type DigestConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"` // 5-field cron expression
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Telemetry.PollIntervalMs == 0 {
		c.Telemetry.PollIntervalMs = 1000
	}
	if c.Detection.RandomMaxOccurrences == 0 {
		c.Detection.RandomMaxOccurrences = 1
	}
	// stopped_lag_threshold is intentionally left at 0 when unset: the
	// StoppedDetector treats 0 as "derive from fleet size" (a large fraction
	// of the field), rather than forcing every deployment onto one fixed
	// count regardless of grid size.
	if c.Aggregator.WindowSeconds == 0 {
		c.Aggregator.WindowSeconds = 5
	}
	if c.Aggregator.PerTypeThresholds == nil {
		c.Aggregator.PerTypeThresholds = map[string]int{}
	}
	if c.Aggregator.PerTypeWeights == nil {
		c.Aggregator.PerTypeWeights = map[string]int{}
	}
	if c.Aggregator.ProximityDistance == 0 {
		c.Aggregator.ProximityDistance = 0.05
	}
	if c.Aggregator.RaceStartMultiplier == 0 {
		c.Aggregator.RaceStartMultiplier = 1
	}
	if c.Sequencer.WaveStrategy == "" {
		c.Sequencer.WaveStrategy = "lapped_cars"
	}
	if c.Eligibility.LatestMinute == 0 {
		c.Eligibility.LatestMinute = 1 << 30
	}
	if c.History.Host == "" {
		c.History.Host = "127.0.0.1"
	}
	if c.History.Port == 0 {
		c.History.Port = 3306
	}
	if c.History.Database == "" {
		c.History.Database = "safetycar"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if c.Notify.Platform != "" {
		c.Notify.Slack.BotToken = resolveEnvVars(c.Notify.Slack.BotToken)
		c.Notify.Discord.BotToken = resolveEnvVars(c.Notify.Discord.BotToken)
	}
	if c.Digest.Cron == "" {
		c.Digest.Cron = "0 */6 * * *"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Detection.RandomProbability < 0 || c.Detection.RandomProbability > 1 {
		errs = append(errs, "detection.random_probability must be in [0,1]")
	}
	if c.Aggregator.WindowSeconds <= 0 {
		errs = append(errs, "aggregator.window_seconds must be positive")
	}
	if c.Aggregator.ProximityDistance <= 0 || c.Aggregator.ProximityDistance > 1 {
		errs = append(errs, "aggregator.proximity_distance must be in (0,1]")
	}
	if c.Aggregator.RaceStartMultiplier < 1 {
		errs = append(errs, "aggregator.race_start_multiplier must be >= 1")
	}
	switch c.Sequencer.WaveStrategy {
	case "lapped_cars", "ahead_of_class_lead", "combined":
	default:
		errs = append(errs, fmt.Sprintf("sequencer.wave_strategy %q is not supported", c.Sequencer.WaveStrategy))
	}
	if c.Sequencer.LapsUnderSafetyCar < 0 {
		errs = append(errs, "sequencer.laps_under_safety_car must be >= 0")
	}
	if c.Notify.Platform != "" {
		switch c.Notify.Platform {
		case "slack":
			if c.Notify.Slack.BotToken == "" {
				errs = append(errs, "notify.slack.bot_token is required when platform is slack")
			}
		case "discord":
			if c.Notify.Discord.BotToken == "" {
				errs = append(errs, "notify.discord.bot_token is required when platform is discord")
			}
		default:
			errs = append(errs, fmt.Sprintf("notify.platform %q is not supported (use slack or discord)", c.Notify.Platform))
		}
		if c.Notify.Channel == "" {
			errs = append(errs, "notify.channel is required")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// resolveEnvVars replaces ${VAR_NAME} tokens in s with the corresponding
// environment variable value. Unset variables resolve to empty string.
func resolveEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarRe.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
