// Package app wires a loaded Config into a runnable Supervisor: the
// telemetry source, detectors, aggregator, sequencer factory, and sink all
// get built here so cmd/cc stays thin.
package app

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/zulandar/safetycar/internal/aggregate"
	"github.com/zulandar/safetycar/internal/config"
	"github.com/zulandar/safetycar/internal/detect"
	"github.com/zulandar/safetycar/internal/fleet"
	"github.com/zulandar/safetycar/internal/sequence"
	"github.com/zulandar/safetycar/internal/sink"
	"github.com/zulandar/safetycar/internal/supervisor"
	"github.com/zulandar/safetycar/internal/telemetry"
	"gorm.io/gorm"
)

// Build assembles a Supervisor from cfg, source, snk, and an optional
// history database (nil disables persistence; spec.md §9, ambient concerns
// never block the core).
func Build(cfg *config.Config, source telemetry.Source, snk sink.Sink, db *gorm.DB, out io.Writer) (*supervisor.Supervisor, error) {
	snap, err := fleet.New(source)
	if err != nil {
		return nil, fmt.Errorf("app: build snapshotter: %w", err)
	}

	detectors := buildDetectors(cfg.Detection)
	agg := aggregate.New(buildAggregatorConfig(cfg.Aggregator))

	seqCfg := sequence.Config{
		LapsBeforeWave:     cfg.Sequencer.LapsBeforeWaveArounds,
		WaveStrategy:       sequence.WaveStrategy(cfg.Sequencer.WaveStrategy),
		ClassSplitEnabled:  cfg.Sequencer.ClassSplitEnabled,
		LapsUnderSafetyCar: cfg.Sequencer.LapsUnderSafetyCar,
	}
	seqFactory := func() *sequence.Sequencer {
		return sequence.New(seqCfg, snap, snk)
	}

	supCfg := supervisor.Config{
		PollInterval: time.Duration(cfg.Telemetry.PollIntervalMs) * time.Millisecond,
		Eligibility: supervisor.EligibilityConfig{
			EarliestMinute:        cfg.Eligibility.EarliestMinute,
			LatestMinute:          cfg.Eligibility.LatestMinute,
			MinimumMinutesBetween: cfg.Eligibility.MinimumMinutesBetween,
			MaxCautions:           cfg.Eligibility.MaxCautions,
		},
	}

	sup, err := supervisor.New(supCfg, snap, detectors, agg, seqFactory, snk, db, out)
	if err != nil {
		return nil, fmt.Errorf("app: build supervisor: %w", err)
	}
	return sup, nil
}

// buildDetectors constructs the three concrete detectors enabled by cfg.
func buildDetectors(cfg config.DetectionConfig) []detect.Detector {
	var detectors []detect.Detector
	if cfg.RandomEnabled {
		detectors = append(detectors, detect.NewRandomDetector(cfg.RandomProbability, cfg.RandomMaxOccurrences, rand.New(rand.NewSource(time.Now().UnixNano()))))
	}
	if cfg.StoppedEnabled {
		detectors = append(detectors, &detect.StoppedDetector{LagThreshold: cfg.StoppedLagThreshold})
	}
	if cfg.OffTrackEnabled {
		detectors = append(detectors, detect.OffTrackDetector{})
	}
	return detectors
}

// buildAggregatorConfig translates the string-keyed YAML config into the
// detect.EventType-keyed shape aggregate.Config expects.
func buildAggregatorConfig(cfg config.AggregatorConfig) aggregate.Config {
	perType := make(map[detect.EventType]int, len(cfg.PerTypeThresholds))
	for k, v := range cfg.PerTypeThresholds {
		perType[detect.EventType(k)] = v
	}
	weights := make(map[detect.EventType]int, len(cfg.PerTypeWeights))
	for k, v := range cfg.PerTypeWeights {
		weights[detect.EventType(k)] = v
	}
	return aggregate.Config{
		WindowSeconds:          cfg.WindowSeconds,
		PerTypeThresholds:      perType,
		PerTypeWeights:         weights,
		AccumulativeThreshold:  cfg.AccumulativeThreshold,
		ProximityEnabled:       cfg.ProximityEnabled,
		ProximityDistance:      cfg.ProximityDistance,
		RaceStartMultiplier:    cfg.RaceStartMultiplier,
		RaceStartMultiplierSec: cfg.RaceStartMultiplierSec,
	}
}
