// Package fleet implements the Fleet Snapshotter (spec.md §4.1): it reads
// the telemetry source once per tick and produces a double-buffered
// (previous, current) pair of driver records.
package fleet

import (
	"fmt"

	"github.com/zulandar/safetycar/internal/telemetry"
)

// Snapshotter owns the rolling current snapshot and produces the next pair
// on each call to Tick. It holds no long-lived driver objects across ticks
// (spec.md §3, "Snapshot pair" lifecycle) — only the most recent Current
// slice, which becomes the next tick's Previous.
type Snapshotter struct {
	source telemetry.Source

	haveFirst bool
	current   []telemetry.Driver
	session   telemetry.SessionInfo
	paceSlot  int
	hasPace   bool
}

// New builds a Snapshotter reading from source.
func New(source telemetry.Source) (*Snapshotter, error) {
	if source == nil {
		return nil, fmt.Errorf("fleet: source is required")
	}
	return &Snapshotter{source: source}, nil
}

// Tick polls the telemetry source and returns the next (previous, current)
// pair. On telemetry failure it returns an empty pair and a nil error — the
// Supervisor treats an empty snapshot as a transient disconnect and skips
// detection this iteration (spec.md §4.1, Failure).
func (s *Snapshotter) Tick() (telemetry.SnapshotPair, error) {
	frame, err := s.source.Poll()
	if err != nil {
		return telemetry.SnapshotPair{}, nil
	}

	filtered, paceSlot, hasPace, paceProgress := filterAndDerive(frame.Drivers)

	previous := s.current
	if !s.haveFirst {
		// First tick: previous equals current, so no deltas are possible.
		previous = filtered
		s.haveFirst = true
	}

	pair := telemetry.SnapshotPair{
		Previous:        previous,
		Current:         filtered,
		Session:         frame.Session,
		PaceCarSlot:     paceSlot,
		HasPaceCar:      hasPace,
		PaceCarProgress: paceProgress,
	}

	s.current = filtered
	s.session = frame.Session
	s.paceSlot = paceSlot
	s.hasPace = hasPace

	return pair, nil
}

// filterAndDerive elides drivers whose surface is not-in-world, whose
// lap_progress is negative, or who are flagged as pace car — except that the
// pace car's slot index is retained out-of-band for the Sequencer
// (spec.md §4.1). Composite progress is derived here, not trusted from
// upstream, per the §6 "advisory, not transactional" read contract.
func filterAndDerive(raw []telemetry.Driver) (filtered []telemetry.Driver, paceSlot int, hasPace bool, paceProgress float64) {
	filtered = make([]telemetry.Driver, 0, len(raw))
	for _, d := range raw {
		if d.PaceCar {
			paceSlot = d.SlotIndex
			hasPace = true
			paceProgress = d.CompositeProgress()
			continue
		}
		if d.Surface == telemetry.SurfaceNotInWorld {
			continue
		}
		if d.LapProgress < 0 {
			continue
		}
		filtered = append(filtered, d)
	}
	return filtered, paceSlot, hasPace, paceProgress
}
