// Package sequence implements the Procedure Sequencer (spec.md §4.4): the
// multi-phase caution procedure driven from a threshold trip through
// yellow, wave-arounds, an optional class split, pace-lap countdown, and
// hand-off back to the Supervisor.
package sequence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zulandar/safetycar/internal/sink"
	"github.com/zulandar/safetycar/internal/telemetry"
)

// WaveStrategy selects which drivers receive a wave-around in Phase B.
type WaveStrategy string

const (
	StrategyLappedCars       WaveStrategy = "lapped_cars"
	StrategyAheadOfClassLead WaveStrategy = "ahead_of_class_lead"
	StrategyCombined         WaveStrategy = "combined"
)

// Config bundles the Sequencer's tunables (spec.md §6's configuration
// surface, the subset governing Phases B-D). Values are captured once at
// the start of a cycle so a mid-cycle config change cannot perturb an
// in-flight procedure.
type Config struct {
	LapsBeforeWave     int
	WaveStrategy       WaveStrategy
	ClassSplitEnabled  bool
	LapsUnderSafetyCar int
	InterCommandDelay  time.Duration
	SettleDelay        time.Duration
	TickInterval       time.Duration
}

// Ticker is the capability the Sequencer needs from the Fleet Snapshotter
// while waiting on a lap gate. fleet.Snapshotter satisfies this.
type Ticker interface {
	Tick() (telemetry.SnapshotPair, error)
}

// Sequencer drives one caution cycle's phases.
type Sequencer struct {
	cfg   Config
	snap  Ticker
	sink  sink.Sink
	sleep func(time.Duration)
}

// New builds a Sequencer. sleep may be nil to use time.Sleep; tests inject
// a non-blocking stand-in.
func New(cfg Config, snap Ticker, s sink.Sink) *Sequencer {
	if cfg.InterCommandDelay <= 0 {
		cfg.InterCommandDelay = 500 * time.Millisecond
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 100 * time.Millisecond
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Sequencer{cfg: cfg, snap: snap, sink: s, sleep: time.Sleep}
}

// ConfirmFunc supplies the Supervisor's human-confirmation answer for the
// class-split phase. A nil ConfirmFunc is treated as "never confirmed",
// which skips Phase C whenever class splitting is enabled.
type ConfirmFunc func() bool

// Result reports how many commands of each kind a completed cycle issued,
// for the history record (CautionCycle.WaveCount/EOLCount/PaceLaps) and the
// digest's activity totals.
type Result struct {
	WaveCount int
	EOLCount  int
	PaceLaps  int
}

// Run executes Phases A through D for one caution cycle, then returns
// control (Phase E, hand-off) to the caller. It returns early with an error
// only if ctx is canceled; shutdown otherwise unwinds cooperatively between
// commands, never mid-command (spec.md §5, Cancellation semantics).
func (s *Sequencer) Run(ctx context.Context, message string, confirm ConfirmFunc) (Result, error) {
	var result Result

	l0, err := s.phaseYellow(ctx, message)
	if err != nil {
		return result, err
	}

	waveCount, err := s.phaseWaveArounds(ctx, l0)
	if err != nil {
		return result, err
	}
	result.WaveCount = waveCount

	if s.cfg.ClassSplitEnabled {
		eolCount, err := s.phaseClassSplit(ctx, confirm)
		if err != nil {
			return result, err
		}
		result.EOLCount = eolCount
	}

	paceLaps, err := s.phasePaceLaps(ctx, l0)
	if err != nil {
		return result, err
	}
	result.PaceLaps = paceLaps

	return result, nil
}

// phaseYellow emits the single throw command and records L0, the lap
// number at the moment of the throw (spec.md §4.4, Phase A).
func (s *Sequencer) phaseYellow(ctx context.Context, message string) (int, error) {
	if err := s.sink.Send(ctx, sink.Yellow(message)); err != nil {
		return 0, fmt.Errorf("sequence: phase A yellow: %w", err)
	}
	s.sleep(s.cfg.SettleDelay)

	pair, err := s.snap.Tick()
	if err != nil {
		return 0, err
	}
	return maxLapsCompleted(pair.Current), nil
}

// phaseWaveArounds waits until the lap gate opens, computes the wave list
// per the configured strategy, and emits one `!w` per selected driver in
// order-behind-safety-car order (spec.md §4.4, Phase B). It returns the
// number of wave-around commands issued.
func (s *Sequencer) phaseWaveArounds(ctx context.Context, l0 int) (int, error) {
	target := l0 + s.cfg.LapsBeforeWave + 1
	pair, err := s.waitForLapGate(ctx, target)
	if err != nil {
		return 0, err
	}
	if !pair.HasPaceCar {
		return 0, nil
	}

	selected := selectWaveDrivers(s.cfg.WaveStrategy, pair)
	ordered := orderBehindSafetyCar(selected, pair.PaceCarProgress)

	for _, d := range ordered {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := s.sink.Send(ctx, sink.Wave(d.CarNumber)); err != nil {
			return 0, fmt.Errorf("sequence: phase B wave %s: %w", d.CarNumber, err)
		}
		s.sleep(s.cfg.InterCommandDelay)
	}
	return len(ordered), nil
}

// phaseClassSplit re-orders drivers whose class sits ahead of a class that
// should lead it, gated on human confirmation (spec.md §4.4, Phase C). If
// confirm is nil or returns false, the phase is skipped. It returns the
// number of end-of-line commands issued.
func (s *Sequencer) phaseClassSplit(ctx context.Context, confirm ConfirmFunc) (int, error) {
	if confirm == nil || !confirm() {
		return 0, nil
	}

	pair, err := s.snap.Tick()
	if err != nil || !pair.HasPaceCar {
		return 0, nil
	}

	ordered := orderBehindSafetyCar(pair.Current, pair.PaceCarProgress)
	misplaced := classSplitCandidates(ordered)

	for _, d := range misplaced {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := s.sink.Send(ctx, sink.EndOfLine(d.CarNumber)); err != nil {
			return 0, fmt.Errorf("sequence: phase C eol %s: %w", d.CarNumber, err)
		}
		s.sleep(s.cfg.InterCommandDelay)
	}
	return len(misplaced), nil
}

// phasePaceLaps waits for the second lap gate and the half-lap guard, then
// emits the pace-lap countdown (spec.md §4.4, Phase D). It returns the
// number of pace laps announced.
func (s *Sequencer) phasePaceLaps(ctx context.Context, l0 int) (int, error) {
	target := l0 + 2
	for {
		pair, err := s.waitForLapGate(ctx, target)
		if err != nil {
			return 0, err
		}
		leader := overallLeader(pair.Current)
		if leader == nil || leader.LapProgress <= 0.5 {
			// Half-lap guard not yet satisfied; keep ticking (spec.md §4.4).
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			s.sleep(s.cfg.TickInterval)
			continue
		}
		n := s.cfg.LapsUnderSafetyCar - 1
		if n < 0 {
			n = 0
		}
		if err := s.sink.Send(ctx, sink.PaceLaps(n)); err != nil {
			return 0, fmt.Errorf("sequence: phase D pace laps: %w", err)
		}
		return n, nil
	}
}

// waitForLapGate ticks the Snapshotter until max(laps_completed) reaches
// target, tolerating empty snapshots by retrying on the next tick
// (spec.md §4.4, "Every phase tolerates the Snapshotter returning an empty
// snapshot").
func (s *Sequencer) waitForLapGate(ctx context.Context, target int) (telemetry.SnapshotPair, error) {
	for {
		if err := ctx.Err(); err != nil {
			return telemetry.SnapshotPair{}, err
		}
		pair, err := s.snap.Tick()
		if err != nil {
			return telemetry.SnapshotPair{}, err
		}
		if len(pair.Current) > 0 && maxLapsCompleted(pair.Current) >= target {
			return pair, nil
		}
		s.sleep(s.cfg.TickInterval)
	}
}

func maxLapsCompleted(drivers []telemetry.Driver) int {
	max := 0
	for i, d := range drivers {
		if i == 0 || d.LapsCompleted > max {
			max = d.LapsCompleted
		}
	}
	return max
}

// overallLeader is the driver with the greatest composite progress.
func overallLeader(drivers []telemetry.Driver) *telemetry.Driver {
	if len(drivers) == 0 {
		return nil
	}
	leader := drivers[0]
	for _, d := range drivers[1:] {
		if d.CompositeProgress() > leader.CompositeProgress() {
			leader = d
		}
	}
	return &leader
}

// classLeader is the driver with the greatest composite progress within
// classID.
func classLeader(drivers []telemetry.Driver, classID string) *telemetry.Driver {
	var leader *telemetry.Driver
	for i, d := range drivers {
		if d.ClassID != classID {
			continue
		}
		if leader == nil || d.CompositeProgress() > leader.CompositeProgress() {
			cp := drivers[i]
			leader = &cp
		}
	}
	return leader
}

// runningPosition ranks d by composite progress among drivers, 1 = leader.
func runningPosition(d telemetry.Driver, drivers []telemetry.Driver) int {
	pos := 1
	for _, other := range drivers {
		if other.SlotIndex == d.SlotIndex {
			continue
		}
		if other.CompositeProgress() > d.CompositeProgress() {
			pos++
		}
	}
	return pos
}

// orderBehindSafetyCar computes each driver's forward distance to catch the
// pace car from behind and sorts ascending (spec.md §4.4).
func orderBehindSafetyCar(drivers []telemetry.Driver, paceProgress float64) []telemetry.Driver {
	ordered := append([]telemetry.Driver{}, drivers...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return distanceToSafetyCar(ordered[i], paceProgress) < distanceToSafetyCar(ordered[j], paceProgress)
	})
	return ordered
}

func distanceToSafetyCar(d telemetry.Driver, paceProgress float64) float64 {
	delta := paceProgress - d.CompositeProgress()
	m := delta - floor(delta)
	if m < 0 {
		m += 1
	}
	return m
}

func floor(f float64) float64 {
	i := int(f)
	if f < 0 && float64(i) != f {
		i--
	}
	return float64(i)
}

// selectWaveDrivers applies the configured strategy to produce the set of
// drivers eligible for a wave-around this cycle (spec.md §4.4, Phase B).
func selectWaveDrivers(strategy WaveStrategy, pair telemetry.SnapshotPair) []telemetry.Driver {
	switch strategy {
	case StrategyAheadOfClassLead:
		return aheadOfClassLead(pair)
	case StrategyCombined:
		a := lappedCars(pair)
		b := aheadOfClassLead(pair)
		return unionBySlot(a, b)
	default:
		return lappedCars(pair)
	}
}

// lappedCars selects drivers at least one full lap down, plus drivers
// exactly one lap down who are running behind their own class leader
// (spec.md §4.4, Lapped-cars strategy).
func lappedCars(pair telemetry.SnapshotPair) []telemetry.Driver {
	maxLaps := maxLapsCompleted(pair.Current)
	var out []telemetry.Driver
	for _, d := range pair.Current {
		lapsBehind := maxLaps - d.LapsCompleted
		if lapsBehind >= 2 {
			out = append(out, d)
			continue
		}
		if lapsBehind == 1 {
			leader := classLeader(pair.Current, d.ClassID)
			if leader != nil && runningPosition(d, pair.Current) > runningPosition(*leader, pair.Current) {
				out = append(out, d)
			}
		}
	}
	return out
}

// aheadOfClassLead selects drivers that, in order-behind-safety-car, sit
// ahead of their own class leader yet behind the overall race leader
// (spec.md §4.4, Ahead-of-class-lead strategy).
func aheadOfClassLead(pair telemetry.SnapshotPair) []telemetry.Driver {
	overall := overallLeader(pair.Current)
	if overall == nil {
		return nil
	}
	overallDist := distanceToSafetyCar(*overall, pair.PaceCarProgress)

	var out []telemetry.Driver
	for _, d := range pair.Current {
		leader := classLeader(pair.Current, d.ClassID)
		if leader == nil || leader.SlotIndex == d.SlotIndex {
			continue
		}
		dDist := distanceToSafetyCar(d, pair.PaceCarProgress)
		leaderDist := distanceToSafetyCar(*leader, pair.PaceCarProgress)
		if dDist < leaderDist && dDist > overallDist {
			out = append(out, d)
		}
	}
	return out
}

func unionBySlot(sets ...[]telemetry.Driver) []telemetry.Driver {
	seen := make(map[int]bool)
	var out []telemetry.Driver
	for _, set := range sets {
		for _, d := range set {
			if !seen[d.SlotIndex] {
				seen[d.SlotIndex] = true
				out = append(out, d)
			}
		}
	}
	return out
}

// classSplitCandidates walks ordered (already in order-behind-safety-car)
// and returns every driver whose class appears before a later driver whose
// class should rank ahead of it per ascending expected lap time (spec.md
// §4.4, Phase C).
func classSplitCandidates(ordered []telemetry.Driver) []telemetry.Driver {
	rank := classRanks(ordered)

	n := len(ordered)
	suffixMin := make([]int, n+1)
	suffixMin[n] = int(^uint(0) >> 1) // max int
	for i := n - 1; i >= 0; i-- {
		r := rank[ordered[i].ClassID]
		if r < suffixMin[i+1] {
			suffixMin[i] = r
		} else {
			suffixMin[i] = suffixMin[i+1]
		}
	}

	var out []telemetry.Driver
	for i, d := range ordered {
		if i+1 >= n {
			continue
		}
		if rank[d.ClassID] > suffixMin[i+1] {
			out = append(out, d)
		}
	}
	return out
}

// classRanks assigns each class an ascending rank by expected lap time
// (0 = fastest, should run first).
func classRanks(drivers []telemetry.Driver) map[string]int {
	type classTime struct {
		id   string
		time float64
		seen bool
	}
	byID := make(map[string]*classTime)
	var order []*classTime
	for _, d := range drivers {
		ct, ok := byID[d.ClassID]
		if !ok {
			ct = &classTime{id: d.ClassID, time: d.ClassExpectedLap}
			byID[d.ClassID] = ct
			order = append(order, ct)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i].time < order[j].time })

	rank := make(map[string]int, len(order))
	for i, ct := range order {
		rank[ct.id] = i
	}
	return rank
}
