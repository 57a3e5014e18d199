// Package supervisor owns the state value and the coarse detection-and-
// procedure loop (spec.md §4.5). It is the only task that ticks the Fleet
// Snapshotter, evaluates the Threshold Aggregator, and drives the Procedure
// Sequencer; everything else observes it through read-only signals.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zulandar/safetycar/internal/aggregate"
	"github.com/zulandar/safetycar/internal/detect"
	"github.com/zulandar/safetycar/internal/history"
	"github.com/zulandar/safetycar/internal/models"
	"github.com/zulandar/safetycar/internal/notify"
	"github.com/zulandar/safetycar/internal/sequence"
	"github.com/zulandar/safetycar/internal/sink"
	"github.com/zulandar/safetycar/internal/telemetry"
	"gorm.io/gorm"
)

// State is one value from spec.md §4.5's state set.
type State string

const (
	StateStopped               State = "stopped"
	StateConnecting            State = "connecting"
	StateConnected             State = "connected"
	StateAwaitingRaceSession   State = "awaiting-race-session"
	StateAwaitingGreen         State = "awaiting-green"
	StateMonitoring            State = "monitoring"
	StateCautionActive         State = "caution-active"
	StateFaulted               State = "faulted"
)

// Ticker is the Fleet Snapshotter capability the Supervisor drives each
// iteration.
type Ticker interface {
	Tick() (telemetry.SnapshotPair, error)
}

// EligibilityConfig bundles the gate evaluated each tick in *monitoring*
// (spec.md §4.5).
type EligibilityConfig struct {
	EarliestMinute        int
	LatestMinute          int
	MinimumMinutesBetween int
	MaxCautions           int
}

// Config bundles the Supervisor's own tunables; detector, aggregator, and
// sequencer tunables live in their own Config types.
type Config struct {
	PollInterval time.Duration
	Eligibility  EligibilityConfig
}

// Supervisor drives the tick loop and owns the Snapshotter, Aggregator, and
// Sequencer exclusively (spec.md §3, Ownership).
type Supervisor struct {
	cfg        Config
	snap       Ticker
	detectors  []detect.Detector
	aggregator *aggregate.Aggregator
	seqFactory func() *sequence.Sequencer
	sink       sink.Sink
	db         *gorm.DB
	out        io.Writer
	notifier   notify.Adapter // optional; nil disables fault alerts

	mu    sync.RWMutex
	state State

	raceStartAt    time.Time
	raceStartKnown bool
	lastCautionAt  time.Time
	totalCautions  int
	pendingCycleID uint
	pendingReason  string

	shutdown         atomic.Bool
	manualTrip       atomic.Bool
	skipWaitForGreen atomic.Bool
}

// New builds a Supervisor. seqFactory produces a fresh Sequencer per
// caution cycle (the Sequencer captures config once per cycle per spec.md
// §6's "read once per caution cycle start" rule).
func New(cfg Config, snap Ticker, detectors []detect.Detector, aggregator *aggregate.Aggregator, seqFactory func() *sequence.Sequencer, snk sink.Sink, db *gorm.DB, out io.Writer) (*Supervisor, error) {
	if snap == nil {
		return nil, fmt.Errorf("supervisor: snapshotter is required")
	}
	if aggregator == nil {
		return nil, fmt.Errorf("supervisor: aggregator is required")
	}
	if seqFactory == nil {
		return nil, fmt.Errorf("supervisor: sequencer factory is required")
	}
	if snk == nil {
		return nil, fmt.Errorf("supervisor: sink is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if out == nil {
		out = os.Stdout
	}
	return &Supervisor{
		cfg:        cfg,
		snap:       snap,
		detectors:  detectors,
		aggregator: aggregator,
		seqFactory: seqFactory,
		sink:       snk,
		db:         db,
		out:        out,
		state:      StateStopped,
	}, nil
}

// State returns the current state. Safe for concurrent reads from the
// UI/control task (spec.md §5, the Supervisor's state value is the sole
// cross-task observable).
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// RequestShutdown sets the shutdown signal, polled at the top of every
// iteration and between Sequencer phases (spec.md §5).
func (s *Supervisor) RequestShutdown() { s.shutdown.Store(true) }

// RequestManualTrip sets the manual-trip signal, consumed at the top of the
// next iteration while in *monitoring* or *caution-active* (spec.md §5).
func (s *Supervisor) RequestManualTrip() { s.manualTrip.Store(true) }

// RequestSkipWaitForGreen is a developer aid consumed in *awaiting-green*
// (spec.md §5).
func (s *Supervisor) RequestSkipWaitForGreen() { s.skipWaitForGreen.Store(true) }

// SetNotifier wires a chat adapter for fault alerts. Optional: a nil or
// never-set notifier leaves fault transitions silent outside the state
// observable and the log, matching the best-effort posture the rest of the
// ambient stack has toward delivery failures.
func (s *Supervisor) SetNotifier(n notify.Adapter) { s.notifier = n }

func (s *Supervisor) setState(to State, reason string) {
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()
	if from == to {
		return
	}
	fmt.Fprintf(s.out, "supervisor: %s -> %s (%s)\n", from, to, reason)
	if err := history.RecordTransition(s.db, string(from), string(to), reason); err != nil {
		log.Printf("supervisor: record transition: %v", err)
	}
	if to == StateFaulted {
		s.sendFaultAlert(reason)
	}
}

// sendFaultAlert notifies the configured chat adapter of a transition into
// StateFaulted. Best-effort and non-blocking: a nil notifier or a delivery
// failure never holds up the state machine (spec.md §7/§9's posture toward
// every ambient delivery failure).
func (s *Supervisor) sendFaultAlert(reason string) {
	if s.notifier == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		msg := notify.OutboundMessage{
			Events: []notify.FormattedEvent{{
				Title:    "Caution controller faulted",
				Body:     reason,
				Severity: "error",
				Color:    notify.ColorError,
			}},
		}
		if err := s.notifier.Send(ctx, msg); err != nil {
			log.Printf("supervisor: fault alert: %v", err)
		}
	}()
}

// Run drives the Supervisor from *connecting* through the state machine
// until *stopped* or *faulted*. It returns nil on a clean shutdown and an
// error only for the unhandled-fault terminal state (spec.md §4.5, §7).
func (s *Supervisor) Run(ctx context.Context) error {
	s.setState(StateConnecting, "start request")

	for {
		if s.shutdown.Load() {
			s.setState(StateStopped, "shutdown signal")
			return nil
		}
		select {
		case <-ctx.Done():
			s.setState(StateStopped, "context canceled")
			return nil
		default:
		}

		var err error
		switch s.State() {
		case StateConnecting:
			err = s.stepConnecting()
		case StateConnected:
			err = s.stepConnected()
		case StateAwaitingRaceSession:
			err = s.stepAwaitingRaceSession()
		case StateAwaitingGreen:
			err = s.stepAwaitingGreen()
		case StateMonitoring:
			err = s.stepMonitoring(ctx)
		case StateCautionActive:
			err = s.stepCautionActive(ctx)
		case StateFaulted:
			return fmt.Errorf("supervisor: faulted")
		default:
			return fmt.Errorf("supervisor: unknown state %q", s.State())
		}

		if err != nil {
			log.Printf("supervisor: unhandled fault: %v", err)
			s.setState(StateFaulted, err.Error())
			return fmt.Errorf("supervisor: faulted: %w", err)
		}

		sleepWithContext(ctx, s.cfg.PollInterval)
	}
}

// stepConnecting waits for a non-empty telemetry read (spec.md §4.5,
// connecting -> connected on "telemetry up").
func (s *Supervisor) stepConnecting() error {
	pair, err := s.snap.Tick()
	if err != nil {
		return err
	}
	if len(pair.Current) == 0 && pair.Session.SessionIndex == 0 {
		return nil // transient: stay in connecting
	}
	s.setState(StateConnected, "telemetry up")
	return nil
}

// stepConnected reads session info and advances once a session is known.
func (s *Supervisor) stepConnected() error {
	pair, err := s.snap.Tick()
	if err != nil {
		return err
	}
	if pair.Session.Type == "" {
		return nil
	}
	s.setState(StateAwaitingRaceSession, "session info read")
	return nil
}

// stepAwaitingRaceSession waits for the session type to become race.
func (s *Supervisor) stepAwaitingRaceSession() error {
	pair, err := s.snap.Tick()
	if err != nil {
		return err
	}
	if pair.Session.Type != telemetry.SessionRace {
		return nil
	}
	s.setState(StateAwaitingGreen, "session type = race")
	return nil
}

// stepAwaitingGreen waits for the green flag, or the skip-wait-for-green
// developer signal, and records the race-start timestamp used by dynamic
// threshold scaling and the random detector's eligibility gate.
func (s *Supervisor) stepAwaitingGreen() error {
	if s.skipWaitForGreen.Load() {
		s.skipWaitForGreen.Store(false)
		s.beginRace()
		return nil
	}
	pair, err := s.snap.Tick()
	if err != nil {
		return err
	}
	if !pair.Session.GreenFlag {
		return nil
	}
	s.beginRace()
	return nil
}

func (s *Supervisor) beginRace() {
	s.raceStartAt = time.Now()
	s.raceStartKnown = true
	s.setState(StateMonitoring, "green flag set: race_started")
}

// stepMonitoring runs one tick of the core pipeline — Snapshot, Detect,
// Aggregate — and transitions to caution-active on a trip (spec.md §2's
// control flow, §4.5's eligibility gate).
func (s *Supervisor) stepMonitoring(ctx context.Context) error {
	manual := s.manualTrip.Load()
	s.manualTrip.Store(false)

	pair, err := s.snap.Tick()
	if err != nil {
		return err
	}
	if len(pair.Current) == 0 {
		return nil // transient telemetry failure; loop continues (spec.md §7)
	}

	now := time.Now()
	s.aggregator.AgeOut(now)

	state := detect.State{
		Now:             now,
		SupervisorState: string(StateMonitoring),
		RaceStartAt:     s.raceStartAt,
		RaceStartKnown:  s.raceStartKnown,
		EarliestMinute:  s.cfg.Eligibility.EarliestMinute,
		LatestMinute:    s.cfg.Eligibility.LatestMinute,
	}
	var events []detect.Event
	for _, d := range s.detectors {
		if !d.ShouldRun(state) {
			continue
		}
		events = append(events, d.Detect(pair, now)...)
	}
	s.aggregator.Ingest(events)

	trip := s.aggregator.Evaluate(now, s.raceStartAt, s.raceStartKnown)

	if !manual && !trip.Tripped {
		return nil
	}
	if !s.eligible(manual, now) {
		return nil
	}

	reason := "per-type"
	eventType := string(trip.EventType)
	switch {
	case manual:
		reason = "manual"
		eventType = ""
	case trip.Reason == "accumulative":
		reason = "accumulative"
		eventType = ""
	}

	lap := maxLapsCompleted(pair.Current)
	cycleID, herr := history.RecordCycleStart(s.db, reason, eventType, cautionMessage(reason, eventType), lap)
	if herr != nil {
		log.Printf("supervisor: record cycle start: %v", herr)
	}
	s.pendingCycleID = cycleID
	s.pendingReason = reason

	if records := detectionEventRecords(trip.Events); len(records) > 0 {
		if herr := history.RecordCycleEvents(s.db, cycleID, records); herr != nil {
			log.Printf("supervisor: record cycle events: %v", herr)
		}
	}

	s.aggregator.Clear() // post-trip clear (testable property 6)
	s.totalCautions++
	s.lastCautionAt = now
	s.setState(StateCautionActive, reason)
	return nil
}

// detectionEventRecords converts the detector events behind a trip into the
// rows history.RecordCycleEvents persists. A driverless event (the Random
// detector) keeps detect.NoDriverSlot and an empty car number.
func detectionEventRecords(events []detect.Event) []models.DetectionEventRecord {
	records := make([]models.DetectionEventRecord, len(events))
	for i, e := range events {
		rec := models.DetectionEventRecord{
			EventType: string(e.Type),
			SlotIndex: detect.NoDriverSlot,
			Timestamp: e.Timestamp,
		}
		if e.HasDriver {
			rec.SlotIndex = e.Driver.SlotIndex
			rec.CarNumber = e.Driver.CarNumber
		}
		records[i] = rec
	}
	return records
}

// eligible implements spec.md §4.5's eligibility gate. The manual signal
// bypasses every gate except total_cautions.
func (s *Supervisor) eligible(manual bool, now time.Time) bool {
	e := s.cfg.Eligibility
	if e.MaxCautions > 0 && s.totalCautions >= e.MaxCautions {
		return false
	}
	if manual {
		return true
	}
	if !s.raceStartKnown {
		return false
	}
	minutesSince := now.Sub(s.raceStartAt).Minutes()
	if minutesSince < float64(e.EarliestMinute) {
		return false
	}
	if e.LatestMinute > 0 && minutesSince > float64(e.LatestMinute) {
		return false
	}
	if !s.lastCautionAt.IsZero() && now.Sub(s.lastCautionAt).Minutes() < float64(e.MinimumMinutesBetween) {
		return false
	}
	return true
}

// stepCautionActive runs the Procedure Sequencer to completion, then waits
// for the green flag before returning to monitoring (spec.md §4.4 Phase E,
// §4.5's caution-active -> monitoring transition).
func (s *Supervisor) stepCautionActive(ctx context.Context) error {
	seq := s.seqFactory()
	message := cautionMessage(s.pendingReason, "")

	result, err := seq.Run(ctx, message, nil)
	if err != nil {
		if ctx.Err() != nil || s.shutdown.Load() {
			return nil // cooperative unwind; Run's outer loop handles shutdown
		}
		return err
	}

	if herr := history.RecordCycleEnd(s.db, s.pendingCycleID, result.WaveCount, result.EOLCount, result.PaceLaps); herr != nil {
		log.Printf("supervisor: record cycle end: %v", herr)
	}

	return s.waitForGreen(ctx)
}

// waitForGreen blocks (cooperatively, honoring shutdown) until the green
// flag is restored, then returns to monitoring.
func (s *Supervisor) waitForGreen(ctx context.Context) error {
	for {
		if s.shutdown.Load() || ctx.Err() != nil {
			return nil
		}
		pair, err := s.snap.Tick()
		if err != nil {
			return err
		}
		if pair.Session.GreenFlag {
			s.setState(StateMonitoring, "Sequencer returns & green restored")
			return nil
		}
		sleepWithContext(ctx, s.cfg.PollInterval)
	}
}

func cautionMessage(reason, eventType string) string {
	switch reason {
	case "manual":
		return "manual caution"
	case "accumulative":
		return "multiple incidents"
	default:
		return eventType + " cars"
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

func sleepWithContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
