// Package detect implements the detection pipeline (spec.md §4.2): a set
// of stateless-or-nearly-so probes, each inspecting a snapshot pair and
// emitting typed detection events.
package detect

import (
	"math/rand"
	"time"

	"github.com/zulandar/safetycar/internal/telemetry"
)

// EventType is a closed enumeration of detection event kinds.
type EventType string

const (
	EventRandom   EventType = "random"
	EventStopped  EventType = "stopped"
	EventOffTrack EventType = "off-track"
)

// NoDriverSlot is the sentinel slot index for a driverless Random event
// (spec.md §4.2, Random Detector).
const NoDriverSlot = -1

// Event is a typed detection record (spec.md §3, "Detection event").
type Event struct {
	Type      EventType
	Driver    telemetry.Driver // snapshot-valued, copied; zero value for Random
	HasDriver bool
	Timestamp time.Time
}

// State bundles the context should_run needs to decide whether a detector
// runs this tick (spec.md §4.2).
type State struct {
	Now              time.Time
	LapsSinceStart   int
	SupervisorState  string
	RaceStartAt      time.Time
	RaceStartKnown   bool
	EarliestMinute   int // spec.md §4.5 eligibility window, mirrored here so a
	LatestMinute     int // detector can decline before spending its own budget
}

// withinEligibilityWindow reports whether state falls inside
// [EarliestMinute, LatestMinute] of the race, given RaceStartKnown. A zero
// LatestMinute means unbounded.
func (s State) withinEligibilityWindow() bool {
	if !s.RaceStartKnown {
		return false
	}
	minutesSince := s.Now.Sub(s.RaceStartAt).Minutes()
	if minutesSince < float64(s.EarliestMinute) {
		return false
	}
	if s.LatestMinute > 0 && minutesSince > float64(s.LatestMinute) {
		return false
	}
	return true
}

// Detector is the capability every probe implements.
type Detector interface {
	ShouldRun(state State) bool
	Detect(pair telemetry.SnapshotPair, now time.Time) []Event
}

// RandomDetector emits a driverless *random* event with configured
// per-tick probability, bounded by a remaining-occurrence budget.
type RandomDetector struct {
	Probability    float64
	MaxOccurrences int

	remaining int
	started   bool
	rng       *rand.Rand
}

// NewRandomDetector builds a RandomDetector with its budget initialized from
// maxOccurrences. rng may be nil to use the package-level source.
func NewRandomDetector(probability float64, maxOccurrences int, rng *rand.Rand) *RandomDetector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RandomDetector{Probability: probability, MaxOccurrences: maxOccurrences, remaining: maxOccurrences, rng: rng}
}

// ShouldRun restricts the random detector to the configured earliest/latest
// minute eligibility window (spec.md §4.5) — the caller (Supervisor) is
// responsible for only calling Tick during *monitoring*.
func (r *RandomDetector) ShouldRun(state State) bool {
	return state.withinEligibilityWindow() && r.remaining > 0
}

// Detect draws uniformly in [0,1) and, if below Probability, emits one
// *random* event against the no-driver sentinel and decrements the budget.
func (r *RandomDetector) Detect(_ telemetry.SnapshotPair, now time.Time) []Event {
	if r.remaining <= 0 {
		return nil
	}
	if r.rng.Float64() >= r.Probability {
		return nil
	}
	r.remaining--
	return []Event{{Type: EventRandom, HasDriver: false, Timestamp: now}}
}

// Remaining reports the random detector's remaining attempt budget — a soft
// cap on attempted trips, distinct from the hard `max_cautions` cap on
// delivered cautions (spec.md §9, Open Questions).
func (r *RandomDetector) Remaining() int { return r.remaining }

// StoppedDetector emits a *stopped* event for any driver whose composite
// progress is bitwise-equal between frames, excluding pit-road/pit-stall/
// approaching-pits drivers. Guards against a telemetry stall by suppressing
// the tick's events entirely when too many drivers qualify at once.
type StoppedDetector struct {
	LagThreshold int
}

func (s *StoppedDetector) ShouldRun(State) bool { return true }

func (s *StoppedDetector) Detect(pair telemetry.SnapshotPair, now time.Time) []Event {
	var candidates []telemetry.Driver
	for _, cur := range pair.Current {
		if cur.OnPitRoad || cur.Surface == telemetry.SurfaceInPitStall || cur.Surface == telemetry.SurfaceApproachingPits {
			continue
		}
		prev, ok := pair.ByPrevious(cur.SlotIndex)
		if !ok {
			continue
		}
		if cur.CompositeProgress() == prev.CompositeProgress() {
			candidates = append(candidates, cur)
		}
	}

	lag := s.LagThreshold
	if lag <= 0 {
		lag = (len(pair.Current) * 3) / 4 // "a large fraction of the fleet" default
		if lag < 1 {
			lag = 1
		}
	}
	if len(candidates) > lag {
		// Suspected telemetry stall (spec.md §7): suppress this tick's
		// stopped events and let the caller's logging surface it.
		return nil
	}

	events := make([]Event, 0, len(candidates))
	for _, d := range candidates {
		events = append(events, Event{Type: EventStopped, Driver: d, HasDriver: true, Timestamp: now})
	}
	return events
}

// OffTrackDetector emits an *off-track* event for every driver whose surface
// is off-track and who is not on pit road.
type OffTrackDetector struct{}

func (OffTrackDetector) ShouldRun(State) bool { return true }

func (OffTrackDetector) Detect(pair telemetry.SnapshotPair, now time.Time) []Event {
	var events []Event
	for _, d := range pair.Current {
		if d.Surface == telemetry.SurfaceOffTrack && !d.OnPitRoad {
			events = append(events, Event{Type: EventOffTrack, Driver: d, HasDriver: true, Timestamp: now})
		}
	}
	return events
}
