// Package aggregate implements the Threshold Aggregator (spec.md §4.3): a
// bounded-time queue of detection events, deduplicated per driver/event-type,
// optionally clustered by on-track proximity, evaluated against per-type and
// accumulative thresholds with dynamic race-start scaling.
package aggregate

import (
	"sort"
	"time"

	"github.com/zulandar/safetycar/internal/detect"
)

// queueKey identifies an event by driver slot and type for deduplication.
// Random events (driverless) use NoDriverKey as the slot component.
type queueKey struct {
	Slot int
	Type detect.EventType
}

const noDriverKey = detect.NoDriverSlot

// queuedEvent pairs a detection event with an identity used to make
// cluster evaluation idempotent across the wrap-around duplication in
// proximity mode (spec.md §4.3).
type queuedEvent struct {
	event detect.Event
	id    uint64
}

// Config bundles the aggregator's tunables, mirroring spec.md §6's
// configuration surface.
type Config struct {
	WindowSeconds          int
	PerTypeThresholds      map[detect.EventType]int
	PerTypeWeights         map[detect.EventType]int
	AccumulativeThreshold  int
	ProximityEnabled       bool
	ProximityDistance      float64
	RaceStartMultiplier    float64
	RaceStartMultiplierSec int
}

// TripResult reports a successful threshold trip.
type TripResult struct {
	Tripped   bool
	Reason    string
	EventType detect.EventType // set when a per-type threshold tripped
	Events    []detect.Event   // the cluster's contributing events
}

// Aggregator owns the time-ordered event queue and the most-recent-event
// dedup map.
type Aggregator struct {
	cfg   Config
	queue []queuedEvent
	nextID uint64
}

// New builds an Aggregator from cfg.
func New(cfg Config) *Aggregator {
	if cfg.PerTypeThresholds == nil {
		cfg.PerTypeThresholds = map[detect.EventType]int{}
	}
	if cfg.PerTypeWeights == nil {
		cfg.PerTypeWeights = map[detect.EventType]int{}
	}
	return &Aggregator{cfg: cfg}
}

// AgeOut drops all queued events with timestamp < now - W (spec.md §4.3,
// step 1; testable property 3).
func (a *Aggregator) AgeOut(now time.Time) {
	cutoff := now.Add(-time.Duration(a.cfg.WindowSeconds) * time.Second)
	kept := a.queue[:0]
	for _, qe := range a.queue {
		if !qe.event.Timestamp.Before(cutoff) {
			kept = append(kept, qe)
		}
	}
	a.queue = kept
}

// Ingest appends every event emitted this tick (spec.md §4.3, step 2).
func (a *Aggregator) Ingest(events []detect.Event) {
	for _, e := range events {
		a.nextID++
		a.queue = append(a.queue, queuedEvent{event: e, id: a.nextID})
	}
}

// Clear empties the queue. Called by the Supervisor after a trip so the
// same events cannot retrigger the next cycle (spec.md §4.3, Post-trip;
// testable property 6).
func (a *Aggregator) Clear() {
	a.queue = nil
}

// Len reports the number of events currently queued, for observability.
func (a *Aggregator) Len() int { return len(a.queue) }

// latestByKey returns, for each (slot, type) still in the window, only the
// most recent such event (spec.md §4.3; testable property 4, deduplication).
func (a *Aggregator) latestByKey() []queuedEvent {
	latest := make(map[queueKey]queuedEvent)
	for _, qe := range a.queue {
		var key queueKey
		if qe.event.HasDriver {
			key = queueKey{Slot: qe.event.Driver.SlotIndex, Type: qe.event.Type}
		} else {
			key = queueKey{Slot: noDriverKey, Type: qe.event.Type}
		}
		if existing, ok := latest[key]; !ok || qe.event.Timestamp.After(existing.event.Timestamp) {
			latest[key] = qe
		}
	}
	result := make([]queuedEvent, 0, len(latest))
	for _, qe := range latest {
		result = append(result, qe)
	}
	return result
}

// cluster is an ephemeral grouping of events for one threshold evaluation
// (spec.md §3, "Cluster").
type cluster struct {
	members []queuedEvent
}

// buildClusters forms candidate groups per spec.md §4.3's evaluation
// algorithm. Random events carry no driver and are assigned to every
// cluster, since they represent a global trip.
func (a *Aggregator) buildClusters(latest []queuedEvent) []cluster {
	var randoms []queuedEvent
	var withDriver []queuedEvent
	for _, qe := range latest {
		if qe.event.HasDriver {
			withDriver = append(withDriver, qe)
		} else {
			randoms = append(randoms, qe)
		}
	}

	var clusters []cluster
	if !a.cfg.ProximityEnabled {
		clusters = []cluster{{members: append([]queuedEvent{}, withDriver...)}}
	} else {
		clusters = a.clusterByProximity(withDriver)
	}

	for i := range clusters {
		clusters[i].members = append(clusters[i].members, randoms...)
	}
	if len(clusters) == 0 && len(randoms) > 0 {
		clusters = []cluster{{members: append([]queuedEvent{}, randoms...)}}
	}
	return clusters
}

// clusterByProximity sorts events by lap_progress, duplicates each at
// lap_progress + 1 to handle track wrap, and sweeps a sliding window,
// closing a cluster whenever the gap exceeds the configured proximity
// distance. A cluster is evaluated at most once even though its members may
// appear twice due to the wrap duplication, enforced by tracking event
// identity (spec.md §4.3).
func (a *Aggregator) clusterByProximity(events []queuedEvent) []cluster {
	if len(events) == 0 {
		return nil
	}

	type posEvent struct {
		qe  queuedEvent
		pos float64
	}
	var doubled []posEvent
	for _, qe := range events {
		p := qe.event.Driver.CompositeProgress()
		lapFrac := p - float64(int(p))
		doubled = append(doubled, posEvent{qe: qe, pos: lapFrac})
		doubled = append(doubled, posEvent{qe: qe, pos: lapFrac + 1})
	}
	sort.Slice(doubled, func(i, j int) bool { return doubled[i].pos < doubled[j].pos })

	seen := make(map[uint64]bool)
	var clusters []cluster
	var current []queuedEvent
	var lastPos float64
	started := false

	flush := func() {
		if len(current) == 0 {
			return
		}
		fresh := current[:0:0]
		for _, qe := range current {
			if !seen[qe.id] {
				fresh = append(fresh, qe)
			}
		}
		if len(fresh) > 0 {
			clusters = append(clusters, cluster{members: fresh})
			for _, qe := range fresh {
				seen[qe.id] = true
			}
		}
		current = nil
	}

	for _, pe := range doubled {
		if !started {
			current = append(current, pe.qe)
			lastPos = pe.pos
			started = true
			continue
		}
		if pe.pos-lastPos <= a.cfg.ProximityDistance {
			current = append(current, pe.qe)
		} else {
			flush()
			current = append(current, pe.qe)
		}
		lastPos = pe.pos
	}
	flush()

	return clusters
}

// scaledThreshold applies the configured race-start multiplier when now is
// within T seconds of raceStartAt (spec.md §4.3, Dynamic scaling).
func (a *Aggregator) scaledThreshold(base int, now, raceStartAt time.Time, raceStartKnown bool) float64 {
	threshold := float64(base)
	if raceStartKnown && a.cfg.RaceStartMultiplierSec > 0 {
		if now.Sub(raceStartAt) <= time.Duration(a.cfg.RaceStartMultiplierSec)*time.Second {
			mult := a.cfg.RaceStartMultiplier
			if mult < 1 {
				mult = 1
			}
			threshold *= mult
		}
	}
	return threshold
}

// Evaluate runs the per-tick evaluation algorithm (spec.md §4.3,
// "Evaluation algorithm" + "Thresholds"). Call after AgeOut and Ingest.
func (a *Aggregator) Evaluate(now, raceStartAt time.Time, raceStartKnown bool) TripResult {
	latest := a.latestByKey()
	clusters := a.buildClusters(latest)

	for _, c := range clusters {
		if res := a.evaluateCluster(c, now, raceStartAt, raceStartKnown); res.Tripped {
			return res
		}
	}
	return TripResult{}
}

func (a *Aggregator) evaluateCluster(c cluster, now, raceStartAt time.Time, raceStartKnown bool) TripResult {
	// Per-type threshold: count of each type within the cluster.
	counts := make(map[detect.EventType]int)
	for _, qe := range c.members {
		counts[qe.event.Type]++
	}
	for evType, count := range counts {
		threshold, ok := a.cfg.PerTypeThresholds[evType]
		if !ok || threshold <= 0 {
			continue
		}
		scaled := a.scaledThreshold(threshold, now, raceStartAt, raceStartKnown)
		if float64(count) >= scaled {
			return TripResult{Tripped: true, Reason: "per-type", EventType: evType, Events: clusterEvents(c)}
		}
	}

	// Accumulative threshold: per-driver max-weight contribution, summed.
	// A driver counted under multiple event types contributes only the
	// single highest-weight type (no double counting; testable property 5).
	perDriverMax := make(map[int]int)
	var randomWeight int
	for _, qe := range c.members {
		w := a.cfg.PerTypeWeights[qe.event.Type]
		if !qe.event.HasDriver {
			if w > randomWeight {
				randomWeight = w
			}
			continue
		}
		slot := qe.event.Driver.SlotIndex
		if w > perDriverMax[slot] {
			perDriverMax[slot] = w
		}
	}
	sum := randomWeight
	for _, w := range perDriverMax {
		sum += w
	}
	if a.cfg.AccumulativeThreshold > 0 {
		scaled := a.scaledThreshold(a.cfg.AccumulativeThreshold, now, raceStartAt, raceStartKnown)
		if float64(sum) >= scaled {
			return TripResult{Tripped: true, Reason: "accumulative", Events: clusterEvents(c)}
		}
	}

	return TripResult{}
}

// clusterEvents extracts the raw detection events behind a tripped cluster,
// for persistence alongside the CautionCycle (internal/history).
func clusterEvents(c cluster) []detect.Event {
	events := make([]detect.Event, len(c.members))
	for i, qe := range c.members {
		events[i] = qe.event
	}
	return events
}
