package aggregate

import (
	"testing"
	"time"

	"github.com/zulandar/safetycar/internal/detect"
	"github.com/zulandar/safetycar/internal/telemetry"
)

func evAt(evType detect.EventType, slot int, lapProgress float64, t time.Time) detect.Event {
	return detect.Event{
		Type:      evType,
		HasDriver: true,
		Driver:    telemetry.Driver{SlotIndex: slot, LapsCompleted: 10, LapProgress: lapProgress},
		Timestamp: t,
	}
}

func baseCfg() Config {
	return Config{
		WindowSeconds:     5,
		PerTypeThresholds: map[detect.EventType]int{},
		PerTypeWeights:    map[detect.EventType]int{},
	}
}

// S1 — two stopped cars trip a stopped=2 threshold.
func TestEvaluate_S1_StoppedThresholdTrips(t *testing.T) {
	now := time.Now()
	cfg := baseCfg()
	cfg.PerTypeThresholds[detect.EventStopped] = 2
	a := New(cfg)

	a.AgeOut(now)
	a.Ingest([]detect.Event{
		evAt(detect.EventStopped, 1, 0.5, now),
		evAt(detect.EventStopped, 2, 0.5, now),
	})
	res := a.Evaluate(now, time.Time{}, false)
	if !res.Tripped || res.Reason != "per-type" || res.EventType != detect.EventStopped {
		t.Fatalf("expected stopped per-type trip, got %+v", res)
	}
	if len(res.Events) != 2 {
		t.Fatalf("expected the tripping cluster's 2 events attached, got %d", len(res.Events))
	}
}

// S2 — off-track alone under its threshold never trips, and ages out after W.
func TestEvaluate_S2_OffTrackAloneInsufficientThenAgesOut(t *testing.T) {
	start := time.Now()
	cfg := baseCfg()
	cfg.PerTypeThresholds[detect.EventOffTrack] = 3
	cfg.PerTypeThresholds[detect.EventStopped] = 2
	a := New(cfg)

	for i := 0; i < 5; i++ {
		now := start.Add(time.Duration(i) * time.Second)
		a.AgeOut(now)
		a.Ingest([]detect.Event{
			evAt(detect.EventOffTrack, 1, 0.2, now),
			evAt(detect.EventOffTrack, 2, 0.8, now),
		})
		res := a.Evaluate(now, time.Time{}, false)
		if res.Tripped {
			t.Fatalf("tick %d: unexpected trip %+v", i, res)
		}
	}
	if a.Len() != 2 {
		t.Fatalf("expected dedup to hold exactly 2 queued events, got %d", a.Len())
	}

	past := start.Add(6 * time.Second)
	a.AgeOut(past)
	if a.Len() != 0 {
		t.Fatalf("expected queue emptied after window elapses, got %d", a.Len())
	}
}

// S3 — accumulative trip: 1 stopped (w=2) + 2 off-track (w=1 each) = 4 >= 4.
func TestEvaluate_S3_AccumulativeTrip(t *testing.T) {
	now := time.Now()
	cfg := baseCfg()
	cfg.PerTypeWeights[detect.EventStopped] = 2
	cfg.PerTypeWeights[detect.EventOffTrack] = 1
	cfg.AccumulativeThreshold = 4
	a := New(cfg)

	a.Ingest([]detect.Event{
		evAt(detect.EventStopped, 1, 0.5, now),
		evAt(detect.EventOffTrack, 2, 0.2, now),
		evAt(detect.EventOffTrack, 3, 0.8, now),
	})
	res := a.Evaluate(now, time.Time{}, false)
	if !res.Tripped || res.Reason != "accumulative" {
		t.Fatalf("expected accumulative trip, got %+v", res)
	}
}

// S4 — double counting protected: one driver both stopped and off-track
// contributes max(2,1)=2, not 2+1=3.
func TestEvaluate_S4_DoubleCountingProtected(t *testing.T) {
	now := time.Now()
	cfg := baseCfg()
	cfg.PerTypeWeights[detect.EventStopped] = 2
	cfg.PerTypeWeights[detect.EventOffTrack] = 1
	cfg.AccumulativeThreshold = 4

	// Sub-case: multi-type driver (contributes 2) + three other off-track
	// drivers (1 each) = 2 + 3 = 5 >= 4 -> trip.
	a := New(cfg)
	a.Ingest([]detect.Event{
		evAt(detect.EventStopped, 1, 0.1, now),
		evAt(detect.EventOffTrack, 1, 0.1, now),
		evAt(detect.EventOffTrack, 2, 0.2, now),
		evAt(detect.EventOffTrack, 3, 0.3, now),
		evAt(detect.EventOffTrack, 4, 0.4, now),
	})
	res := a.Evaluate(now, time.Time{}, false)
	if !res.Tripped {
		t.Fatalf("expected accumulative trip with 5 weighted sum, got %+v", res)
	}

	// Sub-case: multi-type driver (2) + one other off-track driver (1) = 3 < 4
	// -> no trip.
	b := New(cfg)
	b.Ingest([]detect.Event{
		evAt(detect.EventStopped, 1, 0.1, now),
		evAt(detect.EventOffTrack, 1, 0.1, now),
		evAt(detect.EventOffTrack, 2, 0.2, now),
	})
	res2 := b.Evaluate(now, time.Time{}, false)
	if res2.Tripped {
		t.Fatalf("expected no trip with weighted sum 3, got %+v", res2)
	}
}

// S5 — proximity gating: two clusters of 2 vs. threshold 3 -> no trip; moving
// the fourth event closer forms one cluster of 3 -> trip.
func TestEvaluate_S5_ProximityGating(t *testing.T) {
	now := time.Now()
	cfg := baseCfg()
	cfg.ProximityEnabled = true
	cfg.ProximityDistance = 0.05
	cfg.PerTypeThresholds[detect.EventOffTrack] = 3

	a := New(cfg)
	a.Ingest([]detect.Event{
		evAt(detect.EventOffTrack, 1, 0.10, now),
		evAt(detect.EventOffTrack, 2, 0.12, now),
		evAt(detect.EventOffTrack, 3, 0.60, now),
		evAt(detect.EventOffTrack, 4, 0.62, now),
	})
	res := a.Evaluate(now, time.Time{}, false)
	if res.Tripped {
		t.Fatalf("expected no trip with two clusters of 2, got %+v", res)
	}

	b := New(cfg)
	b.Ingest([]detect.Event{
		evAt(detect.EventOffTrack, 1, 0.10, now),
		evAt(detect.EventOffTrack, 2, 0.12, now),
		evAt(detect.EventOffTrack, 3, 0.14, now),
	})
	res2 := b.Evaluate(now, time.Time{}, false)
	if !res2.Tripped || res2.EventType != detect.EventOffTrack {
		t.Fatalf("expected cluster of 3 to trip, got %+v", res2)
	}
}

// Testable property 6: post-trip clear prevents the same events retripping.
func TestClear_PostTripPreventsRetrip(t *testing.T) {
	now := time.Now()
	cfg := baseCfg()
	cfg.PerTypeThresholds[detect.EventStopped] = 2
	a := New(cfg)
	a.Ingest([]detect.Event{
		evAt(detect.EventStopped, 1, 0.5, now),
		evAt(detect.EventStopped, 2, 0.5, now),
	})
	if res := a.Evaluate(now, time.Time{}, false); !res.Tripped {
		t.Fatalf("expected first evaluate to trip, got %+v", res)
	}
	a.Clear()
	if a.Len() != 0 {
		t.Fatalf("expected empty queue after Clear, got %d", a.Len())
	}
	if res := a.Evaluate(now, time.Time{}, false); res.Tripped {
		t.Fatalf("expected no trip against cleared queue, got %+v", res)
	}
}

// Dynamic scaling: a race-start multiplier raises the effective threshold
// within the configured window.
func TestEvaluate_RaceStartMultiplierScalesThreshold(t *testing.T) {
	now := time.Now()
	raceStart := now.Add(-2 * time.Second)
	cfg := baseCfg()
	cfg.PerTypeThresholds[detect.EventStopped] = 2
	cfg.RaceStartMultiplier = 2
	cfg.RaceStartMultiplierSec = 10
	a := New(cfg)
	a.Ingest([]detect.Event{
		evAt(detect.EventStopped, 1, 0.5, now),
		evAt(detect.EventStopped, 2, 0.5, now),
	})
	// Effective threshold is 2*2=4; only 2 events queued, so no trip.
	if res := a.Evaluate(now, raceStart, true); res.Tripped {
		t.Fatalf("expected scaled threshold to suppress trip, got %+v", res)
	}
	// Outside the window, scaling no longer applies: threshold reverts to 2.
	laterStart := now.Add(-20 * time.Second)
	if res := a.Evaluate(now, laterStart, true); !res.Tripped {
		t.Fatalf("expected unscaled threshold to trip once outside window, got %+v", res)
	}
}

// Random events are cluster-neutral: they join whatever cluster(s) exist and
// contribute toward any trip they're relevant to, without a driver identity.
func TestEvaluate_RandomEventJoinsEveryCluster(t *testing.T) {
	now := time.Now()
	cfg := baseCfg()
	cfg.ProximityEnabled = true
	cfg.ProximityDistance = 0.05
	cfg.PerTypeThresholds[detect.EventRandom] = 1
	a := New(cfg)
	a.Ingest([]detect.Event{
		{Type: detect.EventRandom, HasDriver: false, Timestamp: now},
	})
	res := a.Evaluate(now, time.Time{}, false)
	if !res.Tripped || res.EventType != detect.EventRandom {
		t.Fatalf("expected random event alone to trip per-type threshold 1, got %+v", res)
	}
}

// Deduplication: a driver emitting the same event type twice within the
// window contributes only once (latest timestamp wins).
func TestLatestByKey_DeduplicatesRepeatedEventsFromSameDriver(t *testing.T) {
	now := time.Now()
	cfg := baseCfg()
	cfg.PerTypeThresholds[detect.EventStopped] = 2
	a := New(cfg)
	a.Ingest([]detect.Event{
		evAt(detect.EventStopped, 1, 0.5, now),
		evAt(detect.EventStopped, 1, 0.5, now.Add(time.Second)),
	})
	res := a.Evaluate(now.Add(time.Second), time.Time{}, false)
	if res.Tripped {
		t.Fatalf("expected no trip: only one distinct driver queued, got %+v", res)
	}
}
