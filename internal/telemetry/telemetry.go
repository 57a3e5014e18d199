// Package telemetry defines the driver record, the double-buffered
// snapshot pair, and the read-only source interface the Fleet Snapshotter
// polls each tick.
package telemetry

// Surface classifies a driver's on-track state.
type Surface string

const (
	SurfaceNotInWorld    Surface = "not-in-world"
	SurfaceOffTrack      Surface = "off-track"
	SurfaceInPitStall    Surface = "in-pit-stall"
	SurfaceApproachingPits Surface = "approaching-pits"
	SurfaceOnTrack       Surface = "on-track"
)

// SessionType is the simulator's session classification.
type SessionType string

const (
	SessionPractice SessionType = "practice"
	SessionQualify  SessionType = "qualify"
	SessionWarmup   SessionType = "warmup"
	SessionRace     SessionType = "race"
)

// Driver is one fleet slot's telemetry, as read this tick. SlotIndex is the
// stable fleet array index (0..N-1); driver records are value types copied
// wholesale each tick, never mutated in place.
type Driver struct {
	SlotIndex        int     `json:"slot_index"`
	CarNumber        string  `json:"car_number"`
	ClassID          string  `json:"class_id"`
	ClassExpectedLap float64 `json:"class_expected_lap"` // seconds; used to order classes in Phase C
	PaceCar          bool    `json:"pace_car"`
	LapsCompleted    int     `json:"laps_completed"`
	LapInProgress    int     `json:"lap_in_progress"`
	LapProgress      float64 `json:"lap_progress"` // fraction in [0,1); may read negative (quirk)
	Surface          Surface `json:"surface"`
	OnPitRoad        bool    `json:"on_pit_road"`
}

// CompositeProgress is laps_completed + lap_progress, the canonical
// running-order key (GLOSSARY).
func (d Driver) CompositeProgress() float64 {
	return float64(d.LapsCompleted) + d.LapProgress
}

// SessionInfo describes the current session as read from telemetry.
type SessionInfo struct {
	SessionIndex int         `json:"session_index"`
	Type         SessionType `json:"type"`
	GreenFlag    bool        `json:"green_flag"`
}

// SnapshotPair holds the current and previous tick's driver records, keyed
// by slot index. On the first tick Previous equals Current (spec.md §3).
type SnapshotPair struct {
	Previous []Driver
	Current  []Driver
	Session  SessionInfo
	// PaceCarSlot is the pace car's slot index, retained out-of-band because
	// the Sequencer needs it even though the pace car is elided from every
	// other computation (spec.md §4.1).
	PaceCarSlot int
	// HasPaceCar reports whether a pace-car slot was found this tick.
	HasPaceCar bool
	// PaceCarProgress is the pace car's composite progress, retained
	// alongside its slot index for the Sequencer's order-behind-safety-car
	// computation (spec.md §4.4).
	PaceCarProgress float64
}

// ByPrevious returns the previous-tick Driver record for slot, and whether
// one was found.
func (p SnapshotPair) ByPrevious(slot int) (Driver, bool) {
	for _, d := range p.Previous {
		if d.SlotIndex == slot {
			return d, true
		}
	}
	return Driver{}, false
}

// Source is the pollable, read-only telemetry interface (spec.md §6,
// "Telemetry source (inbound)"). A nil or failing Source is treated by the
// Fleet Snapshotter as a transient disconnect.
type Source interface {
	// Poll reads the current instant's raw telemetry. It may return a
	// partially torn read; the Snapshotter tolerates this and derives its
	// own composite progress rather than trusting any pre-computed field.
	Poll() (RawFrame, error)
}

// RawFrame is the raw per-slot telemetry arrays exposed by the simulator,
// before the Snapshotter's filtering and composite-progress derivation.
type RawFrame struct {
	Session SessionInfo
	Drivers []Driver
}
