package flightsim

import "fmt"

// EventKind identifies a notable flight plan transition.
type EventKind uint8

const (
	// NoEvent is the zero EventKind.
	NoEvent EventKind = iota
	// BurnStart is emitted on the first tick of a Burn.
	BurnStart
	// BurnEnd is emitted once a Burn has lasted its duration.
	BurnEnd
	// Captured is emitted when a ship enters the capture radius of a Park.
	Captured
	// Parked is emitted when a Park reached the local circular velocity.
	Parked
	// Oriented is emitted when an Orient completes.
	Oriented
	// Phased is emitted when a Phase reaches its angle.
	Phased
	// WaitDone is emitted when a WaitTill completes.
	WaitDone
)

var eventNames = [...]string{"NONE", "BURN_START", "BURN_END", "CAPTURED", "PARKED", "ORIENTED", "PHASED", "WAIT_DONE"}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("EVENT(%d)", uint8(k))
}

// Event is one event of a ship at a simulation time.
type Event struct {
	T    float64 // seconds past J2000
	Ship string
	Kind EventKind
}

func (e Event) String() string {
	return fmt.Sprintf("%.1f %s %s", e.T, e.Ship, e.Kind)
}
