package flightsim

import (
	"errors"
	"fmt"
)

var (
	// ErrActionSetup is matched by every ActionSetupError.
	ErrActionSetup = errors.New("flight plan action setup failed")
	// ErrAccelExceedsMax is logged when a commanded acceleration is clamped.
	ErrAccelExceedsMax = errors.New("acceleration exceeds the ship maximum")
	// ErrOutputDir is returned when the output directory is missing or unusable.
	ErrOutputDir = errors.New("invalid output directory")
	// ErrUnknownCommand is returned for a flight plan command which does not exist.
	ErrUnknownCommand = errors.New("unknown flight plan command")
	// ErrBadParams is returned for a flight plan command with invalid parameters.
	ErrBadParams = errors.New("invalid flight plan parameters")
	// ErrNotWaiting is returned by Load when a simulation is already loaded or running.
	ErrNotWaiting = errors.New("simulator is not waiting")
	// ErrNotLoaded is returned by Run without a loaded scenario.
	ErrNotLoaded = errors.New("no scenario loaded")
	// ErrNotRunning is returned by Restart when no simulation is running.
	ErrNotRunning = errors.New("simulator is not running")
	// ErrScenario is returned for an invalid scenario.
	ErrScenario = errors.New("invalid scenario")
)

// ActionSetupError reports an action of a ship's plan which could not be set
// up, typically because its target body cannot be resolved.
type ActionSetupError struct {
	Ship   string
	Action string
	Err    error
}

func (e *ActionSetupError) Error() string {
	return fmt.Sprintf("%s: ship %s: %s: %s", ErrActionSetup, e.Ship, e.Action, e.Err)
}

// Unwrap returns the underlying error.
func (e *ActionSetupError) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, ErrActionSetup).
func (e *ActionSetupError) Is(target error) bool {
	return target == ErrActionSetup
}

func paramsErr(cmd string, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrBadParams, cmd, fmt.Sprintf(format, args...))
}
