package antenna

import "fmt"

type State int

const (
	StateIdle State = iota
	StateMoving
	StateError
	StateStopped
	StateCalibrating
)

var stateNames = map[State]string{
	StateIdle:        "idle",
	StateMoving:      "moving",
	StateError:       "error",
	StateStopped:     "stopped",
	StateCalibrating: "calibrating",
}

// States lists every state in declaration order.
var States = []State{StateIdle, StateMoving, StateError, StateStopped, StateCalibrating}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown antenna state %q", text)
}
