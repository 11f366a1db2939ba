package model

import "strconv"

// State of a machine. There is no terminal state, Error is left via Stop.
type State int

const (
	StateReady State = iota
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "Ready"
	case StateRunning:
		return "Running"
	case StateError:
		return "Error"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Color of the signal light mounted on a machine.
type Color int

const (
	Yellow Color = iota
	Green
	Red
)

func (c Color) String() string {
	switch c {
	case Yellow:
		return "Yellow"
	case Green:
		return "Green"
	case Red:
		return "Red"
	default:
		return "Color(" + strconv.Itoa(int(c)) + ")"
	}
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ColorOf maps a machine state to the light color
//
//	Ready   -> Yellow
//	Running -> Green
//	Error   -> Red
func ColorOf(s State) Color {
	switch s {
	case StateRunning:
		return Green
	case StateError:
		return Red
	default:
		return Yellow
	}
}
