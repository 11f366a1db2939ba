package machine

import "github.com/CZERTAINLY/Factory/internal/model"

// SignalLight mirrors the machine state. It has no behavior of its own, the
// machine refreshes it on every state change.
type SignalLight struct {
	color model.Color
}

func NewSignalLight() SignalLight {
	return SignalLight{color: model.ColorOf(model.StateReady)}
}

func (l *SignalLight) Update(s model.State) {
	l.color = model.ColorOf(s)
}

func (l SignalLight) Color() model.Color {
	return l.color
}
