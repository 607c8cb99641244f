//go:build rp2040

package sensors

import (
	"context"
	"machine"
)

// ADC reads the rp2040 analog inputs, normalised to [0, 1]. Channel n is
// the n-th pin passed to NewADC.
type ADC struct {
	pins []machine.ADC
}

func NewADC(pins ...machine.Pin) *ADC {
	machine.InitADC()
	a := &ADC{pins: make([]machine.ADC, len(pins))}
	for i, p := range pins {
		a.pins[i] = machine.ADC{Pin: p}
		a.pins[i].Configure(machine.ADCConfig{})
	}
	return a
}

func (a *ADC) Read(_ context.Context, channel int) (float32, error) {
	if channel < 0 || channel >= len(a.pins) {
		return 0, ErrNoChannel
	}
	return float32(a.pins[channel].Get()) / 65535, nil
}
