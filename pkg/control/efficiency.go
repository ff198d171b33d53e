package control

import (
	"github.com/chewxy/math32"

	"github.com/itohio/goapwm/pkg/config"
	"github.com/itohio/goapwm/pkg/sample"
)

// Model estimates conversion efficiency from switching and conduction losses:
//
//	losses = k*L*d^2 + ESR*d^2
//	efficiency = 1                      if losses < negligible
//	           = clamp(1-losses, 0, 1)  otherwise
type Model struct {
	SwitchingCoefficient float32
	NegligibleLoss       float32
}

// NewModel creates a Model from efficiency settings.
func NewModel(cfg config.EfficiencyConfig) Model {
	return Model{
		SwitchingCoefficient: cfg.SwitchingCoefficient,
		NegligibleLoss:       cfg.NegligibleLoss,
	}
}

// Efficiency returns the estimated efficiency in [0, 1] at the given duty cycle.
func (m Model) Efficiency(p sample.Params, duty float32) float32 {
	d2 := duty * duty
	losses := m.SwitchingCoefficient*p.InductanceMH*d2 + p.ESRMOhm*d2

	if math32.IsNaN(losses) {
		return 0
	}
	if losses < m.NegligibleLoss {
		return 1
	}
	return math32.Max(0, math32.Min(1, 1-losses))
}
