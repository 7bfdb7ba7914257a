package churn

import (
	"math"

	"github.com/yairfalse/lifeline/pkg/domain"
)

// identityCalibration leaves a raw probability unchanged:
// sigmoid(1*logit(p) + 0) == p.
func identityCalibration() domain.CalibrationParams {
	return domain.CalibrationParams{A: 1, B: 0}
}

// fitCalibration fits logistic (Platt) calibration coefficients mapping a raw
// probability-shaped score to a calibrated probability via
// sigmoid(a*logit(raw) + b). The slope is clamped non-negative so
// calibration preserves the raw signal's ordering, which the monotonicity
// guarantees depend on.
func fitCalibration(raws []float64, labels []bool, learningRate float64, epochs int) domain.CalibrationParams {
	if len(raws) == 0 || len(raws) != len(labels) {
		return identityCalibration()
	}

	a, b := 1.0, 0.0
	n := float64(len(raws))

	for epoch := 0; epoch < epochs; epoch++ {
		gradA, gradB := 0.0, 0.0
		for i, raw := range raws {
			x := clampedLogit(raw)
			pred := sigmoid(a*x + b)
			y := 0.0
			if labels[i] {
				y = 1.0
			}
			residual := pred - y
			gradA += residual * x
			gradB += residual
		}
		a -= learningRate * gradA / n
		b -= learningRate * gradB / n
	}

	if a < 0 {
		a = 0
	}

	return domain.CalibrationParams{A: a, B: b}
}

// applyCalibration maps a raw score through fitted calibration parameters.
func applyCalibration(cal domain.CalibrationParams, raw float64) float64 {
	return sigmoid(cal.A*clampedLogit(raw) + cal.B)
}

// clampedLogit is logit with the input pulled off the {0,1} boundary so the
// transform stays finite.
func clampedLogit(p float64) float64 {
	const eps = 1e-6
	if p < eps {
		p = eps
	}
	if p > 1-eps {
		p = 1 - eps
	}
	return math.Log(p / (1 - p))
}
