package churn

import (
	"fmt"
	"math"

	"github.com/yairfalse/lifeline/pkg/domain"
)

// recencyIndex is the position of recency_days in the feature schema. The
// trained recency weight is clamped non-negative so churn probability can
// never decrease as time since last purchase grows.
const recencyIndex = 0

// trainClassifier fits a logistic regression on standardized features with
// plain gradient descent. Labels are churned-within-horizon outcomes.
func trainClassifier(outcomes []domain.LabeledOutcome, learningRate float64, epochs int) (*domain.ClassifierParams, error) {
	if len(outcomes) == 0 {
		return nil, fmt.Errorf("no labeled outcomes")
	}

	dim := len(domain.FeatureSchema)
	rows := make([][]float64, len(outcomes))
	labels := make([]float64, len(outcomes))
	for i, o := range outcomes {
		rows[i] = o.Features.Values()
		if o.Churned {
			labels[i] = 1
		}
	}

	means, stds := standardization(rows, dim)
	for i := range rows {
		rows[i] = standardize(rows[i], means, stds)
	}

	weights := make([]float64, dim)
	bias := 0.0
	n := float64(len(rows))

	for epoch := 0; epoch < epochs; epoch++ {
		gradW := make([]float64, dim)
		gradB := 0.0

		for i, row := range rows {
			pred := sigmoid(dot(weights, row) + bias)
			residual := pred - labels[i]
			for j := range row {
				gradW[j] += residual * row[j]
			}
			gradB += residual
		}

		for j := range weights {
			weights[j] -= learningRate * gradW[j] / n
		}
		bias -= learningRate * gradB / n
	}

	// Monotonicity constraint: longer recency must not lower the score.
	if weights[recencyIndex] < 0 {
		weights[recencyIndex] = 0
	}

	return &domain.ClassifierParams{
		Weights:      weights,
		Bias:         bias,
		FeatureMeans: means,
		FeatureStds:  stds,
	}, nil
}

// classifierRaw scores one feature vector with trained weights, returning a
// probability-shaped raw signal in (0, 1).
func classifierRaw(params *domain.ClassifierParams, fv domain.FeatureVector) float64 {
	row := standardize(fv.Values(), params.FeatureMeans, params.FeatureStds)
	return sigmoid(dot(params.Weights, row) + params.Bias)
}

func standardization(rows [][]float64, dim int) ([]float64, []float64) {
	means := make([]float64, dim)
	stds := make([]float64, dim)
	n := float64(len(rows))

	for _, row := range rows {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= n
	}

	for _, row := range rows {
		for j, v := range row {
			d := v - means[j]
			stds[j] += d * d
		}
	}
	for j := range stds {
		stds[j] = math.Sqrt(stds[j] / n)
		if stds[j] == 0 {
			stds[j] = 1
		}
	}

	return means, stds
}

func standardize(values, means, stds []float64) []float64 {
	out := make([]float64, len(values))
	for j, v := range values {
		out[j] = (v - means[j]) / stds[j]
	}
	return out
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
