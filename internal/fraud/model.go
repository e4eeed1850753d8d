package fraud

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultModelTimeout = 500 * time.Millisecond

// Classifier is a trained binary model over the fixed feature vector.
// Predict returns the predicted label and the positive-class probability.
type Classifier interface {
	Predict(ctx context.Context, x [VectorSize]float64) (bool, float64, error)
}

// ModelScoringError wraps any failure inside a classifier invocation. It never
// leaves this package: ModelScorer logs it and answers Neutral.
type ModelScoringError struct {
	Err error
}

func (e *ModelScoringError) Error() string { return "model scoring failed: " + e.Err.Error() }
func (e *ModelScoringError) Unwrap() error { return e.Err }

// ModelScorer scores transfers with a trained classifier. The classifier call
// is bounded by Timeout.
type ModelScorer struct {
	Classifier Classifier
	Timeout    time.Duration
	// OnError observes degraded calls. Defaults to a log line.
	OnError func(err *ModelScoringError)
}

func NewModelScorer(c Classifier, timeout time.Duration) *ModelScorer {
	if timeout <= 0 {
		timeout = defaultModelTimeout
	}
	return &ModelScorer{Classifier: c, Timeout: timeout}
}

func (m *ModelScorer) Score(ctx context.Context, f Features) (Verdict, error) {
	v, err := m.predict(ctx, f)
	if err != nil {
		serr := &ModelScoringError{Err: err}
		if m.OnError != nil {
			m.OnError(serr)
		} else {
			log.Printf("[fraud] %v; falling back to neutral verdict", serr)
		}
		return Neutral, nil
	}
	return v, nil
}

func (m *ModelScorer) predict(ctx context.Context, f Features) (v Verdict, err error) {
	if m.Classifier == nil {
		return Verdict{}, errors.New("no classifier loaded")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classifier panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	isFraud, prob, err := m.Classifier.Predict(ctx, f.Vector())
	if err != nil {
		return Verdict{}, err
	}
	if math.IsNaN(prob) || prob < 0 || prob > 1 {
		return Verdict{}, fmt.Errorf("probability %v out of range", prob)
	}
	return Verdict{IsFraud: isFraud, Confidence: prob, Reason: "ML model prediction"}, nil
}

// LogisticModel is a standardized logistic regression over the feature vector.
type LogisticModel struct {
	Version   string
	Bias      float64
	Threshold float64
	Weights   [VectorSize]float64
	Means     [VectorSize]float64
	Scales    [VectorSize]float64
}

type modelFile struct {
	Version   string  `yaml:"version"`
	Bias      float64 `yaml:"bias"`
	Threshold float64 `yaml:"threshold"`
	Features  []struct {
		Name   string   `yaml:"name"`
		Weight float64  `yaml:"weight"`
		Mean   float64  `yaml:"mean"`
		Scale  *float64 `yaml:"scale"`
	} `yaml:"features"`
}

// LoadLogisticModel reads model parameters from a YAML file.
func LoadLogisticModel(path string) (*LogisticModel, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return ParseLogisticModel(raw)
}

// ParseLogisticModel decodes YAML model parameters. Features must be listed in
// vector order with their canonical names.
func ParseLogisticModel(raw []byte) (*LogisticModel, error) {
	var mf modelFile
	if err := yaml.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}
	if len(mf.Features) != VectorSize {
		return nil, fmt.Errorf("model has %d features, want %d", len(mf.Features), VectorSize)
	}

	m := &LogisticModel{Version: mf.Version, Bias: mf.Bias, Threshold: mf.Threshold}
	if m.Threshold <= 0 || m.Threshold >= 1 {
		m.Threshold = 0.5
	}
	for i, feat := range mf.Features {
		if feat.Name != FeatureNames[i] {
			return nil, fmt.Errorf("feature %d is %q, want %q", i, feat.Name, FeatureNames[i])
		}
		m.Weights[i] = feat.Weight
		m.Means[i] = feat.Mean
		m.Scales[i] = 1
		if feat.Scale != nil {
			if *feat.Scale == 0 {
				return nil, fmt.Errorf("feature %q has zero scale", feat.Name)
			}
			m.Scales[i] = *feat.Scale
		}
	}
	return m, nil
}

func (m *LogisticModel) Predict(ctx context.Context, x [VectorSize]float64) (bool, float64, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	z := m.Bias
	for i := range x {
		z += m.Weights[i] * (x[i] - m.Means[i]) / m.Scales[i]
	}
	p := 1 / (1 + math.Exp(-z))
	return p >= m.Threshold, p, nil
}
