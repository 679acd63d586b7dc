package engine

import (
	"context"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/greynewell/intentd/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LinearModel is the on-disk form of a Linear engine:
//
//	{
//	  "labels":  ["intent:greet", "intent:bye"],
//	  "bias":    {"intent:greet": 0.1},
//	  "weights": {"hello": {"intent:greet": 2.0}}
//	}
//
// The logit for a label is its bias plus the weight of every token in the
// document, counted once per occurrence. Unknown tokens contribute nothing.
type LinearModel struct {
	Labels  []string                      `json:"labels"`
	Bias    map[string]float64            `json:"bias,omitempty"`
	Weights map[string]map[string]float64 `json:"weights"`
}

// Validate reports labels referenced by bias or weights that are not
// declared.
func (m *LinearModel) Validate() error {
	if len(m.Labels) == 0 {
		return errors.New(errors.CodeValidation, "linear model declares no labels")
	}
	known := make(map[string]bool, len(m.Labels))
	for _, l := range m.Labels {
		if l == "" {
			return errors.New(errors.CodeValidation, "linear model has an empty label")
		}
		if known[l] {
			return errors.Newf(errors.CodeValidation, "linear model repeats label %q", l)
		}
		known[l] = true
	}
	for l := range m.Bias {
		if !known[l] {
			return errors.Newf(errors.CodeValidation, "bias for undeclared label %q", l)
		}
	}
	for tok, row := range m.Weights {
		for l := range row {
			if !known[l] {
				return errors.Newf(errors.CodeValidation, "weight %q for undeclared label %q", tok, l)
			}
		}
	}
	return nil
}

// Linear is a bag-of-words linear classifier.
type Linear struct {
	model LinearModel
}

// NewLinear builds an engine from an in-memory model.
func NewLinear(m LinearModel) (*Linear, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &Linear{model: m}, nil
}

// Kind implements Engine.
func (*Linear) Kind() string { return "linear" }

// Labels implements Engine.
func (l *Linear) Labels() []string {
	out := make([]string, len(l.model.Labels))
	copy(out, l.model.Labels)
	return out
}

// Infer implements Engine.
func (l *Linear) Infer(ctx context.Context, batch [][]string) ([]map[string]float64, error) {
	out := make([]map[string]float64, len(batch))
	for i, tokens := range batch {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}
		scores := make(map[string]float64, len(l.model.Labels))
		for _, label := range l.model.Labels {
			scores[label] = l.model.Bias[label]
		}
		for _, tok := range tokens {
			for label, w := range l.model.Weights[tok] {
				scores[label] += w
			}
		}
		out[i] = scores
	}
	return out, nil
}

// Close implements Engine.
func (*Linear) Close() error { return nil }

// LinearLoader loads .json linear models.
type LinearLoader struct{}

// Name implements Loader.
func (LinearLoader) Name() string { return "linear" }

// Extensions implements Loader.
func (LinearLoader) Extensions() []string { return []string{".json"} }

// Load implements Loader.
func (LinearLoader) Load(opts Options) (Engine, error) {
	data, err := os.ReadFile(opts.Path)
	if err != nil {
		return nil, errors.Wrapf(errors.CodeNotFound, err, "model %s", opts.Path)
	}
	var m LinearModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrapf(errors.CodeValidation, err, "decode %s", opts.Path)
	}
	return NewLinear(m)
}
