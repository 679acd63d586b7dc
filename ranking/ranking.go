// Package ranking turns a model's raw per-label scores into the ranked,
// normalized response a gateway caller sees. Everything here is pure: no
// I/O and no shared state.
//
// Raw scores are logits. Rank applies the softmax exactly once:
//
//	confidence(l) = exp(s_l) / Σ exp(s_k)
//
// computed as exp(s_l - max) / Σ exp(s_k - max) so that large logits do
// not overflow. Any NaN or ±Inf score fails the whole ranking with
// ErrNonFinite.
package ranking

import (
	"fmt"
	"math"
	"sort"

	"github.com/greynewell/intentd/errors"
)

// DefaultPrefix is the label namespace the bundled models emit.
const DefaultPrefix = "intent:"

// ErrNonFinite is returned when a raw score is NaN or infinite.
var ErrNonFinite = errors.New(errors.CodeInternal, "non-finite raw score")

// Prediction is one labeled confidence.
type Prediction struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Rank normalizes raw with DefaultPrefix stripped from labels.
func Rank(raw map[string]float64) ([]Prediction, error) {
	return RankWithPrefix(raw, DefaultPrefix)
}

// RankWithPrefix converts raw logits into predictions sorted by confidence
// descending. Equal confidences are ordered by the raw label ascending so
// the output is reproducible. An empty input yields an empty, non-nil
// ranking.
func RankWithPrefix(raw map[string]float64, prefix string) ([]Prediction, error) {
	if len(raw) == 0 {
		return []Prediction{}, nil
	}

	type entry struct {
		label string
		score float64
	}
	entries := make([]entry, 0, len(raw))
	max := math.Inf(-1)
	for label, score := range raw {
		if math.IsNaN(score) || math.IsInf(score, 0) {
			return nil, ErrNonFinite.WithMeta("label", label).WithMeta("score", fmt.Sprint(score))
		}
		if score > max {
			max = score
		}
		entries = append(entries, entry{label, score})
	}

	// Summing in label order keeps the confidences bit-identical across runs.
	sort.Slice(entries, func(i, j int) bool { return entries[i].label < entries[j].label })
	var sum float64
	for i := range entries {
		entries[i].score = math.Exp(entries[i].score - max)
		sum += entries[i].score
	}
	// sum >= 1 since the max entry contributes exp(0).
	for i := range entries {
		entries[i].score /= sum
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].label < entries[j].label
	})

	out := make([]Prediction, len(entries))
	for i, e := range entries {
		out[i] = Prediction{Name: StripPrefix(e.label, prefix), Confidence: e.score}
	}
	return out, nil
}

// StripPrefix removes prefix from the start of label when it matches byte
// for byte. Anything else, including a label shorter than prefix, is
// returned unchanged.
func StripPrefix(label, prefix string) string {
	if len(label) < len(prefix) || label[:len(prefix)] != prefix {
		return label
	}
	return label[len(prefix):]
}
