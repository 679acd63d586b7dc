package ranking

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Entity is a reserved span annotation. Nothing produces them yet; the
// field exists so the envelope shape matches what callers expect.
type Entity struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Value  string `json:"value"`
	Entity string `json:"entity"`
}

// Envelope is the response returned to gateway callers. Field order is
// the wire key order.
type Envelope struct {
	Text     string       `json:"text"`
	Ranking  []Prediction `json:"intent_ranking"`
	Intent   *Prediction  `json:"intent"`
	Entities []Entity     `json:"entities"`
}

// Build wraps ranking and the original text into an Envelope. Intent is
// the first prediction or nil when the ranking is empty.
func Build(ranking []Prediction, text string) Envelope {
	if ranking == nil {
		ranking = []Prediction{}
	}
	env := Envelope{
		Text:     text,
		Ranking:  ranking,
		Entities: []Entity{},
	}
	if len(ranking) > 0 {
		top := ranking[0]
		env.Intent = &top
	}
	return env
}

// Marshal encodes the envelope compactly.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// MarshalIndent encodes the envelope with two-space indentation and a
// trailing newline.
func (e Envelope) MarshalIndent() ([]byte, error) {
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Format ranks raw and builds the envelope in one step.
func Format(raw map[string]float64, text, prefix string) (Envelope, error) {
	ranked, err := RankWithPrefix(raw, prefix)
	if err != nil {
		return Envelope{}, err
	}
	return Build(ranked, text), nil
}
