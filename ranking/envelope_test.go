package ranking

import (
	stdjson "encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	ranked := []Prediction{{Name: "greet", Confidence: 0.9}, {Name: "bye", Confidence: 0.1}}
	env := Build(ranked, "hello there")

	assert.Equal(t, "hello there", env.Text)
	require.NotNil(t, env.Intent)
	assert.Equal(t, ranked[0], *env.Intent)
	assert.Equal(t, ranked, env.Ranking)
	assert.NotNil(t, env.Entities)
	assert.Empty(t, env.Entities)
}

func TestBuildIntentIsACopy(t *testing.T) {
	ranked := []Prediction{{Name: "greet", Confidence: 1}}
	env := Build(ranked, "x")
	ranked[0].Name = "changed"
	assert.Equal(t, "greet", env.Intent.Name)
}

func TestBuildEmpty(t *testing.T) {
	env := Build(nil, "nothing")
	assert.Nil(t, env.Intent)

	b, err := env.Marshal()
	require.NoError(t, err)
	assert.Equal(t, `{"text":"nothing","intent_ranking":[],"intent":null,"entities":[]}`, string(b))
}

func TestMarshalGolden(t *testing.T) {
	env, err := Format(map[string]float64{"greet": 0}, "hi", DefaultPrefix)
	require.NoError(t, err)

	b, err := env.Marshal()
	require.NoError(t, err)
	assert.Equal(t,
		`{"text":"hi","intent_ranking":[{"name":"greet","confidence":1}],"intent":{"name":"greet","confidence":1},"entities":[]}`,
		string(b))
}

func TestMarshalIndent(t *testing.T) {
	env, err := Format(map[string]float64{"intent:greet": 2, "intent:bye": 0}, "hello", DefaultPrefix)
	require.NoError(t, err)

	b, err := env.MarshalIndent()
	require.NoError(t, err)
	s := string(b)

	assert.True(t, len(s) > 0 && s[len(s)-1] == '\n')
	assert.Contains(t, s, "\n  \"text\": \"hello\"")

	// Keys appear in wire order.
	idx := func(key string) int {
		i := strings.Index(s, `"`+key+`":`)
		require.GreaterOrEqual(t, i, 0, key)
		return i
	}
	assert.Less(t, idx("text"), idx("intent_ranking"))
	assert.Less(t, idx("intent_ranking"), idx("intent"))
	assert.Less(t, idx("intent"), idx("entities"))

	var decoded struct {
		Text    string       `json:"text"`
		Ranking []Prediction `json:"intent_ranking"`
		Intent  *Prediction  `json:"intent"`
		Entity  []any        `json:"entities"`
	}
	require.NoError(t, stdjson.Unmarshal(b, &decoded))
	assert.Equal(t, "greet", decoded.Intent.Name)
	assert.InDelta(t, 0.8808, decoded.Intent.Confidence, 1e-4)
	assert.Len(t, decoded.Ranking, 2)
	assert.Empty(t, decoded.Entity)
}

func TestMarshalDeterministic(t *testing.T) {
	raw := map[string]float64{"intent:a": 1, "intent:b": 1, "intent:c": 0.5}
	var first []byte
	for i := 0; i < 20; i++ {
		env, err := Format(raw, "same", DefaultPrefix)
		require.NoError(t, err)
		b, err := env.MarshalIndent()
		require.NoError(t, err)
		if first == nil {
			first = b
			continue
		}
		assert.Equal(t, string(first), string(b))
	}
}

func TestFormatPropagatesNonFinite(t *testing.T) {
	_, err := Format(map[string]float64{"a": 1, "b": math.NaN()}, "x", DefaultPrefix)
	assert.ErrorIs(t, err, ErrNonFinite)
}
