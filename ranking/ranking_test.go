package ranking

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/greynewell/intentd/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankTwoIntents(t *testing.T) {
	got, err := Rank(map[string]float64{"intent:greet": 2.0, "intent:bye": 0.0})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "greet", got[0].Name)
	assert.InDelta(t, 0.8808, got[0].Confidence, 1e-4)
	assert.Equal(t, "bye", got[1].Name)
	assert.InDelta(t, 0.1192, got[1].Confidence, 1e-4)
}

func TestRankSingle(t *testing.T) {
	got, err := Rank(map[string]float64{"greet": 0.0})
	require.NoError(t, err)
	assert.Equal(t, []Prediction{{Name: "greet", Confidence: 1.0}}, got)
}

func TestRankEmpty(t *testing.T) {
	got, err := Rank(map[string]float64{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	got, err = Rank(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRankSumsToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		n := 1 + rng.Intn(40)
		raw := make(map[string]float64, n)
		for i := 0; i < n; i++ {
			raw[fmt.Sprintf("intent:l%d", i)] = rng.NormFloat64() * 10
		}
		got, err := Rank(raw)
		require.NoError(t, err)

		var sum float64
		for _, p := range got {
			assert.True(t, p.Confidence >= 0 && p.Confidence <= 1, "confidence %v out of range", p.Confidence)
			sum += p.Confidence
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestRankSortedDescending(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	raw := make(map[string]float64)
	for i := 0; i < 100; i++ {
		raw[fmt.Sprintf("l%03d", i)] = float64(rng.Intn(5))
	}
	got, err := Rank(raw)
	require.NoError(t, err)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Confidence, got[i].Confidence)
	}
}

func TestRankTieBreakDeterministic(t *testing.T) {
	raw := map[string]float64{"intent:c": 1, "intent:a": 1, "intent:b": 1, "intent:z": 3}
	first, err := Rank(raw)
	require.NoError(t, err)
	assert.Equal(t, "z", first[0].Name)
	assert.Equal(t, []string{"a", "b", "c"}, []string{first[1].Name, first[2].Name, first[3].Name})

	for i := 0; i < 50; i++ {
		again, err := Rank(raw)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestRankBitIdenticalAcrossRuns(t *testing.T) {
	raw := map[string]float64{}
	for i := 0; i < 10; i++ {
		raw[fmt.Sprintf("intent:l%d", i)] = 0.1 * float64(i*i%7) / 3
	}
	first, err := Rank(raw)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		again, err := Rank(raw)
		require.NoError(t, err)
		require.Equal(t, first, again, "run %d", i)
	}
}

func TestRankTieBreakUsesRawLabel(t *testing.T) {
	// "intent:b" strips to "b" but sorts after "a-unprefixed" on the raw key.
	raw := map[string]float64{"intent:b": 0, "a-unprefixed": 0}
	got, err := Rank(raw)
	require.NoError(t, err)
	assert.Equal(t, "a-unprefixed", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
}

func TestRankLargeLogits(t *testing.T) {
	got, err := Rank(map[string]float64{"a": 1000, "b": 999})
	require.NoError(t, err)
	assert.InDelta(t, 1/(1+math.Exp(-1)), got[0].Confidence, 1e-12)
	assert.False(t, math.IsNaN(got[1].Confidence))
}

func TestRankVeryNegativeLogits(t *testing.T) {
	got, err := Rank(map[string]float64{"a": -1000, "b": -1000})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got[0].Confidence, 1e-12)
	assert.InDelta(t, 0.5, got[1].Confidence, 1e-12)
}

func TestRankNonFinite(t *testing.T) {
	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		got, err := Rank(map[string]float64{"intent:greet": 1, "intent:bad": bad})
		require.Error(t, err, "score %v", bad)
		assert.Nil(t, got)
		assert.True(t, errors.Is(err, ErrNonFinite))
		assert.Equal(t, errors.CategoryBackend, errors.CategoryOf(err))
	}
}

func TestRankWithPrefix(t *testing.T) {
	got, err := RankWithPrefix(map[string]float64{"label:x": 0, "intent:y": 0}, "label:")
	require.NoError(t, err)
	assert.Equal(t, "intent:y", got[0].Name)
	assert.Equal(t, "x", got[1].Name)

	got, err = RankWithPrefix(map[string]float64{"intent:y": 0}, "")
	require.NoError(t, err)
	assert.Equal(t, "intent:y", got[0].Name)
}

func TestStripPrefix(t *testing.T) {
	tests := []struct {
		label, prefix, want string
	}{
		{"intent:greet", "intent:", "greet"},
		{"greet", "intent:", "greet"},
		{"int", "intent:", "int"},
		{"intent:", "intent:", ""},
		{"Intent:greet", "intent:", "Intent:greet"},
		{"xintent:greet", "intent:", "xintent:greet"},
		{"intent:greet", "", "intent:greet"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripPrefix(tt.label, tt.prefix), "StripPrefix(%q, %q)", tt.label, tt.prefix)
	}
}

func TestRankDoesNotMutateInput(t *testing.T) {
	raw := map[string]float64{"intent:a": 2, "intent:b": 1}
	_, err := Rank(raw)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"intent:a": 2, "intent:b": 1}, raw)
}

func BenchmarkRank(b *testing.B) {
	raw := make(map[string]float64, 64)
	for i := 0; i < 64; i++ {
		raw[fmt.Sprintf("intent:l%d", i)] = float64(i % 7)
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := Rank(raw); err != nil {
			b.Fatal(err)
		}
	}
}
