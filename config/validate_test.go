package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type validationConfig struct {
	Path  string  `validate:"required"`
	Port  int64   `validate:"required,min=1,max=65535"`
	Rate  float64 `validate:"min=0.0,max=1.0"`
	Mode  string  `validate:"oneof=query json"`
	Debug bool
}

func TestValidateRequired(t *testing.T) {
	err := Validate(&validationConfig{Port: 8080, Rate: 0.5, Mode: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Path")
}

func TestValidateMinMax(t *testing.T) {
	cfg := validationConfig{Path: "m.json", Port: 0, Rate: 0.5, Mode: "json"}
	assert.Error(t, Validate(&cfg), "Port=0")

	cfg.Port = 99999
	assert.Error(t, Validate(&cfg), "Port>65535")
}

func TestValidateFloatRange(t *testing.T) {
	cfg := validationConfig{Path: "m.json", Port: 80, Rate: 1.5, Mode: "json"}
	assert.Error(t, Validate(&cfg))

	cfg.Rate = -0.1
	assert.Error(t, Validate(&cfg))
}

func TestValidateOneOf(t *testing.T) {
	err := Validate(&validationConfig{Path: "m.json", Port: 80, Mode: "form"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one of")
}

func TestValidateAllValid(t *testing.T) {
	assert.NoError(t, Validate(&validationConfig{Path: "m.json", Port: 8080, Rate: 0.5, Mode: "json"}))
}

func TestValidateStringMinMax(t *testing.T) {
	type cfg struct {
		Name string `validate:"min=3,max=10"`
	}
	assert.Error(t, Validate(&cfg{Name: "ab"}))
	assert.Error(t, Validate(&cfg{Name: "this is way too long"}))
	assert.NoError(t, Validate(&cfg{Name: "hello"}))
}

func TestValidateNested(t *testing.T) {
	type inner struct {
		Mode string `validate:"oneof=query json"`
	}
	type outer struct {
		Gateway inner
	}
	err := Validate(&outer{Gateway: inner{Mode: "xml"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Gateway.Mode")
}

func TestValidateDurationMessage(t *testing.T) {
	type cfg struct {
		Timeout time.Duration `validate:"min=1"`
	}
	err := Validate(&cfg{Timeout: -time.Second})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-1s")
}

func TestValidateNoTags(t *testing.T) {
	type cfg struct {
		Name string
		Port int
	}
	assert.NoError(t, Validate(&cfg{}))
}

func TestValidateNonStruct(t *testing.T) {
	s := "not a struct"
	assert.Error(t, Validate(&s))
}

func TestValidateZeroFloatWithMin(t *testing.T) {
	type cfg struct {
		Rate float64 `validate:"min=0"`
	}
	assert.NoError(t, Validate(&cfg{Rate: 0}))
}
