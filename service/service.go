// Package service is the prediction core behind the RPC listener: it
// tokenizes a document, runs the inference engine on a batch of one and
// returns the engine's raw logits unmodified.
package service

import (
	"context"
	"time"

	"github.com/greynewell/intentd/config"
	"github.com/greynewell/intentd/engine"
	"github.com/greynewell/intentd/errors"
	"github.com/greynewell/intentd/logging"
	"github.com/greynewell/intentd/metrics"
	"github.com/greynewell/intentd/predictor"
	"github.com/greynewell/intentd/tokenize"
)

// PadToken stands in for a document that tokenizes to nothing, so the
// engine never sees an empty sequence.
const PadToken = "<pad>"

// Core implements predictor.Predictor on top of a tokenizer and an engine.
// Both are loaded once and only read afterwards.
type Core struct {
	tok     tokenize.Tokenizer
	eng     engine.Engine
	log     *logging.Logger
	metrics *metrics.Metrics
}

var _ predictor.Predictor = (*Core)(nil)

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the logger. Default discards.
func WithLogger(l *logging.Logger) Option {
	return func(c *Core) { c.log = l }
}

// WithMetrics records inference time.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Core) { c.metrics = m }
}

// New wraps an already loaded tokenizer and engine.
func New(tok tokenize.Tokenizer, eng engine.Engine, opts ...Option) *Core {
	c := &Core{tok: tok, eng: eng, log: logging.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load opens the tokenizer and engine named by cfg. Any failure here is a
// startup failure: callers must not bind a listener after it.
func Load(model config.ModelConfig, tok config.TokenizerConfig, opts ...Option) (*Core, error) {
	t, err := tokenize.Open(tok.Path)
	if err != nil {
		return nil, err
	}

	eo := engine.Options{
		Path:       model.Path,
		Library:    model.Library,
		Vocab:      model.Vocab,
		Labels:     model.Labels,
		InputName:  model.InputName,
		MaskName:   model.MaskName,
		OutputName: model.OutputName,
		MaxTokens:  model.MaxTokens,
	}
	if v, ok := t.(tokenize.Vocabulary); ok && model.Vocab == "" {
		eo.Vocabulary = v.Vocab()
	}
	e, err := engine.Open(eo)
	if err != nil {
		return nil, err
	}
	return New(t, e, opts...), nil
}

// Predict implements predictor.Predictor.
func (c *Core) Predict(ctx context.Context, doc string) (map[string]float64, error) {
	start := time.Now()
	c.log.Info(ctx, "processing", "doc", doc)

	tokens, err := c.tok.Tokenize(doc)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "tokenize")
	}
	if len(tokens) == 0 {
		tokens = []string{PadToken}
	}
	c.log.Debug(ctx, "tokens", "doc", doc, "tokens", tokens)

	out, err := c.eng.Infer(ctx, [][]string{tokens})
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, errors.Newf(errors.CodeInternal, "engine returned %d results for a batch of 1", len(out))
	}
	c.metrics.ObserveInference(time.Since(start))
	c.log.Debug(ctx, "logits", "doc", doc, "logits", out[0])

	if out[0] == nil {
		return map[string]float64{}, nil
	}
	return out[0], nil
}

// Labels reports the engine's label set.
func (c *Core) Labels() []string {
	return c.eng.Labels()
}

// Kind reports the engine kind.
func (c *Core) Kind() string {
	return c.eng.Kind()
}

// Close releases the engine.
func (c *Core) Close() error {
	return c.eng.Close()
}
