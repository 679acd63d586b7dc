// Package engine loads the inference engine that maps tokenized documents
// to raw per-label scores. Engines are chosen by the model artifact's file
// extension through a Registry of loaders:
//
//	.json  Linear, a pure-Go bag-of-words scorer
//	.onnx  ORT, an ONNX Runtime session
//
// Engines are loaded once at startup and are read-only afterwards; Infer
// is safe for concurrent use.
package engine

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/greynewell/intentd/errors"
)

// Engine scores a batch of token sequences. The i-th result holds the raw
// logits for the i-th document, keyed by label.
type Engine interface {
	// Kind returns the loader name that produced the engine.
	Kind() string

	// Labels returns every label the engine can emit.
	Labels() []string

	// Infer scores each document in batch.
	Infer(ctx context.Context, batch [][]string) ([]map[string]float64, error)

	// Close releases native resources.
	Close() error
}

// Options locate a model and its side artifacts.
type Options struct {
	Path       string
	Library    string // ONNX Runtime shared library
	Vocab      string // token per line; the index among non-empty lines is the id
	Labels     string // label per line, in output column order
	InputName  string
	MaskName   string // empty disables the attention mask input
	OutputName string
	MaxTokens  int

	// Vocabulary is used when Vocab is empty, typically taken from a
	// pretrained tokenizer.
	Vocabulary map[string]int
}

// Loader opens engines for a set of artifact extensions.
type Loader interface {
	Name() string
	Extensions() []string
	Load(opts Options) (Engine, error)
}

// Registry maps artifact extensions to loaders.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]Loader
	byExt   map[string]string // ".onnx" → loader name
}

// NewRegistry creates an empty loader registry.
func NewRegistry() *Registry {
	return &Registry{
		loaders: make(map[string]Loader),
		byExt:   make(map[string]string),
	}
}

// Register adds a loader. A later loader claiming the same extension
// replaces the earlier one for that extension.
func (r *Registry) Register(l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[l.Name()] = l
	for _, ext := range l.Extensions() {
		r.byExt[strings.ToLower(ext)] = l.Name()
	}
}

// Get returns a loader by name.
func (r *Registry) Get(name string) (Loader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[name]
	return l, ok
}

// Resolve finds the loader for a model path by its extension.
func (r *Registry) Resolve(path string) (Loader, error) {
	ext := strings.ToLower(filepath.Ext(path))
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, ok := r.byExt[ext]; ok {
		return r.loaders[name], nil
	}
	return nil, errors.Newf(errors.CodeValidation, "no engine for model %q (extension %q, known: %s)",
		path, ext, strings.Join(r.extensionsLocked(), ", "))
}

// Loaders returns the names of all registered loaders, sorted.
func (r *Registry) Loaders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.loaders))
	for name := range r.loaders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) extensionsLocked() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Open resolves a loader for opts.Path and loads the engine. A missing
// model file is reported as not_found before any loader runs.
func (r *Registry) Open(opts Options) (Engine, error) {
	if opts.Path == "" {
		return nil, errors.New(errors.CodeValidation, "model path is required")
	}
	if _, err := os.Stat(opts.Path); err != nil {
		return nil, errors.Wrapf(errors.CodeNotFound, err, "model %s", opts.Path)
	}
	l, err := r.Resolve(opts.Path)
	if err != nil {
		return nil, err
	}
	e, err := l.Load(opts)
	if err != nil {
		return nil, fmt.Errorf("%s engine: %w", l.Name(), err)
	}
	return e, nil
}

// DefaultRegistry returns a registry with the Linear and ORT loaders.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(LinearLoader{})
	r.Register(ORTLoader{})
	return r
}

// Open loads an engine with the default registry.
func Open(opts Options) (Engine, error) {
	return DefaultRegistry().Open(opts)
}

// ModelID returns a short content digest of the artifact at path, so
// cached scores never outlive the model that produced them.
func ModelID(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(errors.CodeNotFound, err, "model %s", path)
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(errors.CodeInternal, err, "hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil))[:12], nil
}

func checkContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if err == context.DeadlineExceeded {
			return errors.Wrap(errors.CodeTimeout, err, "inference")
		}
		return errors.Wrap(errors.CodeCancelled, err, "inference")
	}
	return nil
}
