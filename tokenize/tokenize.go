// Package tokenize turns free text into the token sequence the inference
// engine consumes. Two tokenizers are provided: Whitespace, which needs no
// artifact, and Pretrained, which loads a HuggingFace tokenizer.json.
package tokenize

import (
	"os"
	"strings"
	"sync"
	"unicode"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/greynewell/intentd/errors"
)

// Tokenizer splits a document into tokens. Implementations must be safe
// for concurrent use.
type Tokenizer interface {
	Tokenize(text string) ([]string, error)
}

// Vocabulary is implemented by tokenizers that carry their own token to id
// mapping.
type Vocabulary interface {
	Vocab() map[string]int
}

// Open returns the Pretrained tokenizer at path, or Whitespace when path
// is empty.
func Open(path string) (Tokenizer, error) {
	if path == "" {
		return Whitespace{}, nil
	}
	return LoadPretrained(path)
}

// Whitespace lowercases, applies NFKC normalization and splits on Unicode
// whitespace.
type Whitespace struct{}

// Tokenize implements Tokenizer. It never fails.
func (Whitespace) Tokenize(text string) ([]string, error) {
	// Casers carry state, so each call gets its own.
	lower := cases.Lower(language.Und).String(norm.NFKC.String(text))
	return strings.FieldsFunc(lower, unicode.IsSpace), nil
}

// Pretrained wraps a sugarme/tokenizer model loaded from a tokenizer.json.
type Pretrained struct {
	mu   sync.Mutex // guards tk; its encoders keep scratch state
	tk   *tokenizer.Tokenizer
	path string
}

// LoadPretrained loads a tokenizer.json. A missing file is not_found; a
// file that does not parse is a validation error.
func LoadPretrained(path string) (*Pretrained, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrapf(errors.CodeNotFound, err, "tokenizer %s", path)
	}
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.CodeValidation, err, "load tokenizer %s", path)
	}
	return &Pretrained{tk: tk, path: path}, nil
}

// Tokenize implements Tokenizer. Special tokens are not added: the engine
// sees only the document's own subwords.
func (p *Pretrained) Tokenize(text string) ([]string, error) {
	p.mu.Lock()
	enc, err := p.tk.EncodeSingle(text, false)
	p.mu.Unlock()
	if err != nil {
		return nil, errors.Wrapf(errors.CodeInternal, err, "tokenize with %s", p.path)
	}
	return enc.GetTokens(), nil
}

// Vocab implements Vocabulary.
func (p *Pretrained) Vocab() map[string]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tk.GetVocab(true)
}

// Path is the artifact the tokenizer was loaded from.
func (p *Pretrained) Path() string {
	return p.path
}
