package engine

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/greynewell/intentd/errors"
)

// UnknownTokens are tried, in order, as the id for out-of-vocabulary tokens.
var UnknownTokens = []string{"<unk>", "[UNK]", "<UNK>"}

// The ONNX Runtime environment is process-wide; sessions share it.
var ortEnv struct {
	mu   sync.Mutex
	refs int
}

func acquireORT(library string) error {
	ortEnv.mu.Lock()
	defer ortEnv.mu.Unlock()
	if ortEnv.refs == 0 && !ort.IsInitialized() {
		if library != "" {
			ort.SetSharedLibraryPath(library)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return errors.Wrap(errors.CodeUnavailable, err, "initialize onnxruntime")
		}
	}
	ortEnv.refs++
	return nil
}

func releaseORT() error {
	ortEnv.mu.Lock()
	defer ortEnv.mu.Unlock()
	if ortEnv.refs == 0 {
		return nil
	}
	ortEnv.refs--
	if ortEnv.refs == 0 && ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}

// ORT runs a text classifier exported to ONNX. The graph takes an int64
// [1, n] tensor of token ids (plus an optional all-ones attention mask of
// the same shape) and produces a float32 [1, labels] tensor of logits.
type ORT struct {
	session    *ort.DynamicAdvancedSession
	labels     []string
	vocab      map[string]int64
	unk        int64
	maxTokens  int
	withMask   bool
	closeOnce  sync.Once
	closeError error
}

// Kind implements Engine.
func (*ORT) Kind() string { return "onnx" }

// Labels implements Engine.
func (e *ORT) Labels() []string {
	out := make([]string, len(e.labels))
	copy(out, e.labels)
	return out
}

// Infer implements Engine. Documents run one at a time since sequence
// lengths differ.
func (e *ORT) Infer(ctx context.Context, batch [][]string) ([]map[string]float64, error) {
	out := make([]map[string]float64, len(batch))
	for i, tokens := range batch {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}
		scores, err := e.run(tokens)
		if err != nil {
			return nil, err
		}
		out[i] = scores
	}
	return out, nil
}

func (e *ORT) run(tokens []string) (map[string]float64, error) {
	ids := e.encode(tokens)
	shape := ort.NewShape(1, int64(len(ids)))

	input, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "input tensor")
	}
	defer input.Destroy()
	inputs := []ort.Value{input}

	if e.withMask {
		ones := make([]int64, len(ids))
		for i := range ones {
			ones[i] = 1
		}
		mask, err := ort.NewTensor(shape, ones)
		if err != nil {
			return nil, errors.Wrap(errors.CodeInternal, err, "mask tensor")
		}
		defer mask.Destroy()
		inputs = append(inputs, mask)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(e.labels))))
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "output tensor")
	}
	defer output.Destroy()

	if err := e.session.Run(inputs, []ort.Value{output}); err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "onnxruntime run")
	}

	data := output.GetData()
	scores := make(map[string]float64, len(e.labels))
	for i, label := range e.labels {
		scores[label] = float64(data[i])
	}
	return scores, nil
}

func (e *ORT) encode(tokens []string) []int64 {
	if e.maxTokens > 0 && len(tokens) > e.maxTokens {
		tokens = tokens[:e.maxTokens]
	}
	ids := make([]int64, len(tokens))
	for i, tok := range tokens {
		id, ok := e.vocab[tok]
		if !ok {
			id = e.unk
		}
		ids[i] = id
	}
	return ids
}

// Close implements Engine.
func (e *ORT) Close() error {
	e.closeOnce.Do(func() {
		if err := e.session.Destroy(); err != nil {
			e.closeError = err
		}
		if err := releaseORT(); err != nil && e.closeError == nil {
			e.closeError = err
		}
	})
	return e.closeError
}

// ORTLoader loads .onnx models.
type ORTLoader struct{}

// Name implements Loader.
func (ORTLoader) Name() string { return "onnx" }

// Extensions implements Loader.
func (ORTLoader) Extensions() []string { return []string{".onnx"} }

// Load implements Loader. Side artifacts are read before the runtime is
// touched so that configuration mistakes surface without a native library.
func (ORTLoader) Load(opts Options) (Engine, error) {
	if opts.Labels == "" {
		return nil, errors.New(errors.CodeValidation, "onnx model needs a labels file")
	}
	labels, err := readLines(opts.Labels)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, errors.Newf(errors.CodeValidation, "labels file %s is empty", opts.Labels)
	}

	vocab, err := loadVocab(opts)
	if err != nil {
		return nil, err
	}

	inputName := opts.InputName
	if inputName == "" {
		inputName = "input_ids"
	}
	outputName := opts.OutputName
	if outputName == "" {
		outputName = "logits"
	}
	inputNames := []string{inputName}
	if opts.MaskName != "" {
		inputNames = append(inputNames, opts.MaskName)
	}

	if err := acquireORT(opts.Library); err != nil {
		return nil, err
	}
	session, err := ort.NewDynamicAdvancedSession(opts.Path, inputNames, []string{outputName}, nil)
	if err != nil {
		releaseORT()
		return nil, errors.Wrapf(errors.CodeValidation, err, "open onnx session %s", opts.Path)
	}

	return &ORT{
		session:   session,
		labels:    labels,
		vocab:     vocab,
		unk:       unknownID(vocab),
		maxTokens: opts.MaxTokens,
		withMask:  opts.MaskName != "",
	}, nil
}

func loadVocab(opts Options) (map[string]int64, error) {
	if opts.Vocab == "" {
		if len(opts.Vocabulary) == 0 {
			return nil, errors.New(errors.CodeValidation, "onnx model needs a vocab file or a pretrained tokenizer")
		}
		vocab := make(map[string]int64, len(opts.Vocabulary))
		for tok, id := range opts.Vocabulary {
			vocab[tok] = int64(id)
		}
		return vocab, nil
	}

	lines, err := readLines(opts.Vocab)
	if err != nil {
		return nil, err
	}
	vocab := make(map[string]int64, len(lines))
	for i, tok := range lines {
		if _, dup := vocab[tok]; !dup {
			vocab[tok] = int64(i)
		}
	}
	return vocab, nil
}

func unknownID(vocab map[string]int64) int64 {
	for _, tok := range UnknownTokens {
		if id, ok := vocab[tok]; ok {
			return id
		}
	}
	return 0
}

// readLines returns the non-empty lines of path with surrounding
// whitespace trimmed.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(errors.CodeNotFound, err, "open %s", path)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(errors.CodeValidation, err, "read %s", path)
	}
	return lines, nil
}
