package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/greynewell/intentd/cli"
	"github.com/greynewell/intentd/config"
	"github.com/greynewell/intentd/errors"
	"github.com/greynewell/intentd/gateway"
	"github.com/greynewell/intentd/logging"
	"github.com/greynewell/intentd/metrics"
	"github.com/greynewell/intentd/output"
	"github.com/greynewell/intentd/rpc"
)

// textColumns are tried in order when --column is not given.
var textColumns = []string{"text", "utterance", "query", "doc"}

type benchOptions struct {
	gateway     string
	path        string
	inputMode   string
	addr        string
	column      string
	warmup      int
	concurrency int
	qps         float64
	timeout     time.Duration
	format      string
}

// target sends one document and reports only whether it succeeded.
type target func(ctx context.Context, text string) error

func newBenchCommand() *cobra.Command {
	var o benchOptions
	cmd := &cobra.Command{
		Use:   "bench [flags] <datafile>",
		Short: "Measure prediction latency over a TSV of utterances",
		Long: "Reads a tab-separated file with a header row, sends every utterance to the\n" +
			"gateway (or, with --addr, straight to the thrift listener) after the\n" +
			"warmup rounds, and reports total, mean and tail latency in ms.",
		Args: cli.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			texts, err := readUtteranceFile(args[0], o.column)
			if err != nil {
				return err
			}
			log, err := newLogger(config.Default().Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			tgt, closeFn := o.target()
			defer closeFn()

			sum, err := runBench(cmd.Context(), o, texts, tgt, log)
			if err != nil {
				return err
			}
			return (&output.Writer{Format: o.format, W: cmd.OutOrStdout()}).Write(benchReport{sum})
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.gateway, "gateway", "http://127.0.0.1:8080", "gateway base URL")
	f.StringVar(&o.path, "path", "/", "gateway prediction path")
	f.StringVar(&o.inputMode, "input-mode", gateway.ModeJSON, "gateway input mode: query or json")
	f.StringVar(&o.addr, "addr", "", "thrift RPC address; bypasses the gateway when set")
	f.StringVar(&o.column, "column", "", "column holding the utterance (default: text, utterance, query, doc, else the first)")
	f.IntVar(&o.warmup, "warmup", 1, "warmup passes over the data before measuring")
	f.IntVar(&o.concurrency, "concurrency", 1, "requests in flight at once")
	f.Float64Var(&o.qps, "qps", 0, "pace requests to this rate; 0 means as fast as possible")
	f.DurationVar(&o.timeout, "timeout", 10*time.Second, "per-request timeout")
	f.StringVarP(&o.format, "output", "o", output.FormatTable, "report format: table or json")
	return cmd
}

func (o *benchOptions) target() (target, func()) {
	if o.addr != "" {
		client := rpc.NewClient(o.addr, rpc.ClientConfig{PoolSize: max(o.concurrency, 1)})
		return func(ctx context.Context, text string) error {
			_, err := client.Predict(ctx, text)
			return err
		}, func() { _ = client.Close() }
	}
	gc := newGatewayClient(o.gateway, o.path, o.inputMode, o.timeout)
	return func(ctx context.Context, text string) error {
		_, err := gc.Do(ctx, text)
		return err
	}, gc.Close
}

// runBench runs o.warmup unmeasured passes, then one measured pass. Failed
// requests are counted but never stop the run; only ctx does.
func runBench(ctx context.Context, o benchOptions, texts []string, tgt target, log *logging.Logger) (metrics.Summary, error) {
	if len(texts) == 0 {
		return metrics.Summary{}, errors.Input("no utterances to send")
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	if o.timeout <= 0 {
		o.timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if o.qps > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.qps), 1)
	}

	for i := 0; i < o.warmup; i++ {
		log.Info(ctx, "warmup", "iteration", i, "utterances", len(texts))
		if _, err := pass(ctx, o, texts, tgt, limiter); err != nil {
			return metrics.Summary{}, err
		}
	}

	log.Info(ctx, "measuring", "utterances", len(texts), "concurrency", o.concurrency)
	lat, err := pass(ctx, o, texts, tgt, limiter)
	if err != nil {
		return metrics.Summary{}, err
	}
	sum := lat.Summary()
	if sum.Errors > 0 {
		log.Warn(ctx, "some requests failed", "errors", sum.Errors)
	}
	return sum, nil
}

func pass(ctx context.Context, o benchOptions, texts []string, tgt target, limiter *rate.Limiter) (*metrics.Latencies, error) {
	lat := &metrics.Latencies{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for _, text := range texts {
		if limiter != nil {
			if err := limiter.Wait(gctx); err != nil {
				break
			}
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, o.timeout)
			defer cancel()
			start := time.Now()
			if err := tgt(rctx, text); err != nil {
				lat.AddError()
				return nil
			}
			lat.Add(time.Since(start))
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.CodeCancelled, err, "bench interrupted")
	}
	return lat, nil
}

func readUtteranceFile(path, column string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(errors.CodeNotFound, err, "data file %s", path)
	}
	defer f.Close()
	return readUtterances(f, column)
}

// readUtterances parses a TSV with a header row and returns one column.
// Rows too short for the column are skipped.
func readUtterances(r io.Reader, column string) ([]string, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.Input("data file is empty")
	}
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, err, "read header")
	}

	idx, err := columnIndex(header, column)
	if err != nil {
		return nil, err
	}

	var texts []string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(errors.CodeValidation, err, "read data")
		}
		if idx < len(rec) {
			texts = append(texts, rec[idx])
		}
	}
	return texts, nil
}

func columnIndex(header []string, column string) (int, error) {
	find := func(name string) int {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i
			}
		}
		return -1
	}
	if column != "" {
		if i := find(column); i >= 0 {
			return i, nil
		}
		return 0, errors.Input("column %q not in header %v", column, header)
	}
	for _, name := range textColumns {
		if i := find(name); i >= 0 {
			return i, nil
		}
	}
	return 0, nil
}

// benchReport lays a Summary out as a Metric/Value table, one row per
// metric, times in milliseconds to two places.
type benchReport struct {
	metrics.Summary
}

func (benchReport) Headers() []string { return []string{"Metric", "Value"} }

func (r benchReport) Rows() [][]string {
	ms := func(v float64) string { return fmt.Sprintf("%.2f ms", v) }
	return [][]string{
		{"Requests", fmt.Sprint(r.Count)},
		{"Errors", fmt.Sprint(r.Errors)},
		{"Total time", ms(r.TotalMS)},
		{"Mean time", ms(r.MeanMS)},
		{"P50", ms(r.P50MS)},
		{"P90", ms(r.P90MS)},
		{"P95", ms(r.P95MS)},
		{"P99", ms(r.P99MS)},
	}
}
