package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/greynewell/intentd/cli"
	"github.com/greynewell/intentd/gateway"
	"github.com/greynewell/intentd/output"
	"github.com/greynewell/intentd/ranking"
	"github.com/greynewell/intentd/rpc"
)

type predictOptions struct {
	addr      string
	gateway   string
	path      string
	inputMode string
	prefix    string
	raw       bool
	timeout   time.Duration
}

func newPredictCommand() *cobra.Command {
	var o predictOptions
	cmd := &cobra.Command{
		Use:   "predict [flags] <text>...",
		Short: "Classify one document against a running server",
		Long: "Sends the arguments, joined by spaces, to the thrift listener at --addr and\n" +
			"prints the ranked response envelope. With --gateway the request goes through\n" +
			"the HTTP gateway instead and its response body is printed as is.",
		Args: cli.MinimumArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
			defer cancel()
			out, err := o.run(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", "127.0.0.1:9090", "thrift RPC address")
	f.StringVar(&o.gateway, "gateway", "", "gateway base URL, e.g. http://127.0.0.1:8080; overrides --addr")
	f.StringVar(&o.path, "path", "/", "gateway prediction path")
	f.StringVar(&o.inputMode, "input-mode", gateway.ModeJSON, "gateway input mode: query or json")
	f.StringVar(&o.prefix, "prefix", ranking.DefaultPrefix, "label prefix stripped from intent names")
	f.BoolVar(&o.raw, "raw", false, "print raw scores instead of the envelope (RPC only)")
	f.DurationVar(&o.timeout, "timeout", 10*time.Second, "request timeout")
	return cmd
}

func (o *predictOptions) run(ctx context.Context, text string) ([]byte, error) {
	if o.gateway != "" {
		gc := newGatewayClient(o.gateway, o.path, o.inputMode, o.timeout)
		defer gc.Close()
		return gc.Do(ctx, text)
	}

	client := rpc.NewClient(o.addr, rpc.ClientConfig{PoolSize: 1})
	defer client.Close()
	raw, err := client.Predict(ctx, text)
	if err != nil {
		return nil, err
	}

	if o.raw {
		var sb strings.Builder
		if err := (&output.Writer{Format: output.FormatJSON, W: &sb}).JSON(raw); err != nil {
			return nil, err
		}
		return []byte(sb.String()), nil
	}
	env, err := ranking.Format(raw, text, o.prefix)
	if err != nil {
		return nil, err
	}
	b, err := env.MarshalIndent()
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}
