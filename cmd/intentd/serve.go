package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/greynewell/intentd/circuitbreaker"
	"github.com/greynewell/intentd/cli"
	"github.com/greynewell/intentd/config"
	"github.com/greynewell/intentd/engine"
	"github.com/greynewell/intentd/errors"
	"github.com/greynewell/intentd/gateway"
	"github.com/greynewell/intentd/health"
	"github.com/greynewell/intentd/lifecycle"
	"github.com/greynewell/intentd/logging"
	"github.com/greynewell/intentd/metrics"
	"github.com/greynewell/intentd/rpc"
	"github.com/greynewell/intentd/scorecache"
	"github.com/greynewell/intentd/service"
)

const (
	flagConfig     = "config"
	flagPortThrift = "port-thrift"
	flagRest       = "rest"
	flagPortRest   = "port-rest"
	flagInputMode  = "input-mode"
	flagLogLevel   = "log-level"
	flagLogFormat  = "log-format"
)

type serveOptions struct {
	configPath string
	portThrift int
	rest       bool
	portRest   int
	inputMode  string
	logLevel   string
	logFormat  string
}

func newServeCommand() *cobra.Command {
	var o serveOptions
	cmd := &cobra.Command{
		Use:   "serve <model> [tokenizer]",
		Short: "Serve predictions over thrift RPC and the HTTP gateway",
		Long: "Loads the model (and optional tokenizer) and serves predictions on the thrift\n" +
			"RPC port and, unless --rest=false, on the HTTP gateway, which forwards to the\n" +
			"RPC listener. SIGINT or SIGTERM starts a graceful shutdown.",
		Args: cli.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.resolve(cmd.Flags(), args)
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer log.Sync()

			return lifecycle.Run(func(ctx context.Context) error {
				return serve(ctx, cfg, log, nil)
			}, lifecycle.WithShutdownTimeout(cfg.Shutdown.Grace))
		},
	}

	o.bind(cmd.Flags())
	return cmd
}

func (o *serveOptions) bind(f *pflag.FlagSet) {
	d := config.Default()
	f.StringVar(&o.configPath, flagConfig, "", "TOML or YAML config file")
	f.IntVar(&o.portThrift, flagPortThrift, d.RPC.Port, "thrift RPC port")
	f.BoolVar(&o.rest, flagRest, d.Gateway.Enabled, "serve the HTTP gateway")
	f.IntVar(&o.portRest, flagPortRest, d.Gateway.Port, "HTTP gateway port")
	f.StringVar(&o.inputMode, flagInputMode, d.Gateway.InputMode, "gateway input mode: query or json")
	f.StringVar(&o.logLevel, flagLogLevel, d.Log.Level, "log level: debug, info, warn or error")
	f.StringVar(&o.logFormat, flagLogFormat, d.Log.Format, "log format: json or console")
}

// resolve layers defaults, the config file, the environment, then flags
// that were set explicitly, then positional args.
func (o *serveOptions) resolve(flags *pflag.FlagSet, args []string) (config.Config, error) {
	cfg := config.Default()
	if err := config.Load(o.configPath, config.EnvPrefix, &cfg); err != nil {
		return cfg, errors.Wrap(errors.CodeValidation, err, "load config")
	}

	if flags.Changed(flagPortThrift) {
		cfg.RPC.Port = o.portThrift
	}
	if flags.Changed(flagRest) {
		cfg.Gateway.Enabled = o.rest
	}
	if flags.Changed(flagPortRest) {
		cfg.Gateway.Port = o.portRest
	}
	if flags.Changed(flagInputMode) {
		cfg.Gateway.InputMode = o.inputMode
	}
	if flags.Changed(flagLogLevel) {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed(flagLogFormat) {
		cfg.Log.Format = o.logFormat
	}

	if len(args) > 0 {
		cfg.Model.Path = args[0]
	}
	if len(args) > 1 {
		cfg.Tokenizer.Path = args[1]
	}

	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(errors.CodeValidation, err, "invalid configuration")
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, err, "log level")
	}
	return logging.New("intentd", level, logging.WithWriter(w), logging.WithFormat(cfg.Format)), nil
}

// serve loads the model and runs both listeners until ctx is cancelled.
// Load failures return before any port is bound. onReady may be nil.
func serve(ctx context.Context, cfg config.Config, log *logging.Logger, onReady func(rpc, gw net.Addr)) error {
	reg, m := metrics.NewRegistry()

	core, err := service.Load(cfg.Model, cfg.Tokenizer, service.WithLogger(log), service.WithMetrics(m))
	if err != nil {
		return err
	}
	defer core.Close()
	log.Info(ctx, "model loaded", "path", cfg.Model.Path, "kind", core.Kind(), "labels", len(core.Labels()))

	modelID, err := engine.ModelID(cfg.Model.Path)
	if err != nil {
		return err
	}
	cache, err := scorecache.Open(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	if cache != nil {
		defer cache.Close()
	}

	rpcLn := rpc.NewListener(cfg.RPCAddr(), core, rpc.WithListenerLogger(log), rpc.WithListenerMetrics(m))

	hl := health.New("intentd", version)
	hl.AddCheck("rpc", func(context.Context) error {
		if st := rpcLn.State(); st != lifecycle.Running {
			return fmt.Errorf("rpc listener is %s", st)
		}
		return nil
	})

	mgr := &lifecycle.Manager{
		RPC:   rpcLn,
		Grace: cfg.Shutdown.Grace,
		Log:   log,
		OnReady: func(rpcAddr, gwAddr net.Addr) {
			log.Info(ctx, "ready", "rpc", rpcAddr.String(), "gateway", addrString(gwAddr))
			if onReady != nil {
				onReady(rpcAddr, gwAddr)
			}
		},
		OnStopping: func() { hl.SetReady(false) },
	}
	if cfg.Gateway.Enabled {
		mgr.NewGateway = func(rpcAddr net.Addr) (lifecycle.Listener, io.Closer, error) {
			client := rpc.NewClient(dialAddr(rpcAddr), rpc.ClientConfig{
				PoolSize:         cfg.Client.PoolSize,
				ConnectTimeout:   cfg.Client.ConnectTimeout,
				Retries:          cfg.Client.Retries,
				BreakerThreshold: cfg.Client.BreakerThreshold,
				BreakerCooldown:  cfg.Client.BreakerCooldown,
			}, rpc.WithClientLogger(log), rpc.WithClientMetrics(m))
			hl.AddCheck("breaker", func(context.Context) error {
				if client.Breaker() == circuitbreaker.Open {
					return circuitbreaker.ErrOpen
				}
				return nil
			})

			gw := gateway.New(cfg, gateway.Deps{
				Backend:  scorecache.NewCached(client, cache, modelID, log, m),
				Health:   hl,
				Log:      log,
				Metrics:  m,
				Registry: reg,
			})
			return gw, client, nil
		}
	}
	return mgr.Run(ctx)
}

// dialAddr turns a bound wildcard address into one the gateway can dial.
func dialAddr(a net.Addr) string {
	if tcp, ok := a.(*net.TCPAddr); ok && (tcp.IP == nil || tcp.IP.IsUnspecified()) {
		return net.JoinHostPort("127.0.0.1", strconv.Itoa(tcp.Port))
	}
	return a.String()
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
