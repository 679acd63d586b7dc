// intentd serves an intent classifier over thrift RPC and an HTTP gateway.
//
// Usage:
//
//	intentd serve <model> [tokenizer]   Start the RPC listener and gateway
//	intentd predict <text>              One-shot prediction against a running server
//	intentd bench <datafile>            Latency analysis over a TSV of utterances
//	intentd collect <datafile> <label> <text>
//	                                    Append a labeled utterance to a TSV
//	intentd version                     Print version
package main

import (
	"context"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/greynewell/intentd/cli"
)

var version = "dev"

func newApp() *cli.App {
	app := cli.NewApp("intentd", version, "Intent classification server")
	app.AddCommand(
		newServeCommand(),
		newPredictCommand(),
		newBenchCommand(),
		newCollectCommand(),
	)
	return app
}

func main() {
	err := newApp().Execute(context.Background(), os.Args[1:])
	os.Exit(cli.ExitCode(err))
}
