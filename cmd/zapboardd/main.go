package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/zapboard/zapboard/internal/agent"
	"go.uber.org/fx"
)

func main() {
	configFlag := flag.String("config", "", "config file path (defaults to ~/.zapboard/config.toml)")
	broadcastFlag := flag.String("watch-broadcast", "", "broadcast id to reconcile and report progress for")
	flag.Parse()

	if flag.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "error: unexpected argument %q\n", flag.Arg(0))
		os.Exit(1)
	}

	app := fx.New(
		agent.Module(agent.Params{
			ConfigPath:       *configFlag,
			WatchBroadcastID: *broadcastFlag,
		}),
	)

	app.Run()
}
