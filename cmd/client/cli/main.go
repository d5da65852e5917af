package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/printrelay/internal/buildinfo"
	"github.com/dmitrijs2005/printrelay/internal/client/cli"
	"github.com/dmitrijs2005/printrelay/internal/client/config"
	"github.com/dmitrijs2005/printrelay/internal/flagx"
	"github.com/dmitrijs2005/printrelay/internal/logging"
)

func main() {

	cfg := config.LoadConfig()
	logger := logging.NewJSONLogger(logging.ParseLevel(cfg.LogLevel))

	app, err := cli.NewApp(cfg, logger)
	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// printrelay-client [flags] run starts the agent without the shell.
	args := flagx.Positional(os.Args[1:], append(config.ValueFlags, flagx.ConfigFlags...))
	if len(args) > 0 && args[0] == "run" {
		buildinfo.PrintBuildData(os.Stderr)
		err := app.RunAgent(ctx)
		app.Close()
		if err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	app.Root(ctx)

}
