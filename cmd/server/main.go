package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/dmitrijs2005/printrelay/internal/buildinfo"
	"github.com/dmitrijs2005/printrelay/internal/flagx"
	"github.com/dmitrijs2005/printrelay/internal/server"
	"github.com/dmitrijs2005/printrelay/internal/server/auth"
	"github.com/dmitrijs2005/printrelay/internal/server/config"
)

func main() {

	cfg := config.LoadConfig()

	// printrelay-server token <clientID> prints a token for provisioning a
	// print client and exits.
	args := flagx.Positional(os.Args[1:], append(config.ValueFlags, flagx.ConfigFlags...))
	if len(args) > 1 && args[0] == "token" {
		token, err := auth.GenerateToken(args[1], []byte(cfg.SecretKey), cfg.TokenValidity)
		if err != nil {
			log.Fatalf("%v", err)
		}
		fmt.Println(token)
		return
	}

	buildinfo.PrintBuildData(os.Stdout)

	ctx := context.Background()
	app, err := server.NewApp(ctx, cfg)

	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
