// The server command is the main entrypoint for running pumpkin. It loads
// the configuration, registers a signal handler for graceful shutdown, and
// runs the controller until it exits.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/NailLegProcessorDivide/Pumpkin/internal"
	"github.com/NailLegProcessorDivide/Pumpkin/internal/core"
)

func serverCommand() *cli.Command {
	return &cli.Command{
		Name:        "server",
		Usage:       "pumpkin server",
		Description: "Runs the pumpkin server.",
		Action:      runServer,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the directory containing the server config file",
				EnvVars: []string{"PUMPKIN_CONFIG"},
				Value:   "./",
			},
		},
	}
}

func runServer(c *cli.Context) error {
	configPath := c.String("config")
	config, err := core.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	// Bind the Controller to one top-level server context so that we can
	// shut down cleanly.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ctrl-C shuts the server down gracefully; a second signal hard exits.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		fmt.Println("waiting to shut down gracefully...")
		cancel()
		<-sigs
		fmt.Println("hard exiting (killed)")
		os.Exit(1)
	}()

	controller := &internal.Controller{Config: config}
	if err := controller.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("shut down")
	return nil
}
