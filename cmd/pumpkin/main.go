package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Printf("pumpkin error: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	app := cli.NewApp()
	app.Name = "pumpkin"
	app.Usage = "a protocol-complete game server"
	app.Commands = []*cli.Command{
		serverCommand(),
	}
	return app
}
