package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()

	app.Name = "pixelboard"
	app.Usage = "collaborative pixel canvas server"

	app.Flags = []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "env-file",
			Usage: "dotenv files to load before reading the environment",
			Value: cli.NewStringSlice(".env"),
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "override LOG_LEVEL",
		},
	}

	app.Commands = []*cli.Command{
		serveCommand(),
		renderCommand(),
		paletteCommand(),
		dumpCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
