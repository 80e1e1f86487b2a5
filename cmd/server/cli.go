package main

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli/v2"
)

func app() *cli.App {
	return &cli.App{
		Name:            "server",
		Usage:           "chat relay server",
		UsageText:       "server [--config DIR] <port> <expected-client-count>",
		Description:     "Relays every chat message to all connected clients and exits once each of them is done.",
		HideHelpCommand: true,
		Action:          server,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the directory containing an optional config.yaml",
				Value:   "./",
			},
		},
	}
}

// parseArgs validates the positional arguments.
func parseArgs(args cli.Args) (port, expected int, err error) {
	if args.Len() != 2 {
		return 0, 0, fmt.Errorf("want 2 arguments, got %d", args.Len())
	}

	p, err := strconv.ParseUint(args.Get(0), 10, 16)
	if err != nil || p == 0 {
		return 0, 0, fmt.Errorf("invalid port %q", args.Get(0))
	}
	n, err := strconv.Atoi(args.Get(1))
	if err != nil || n <= 0 {
		return 0, 0, fmt.Errorf("invalid expected client count %q", args.Get(1))
	}
	return int(p), n, nil
}
