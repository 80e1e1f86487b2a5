// The server command runs one chat relay session: it listens on the given
// port, waits for the expected number of clients, relays their messages, and
// exits once all of them are done.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/dcrodman/chatrelay/internal"
	"github.com/dcrodman/chatrelay/internal/core"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		os.Exit(1)
	}
}

func server(c *cli.Context) error {
	port, expected, err := parseArgs(c.Args())
	if err != nil {
		return cli.Exit(fmt.Sprintf("%v\nusage: %s", err, c.App.UsageText), 1)
	}

	config, err := core.LoadConfig(c.String("config"))
	if err != nil {
		return cli.Exit(err, 1)
	}

	// Bind the Controller to one top-level context so that we can shut down cleanly.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Register a signal handler so that Ctrl-C tells every client to stop.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go exitHandler(cancel, sigs)

	controller := &internal.Controller{
		Config:          config,
		Port:            port,
		ExpectedClients: expected,
	}
	if err := controller.Start(ctx); err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

// exitHandler starts a graceful shutdown on the first signal and gives up on
// the second.
func exitHandler(cancelFn func(), c chan os.Signal) {
	if _, ok := <-c; !ok {
		return
	}
	fmt.Println("waiting to shut down gracefully...")
	cancelFn()

	if _, ok := <-c; ok {
		fmt.Println("hard exiting (killed)")
		os.Exit(1)
	}
}
