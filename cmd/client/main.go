// The client command connects to a relay server, sends a number of random
// messages, and writes every message relayed back to it into a log file.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/dcrodman/chatrelay/internal/chatclient"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "client error:", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	return &cli.App{
		Name:            "client",
		Usage:           "chat relay load client",
		UsageText:       "client [--verbose] <server-IP> <port> <message-count> <log-file-path>",
		HideHelpCommand: true,
		Action:          run,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log every message sent",
			},
			&cli.DurationFlag{
				Name:  "interval",
				Usage: "Pause between messages",
				Value: chatclient.DefaultSendInterval,
			},
		},
	}
}

type arguments struct {
	serverAddr   string
	messageCount int
	logPath      string
}

func parseArgs(args cli.Args) (arguments, error) {
	var a arguments
	if args.Len() != 4 {
		return a, fmt.Errorf("want 4 arguments, got %d", args.Len())
	}

	ip := net.ParseIP(args.Get(0))
	if ip == nil || ip.To4() == nil {
		return a, fmt.Errorf("invalid IPv4 address %q", args.Get(0))
	}
	port, err := strconv.ParseUint(args.Get(1), 10, 16)
	if err != nil || port == 0 {
		return a, fmt.Errorf("invalid port %q", args.Get(1))
	}
	count, err := strconv.Atoi(args.Get(2))
	if err != nil || count < 0 {
		return a, fmt.Errorf("invalid message count %q", args.Get(2))
	}

	a.serverAddr = net.JoinHostPort(ip.String(), strconv.FormatUint(port, 10))
	a.messageCount = count
	a.logPath = args.Get(3)
	return a, nil
}

func run(c *cli.Context) error {
	args, err := parseArgs(c.Args())
	if err != nil {
		return cli.Exit(fmt.Sprintf("%v\nusage: %s", err, c.App.UsageText), 1)
	}

	logFile, err := os.Create(args.logPath)
	if err != nil {
		return cli.Exit(fmt.Sprintf("error opening log file: %v", err), 1)
	}
	defer logFile.Close()

	logger := logrus.New()
	logger.Out = os.Stderr
	logger.Formatter = &logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05",
		FullTimestamp:   true,
		DisableSorting:  true,
	}
	if c.Bool("verbose") {
		logger.Level = logrus.DebugLevel
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := chatclient.Run(ctx, chatclient.Config{
		ServerAddr:   args.serverAddr,
		MessageCount: args.messageCount,
		Log:          logFile,
		SendInterval: c.Duration("interval"),
		Logger:       logger,
	})
	if err != nil {
		return cli.Exit(err, 1)
	}
	if !result.ServerDone {
		logger.Warn("server closed the connection without acknowledging")
	}
	return nil
}
