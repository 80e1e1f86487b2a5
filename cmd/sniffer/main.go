// The sniffer command prints the frames of a relay session, either live from
// a network interface or from a pcap capture file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/dcrodman/chatrelay/internal/sniffer"
)

const snapshotLen = 65536

func main() {
	app := &cli.App{
		Name:            "sniffer",
		Usage:           "print relay frames from captured traffic",
		UsageText:       "sniffer [-i device | -r file.pcap] [-p port]",
		HideHelpCommand: true,
		Action:          sniff,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "interface",
				Aliases: []string{"i"},
				Usage:   "Device on which to listen for packets",
				Value:   "lo",
			},
			&cli.StringFlag{
				Name:    "read",
				Aliases: []string{"r"},
				Usage:   "Read packets from a pcap file instead of a device",
			},
			&cli.UintFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port the relay server listens on",
				Value:   5000,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log stream bookkeeping",
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "sniffer error:", err)
		os.Exit(1)
	}
}

func sniff(c *cli.Context) error {
	port := c.Uint("port")
	if port == 0 || port > 0xFFFF {
		return cli.Exit(fmt.Sprintf("invalid port %d", port), 1)
	}

	logger := logrus.New()
	logger.Out = os.Stderr
	if c.Bool("verbose") {
		logger.Level = logrus.DebugLevel
	}

	var source *gopacket.PacketSource
	if path := c.String("read"); path != "" {
		fileSource, closer, err := sniffer.OpenFile(path)
		if err != nil {
			return cli.Exit(err, 1)
		}
		defer closer.Close()
		source = fileSource
	} else {
		handle, err := openLive(c.String("interface"), uint16(port))
		if err != nil {
			return cli.Exit(err, 1)
		}
		defer handle.Close()
		source = gopacket.NewPacketSource(handle, handle.LinkType())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &sniffer.Sniffer{Port: uint16(port), Writer: os.Stdout, Logger: logger}
	frames, err := s.Run(ctx, source.Packets())
	logger.Infof("printed %d frames", frames)
	if err != nil && err != context.Canceled {
		return cli.Exit(err, 1)
	}
	return nil
}

func openLive(device string, port uint16) (*pcap.Handle, error) {
	if !deviceExists(device) {
		return nil, fmt.Errorf("invalid device: %s", device)
	}

	handle, err := pcap.OpenLive(device, snapshotLen, false, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("error opening handle: %w", err)
	}
	if err := handle.SetBPFFilter(sniffer.Filter(port)); err != nil {
		handle.Close()
		return nil, fmt.Errorf("error setting filter: %w", err)
	}
	return handle, nil
}

func deviceExists(device string) bool {
	devs, _ := pcap.FindAllDevs()
	for _, dev := range devs {
		if dev.Name == device {
			return true
		}
	}
	return false
}
