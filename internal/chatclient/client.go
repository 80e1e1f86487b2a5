// Package chatclient is a load generating client for the relay: it sends a
// fixed number of random messages, says it is done, and records everything
// the server relays back to it.
package chatclient

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/chatrelay/internal/packets"
)

const (
	messageBytes        = 16
	DefaultSendInterval = time.Millisecond
)

// Config controls a single client run.
type Config struct {
	// ServerAddr is the relay's host:port.
	ServerAddr string
	// MessageCount is the number of chat frames to send before finishing.
	MessageCount int
	// Log receives one line per relayed message.
	Log io.Writer
	// SendInterval is the pause between sends. Zero uses DefaultSendInterval
	// and a negative value disables the pause.
	SendInterval time.Duration
	Logger       *logrus.Logger
}

// Result summarizes a finished run.
type Result struct {
	// Local is the address the server saw this client as.
	Local packets.Address
	// Sent is the number of chat frames written.
	Sent int
	// Received is the number of relayed chat frames logged.
	Received int
	// ServerDone is set when the server acknowledged with a done frame rather
	// than just closing the connection.
	ServerDone bool
}

type receiveResult struct {
	received   int
	serverDone bool
	err        error
}

// Run connects to the relay and drives one full client session. It returns
// once the server has acknowledged the client's done frame or closed the
// connection, or when ctx is cancelled.
func Run(ctx context.Context, cfg Config) (Result, error) {
	var result Result
	if cfg.MessageCount < 0 {
		return result, fmt.Errorf("message count must be >= 0, got %d", cfg.MessageCount)
	}
	if cfg.Log == nil {
		cfg.Log = io.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.SendInterval == 0 {
		cfg.SendInterval = DefaultSendInterval
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp4", cfg.ServerAddr)
	if err != nil {
		return result, fmt.Errorf("error connecting to %s: %w", cfg.ServerAddr, err)
	}
	defer conn.Close()

	result.Local, err = packets.AddressFromTCP(conn.LocalAddr().(*net.TCPAddr))
	if err != nil {
		return result, err
	}
	logger := cfg.Logger.WithField("local", result.Local.String())
	logger.Infof("connected to %s", conn.RemoteAddr())

	received := make(chan receiveResult, 1)
	go func() {
		received <- receive(conn, cfg.Log)
	}()

	// Unblock both halves if the caller gives up.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	result.Sent, err = send(ctx, conn, cfg, logger)
	if err != nil {
		conn.Close()
		<-received
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, err
	}
	logger.Infof("sent %d messages, waiting for the server", result.Sent)

	r := <-received
	result.Received = r.received
	result.ServerDone = r.serverDone
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	if r.err != nil {
		return result, r.err
	}

	logger.Infof("received %d messages", result.Received)
	return result, nil
}

// send writes the chat frames followed by the done frame.
func send(ctx context.Context, conn net.Conn, cfg Config, logger *logrus.Entry) (int, error) {
	sent := 0
	for sent < cfg.MessageCount {
		msg, err := randomMessage()
		if err != nil {
			return sent, err
		}
		if _, err := conn.Write(packets.EncodeChat(msg)); err != nil {
			return sent, fmt.Errorf("error sending message %d: %w", sent, err)
		}
		sent++
		logger.Debugf("sent %s", msg)

		if cfg.SendInterval > 0 {
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(cfg.SendInterval):
			}
		}
	}

	if _, err := conn.Write(packets.EncodeDone()); err != nil {
		return sent, fmt.Errorf("error sending done: %w", err)
	}
	return sent, nil
}

// receive logs relayed chat frames until the server's done frame or the end
// of the connection.
func receive(conn net.Conn, log io.Writer) receiveResult {
	var r receiveResult
	w := bufio.NewWriter(log)
	defer func() {
		if err := w.Flush(); err != nil && r.err == nil {
			r.err = fmt.Errorf("error writing log: %w", err)
		}
	}()

	decoder := packets.NewRelayDecoder(conn)
	for {
		frame, err := decoder.Next()
		switch {
		case err == io.EOF:
			return r
		case errors.Is(err, net.ErrClosed):
			return r
		case err != nil:
			r.err = fmt.Errorf("error reading from server: %w", err)
			return r
		}

		switch frame.Kind {
		case packets.ChatType:
			if _, err := fmt.Fprintf(w, "%-15s%-10d%s\n", frame.Source.IPString(), frame.Source.Port, frame.Payload); err != nil {
				r.err = fmt.Errorf("error writing log: %w", err)
				return r
			}
			r.received++
		case packets.DoneType:
			r.serverDone = true
			return r
		}
	}
}

// randomMessage returns 16 random bytes as 32 uppercase hex characters, which
// never contain the frame terminator.
func randomMessage() ([]byte, error) {
	raw := make([]byte, messageBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("error generating message: %w", err)
	}
	return []byte(strings.ToUpper(hex.EncodeToString(raw))), nil
}
