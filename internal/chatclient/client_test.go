package chatclient

import (
	"bytes"
	"context"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/chatrelay/internal/relay"
)

const testTimeout = 10 * time.Second

var hexMessage = regexp.MustCompile(`^[0-9A-F]{32}$`)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger
}

func startRelay(t *testing.T, expected int) *relay.Server {
	t.Helper()

	s := &relay.Server{
		Address:         "127.0.0.1:0",
		ExpectedClients: expected,
		Logger:          newTestLogger(),
	}
	if err := s.Listen(); err != nil {
		t.Fatalf("failed to start relay: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		if err := s.Run(ctx); err != nil {
			t.Errorf("relay exited with error: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-exited:
		case <-time.After(testTimeout):
			t.Error("relay did not exit")
		}
	})
	return s
}

type logLine struct {
	ip      string
	port    uint16
	message string
}

func parseLog(t *testing.T, log string) []logLine {
	t.Helper()

	var lines []logLine
	for _, raw := range strings.Split(strings.TrimSuffix(log, "\n"), "\n") {
		if raw == "" {
			continue
		}
		if len(raw) != 15+10+32 {
			t.Fatalf("log line %q has the wrong width", raw)
		}
		port, err := strconv.ParseUint(strings.TrimSpace(raw[15:25]), 10, 16)
		if err != nil {
			t.Fatalf("log line %q has a bad port: %v", raw, err)
		}
		lines = append(lines, logLine{
			ip:      strings.TrimSpace(raw[:15]),
			port:    uint16(port),
			message: raw[25:],
		})
	}
	return lines
}

func TestRun_SingleClient(t *testing.T) {
	s := startRelay(t, 1)

	var log bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	result, err := Run(ctx, Config{
		ServerAddr:   s.Addr().String(),
		MessageCount: 5,
		Log:          &log,
		Logger:       newTestLogger(),
	})
	if err != nil {
		t.Fatalf("Run() returned an unexpected error: %v", err)
	}

	if result.Sent != 5 || result.Received != 5 {
		t.Errorf("want 5 sent and 5 received, got %d sent and %d received", result.Sent, result.Received)
	}
	if !result.ServerDone {
		t.Error("the server should have acknowledged with a done frame")
	}

	lines := parseLog(t, log.String())
	if len(lines) != 5 {
		t.Fatalf("want 5 log lines, got = %d", len(lines))
	}
	for _, l := range lines {
		if l.ip != "127.0.0.1" || l.port != result.Local.Port {
			t.Errorf("message should be attributed to %v, got %s:%d", result.Local, l.ip, l.port)
		}
		if !hexMessage.MatchString(l.message) {
			t.Errorf("message %q is not 32 uppercase hex characters", l.message)
		}
	}
}

func TestRun_SharedSession(t *testing.T) {
	const clients, messages = 3, 20
	s := startRelay(t, clients)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	var wg sync.WaitGroup
	logs := make([]bytes.Buffer, clients)
	results := make([]Result, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			results[i], err = Run(ctx, Config{
				ServerAddr:   s.Addr().String(),
				MessageCount: messages,
				Log:          &logs[i],
				SendInterval: -1,
				Logger:       newTestLogger(),
			})
			if err != nil {
				t.Errorf("client %d: Run() returned an unexpected error: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if !r.ServerDone {
			t.Errorf("client %d was not acknowledged", i)
		}
		// A client's own messages are queued ahead of its done frame, so it
		// always sees all of them. Other clients' messages may arrive after it
		// was acknowledged.
		own := 0
		for _, l := range parseLog(t, logs[i].String()) {
			if l.port == r.Local.Port {
				own++
			}
		}
		if own != messages {
			t.Errorf("client %d want all %d of its own messages, got = %d", i, messages, own)
		}
		if r.Received < messages || r.Received > clients*messages {
			t.Errorf("client %d received an impossible number of messages: %d", i, r.Received)
		}
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	listener, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("error initializing test listener: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	if _, err := Run(context.Background(), Config{ServerAddr: addr, MessageCount: 1, Logger: newTestLogger()}); err == nil {
		t.Error("Run() should fail when nothing is listening")
	}
}

func TestRun_Cancelled(t *testing.T) {
	// Two expected clients keeps the relay from ever acknowledging the first.
	s := startRelay(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := Run(ctx, Config{
			ServerAddr:   s.Addr().String(),
			MessageCount: 1,
			Logger:       newTestLogger(),
		})
		errs <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errs:
		if err != context.Canceled {
			t.Errorf("Run() want context.Canceled, got = %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Run() did not return after cancellation")
	}
}

func TestRandomMessage(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		msg, err := randomMessage()
		if err != nil {
			t.Fatalf("randomMessage() returned an unexpected error: %v", err)
		}
		if !hexMessage.Match(msg) {
			t.Fatalf("randomMessage() = %q, want 32 uppercase hex characters", msg)
		}
		seen[string(msg)] = true
	}
	if len(seen) < 100 {
		t.Errorf("randomMessage() produced duplicates: %d unique of 100", len(seen))
	}
}
