package relay

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/chatrelay/internal/core"
	"github.com/dcrodman/chatrelay/internal/core/client"
	"github.com/dcrodman/chatrelay/internal/packets"
)

const testTimeout = 10 * time.Second

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Out = io.Discard
	return logger
}

// newTestClientPair returns a server side Client and the peer connection it
// is talking to.
func newTestClientPair(t *testing.T) (*client.Client, *net.TCPConn) {
	t.Helper()

	listener, err := net.ListenTCP("tcp4", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("error initializing test listener: %v", err)
	}
	defer listener.Close()

	peer, err := net.DialTCP("tcp4", nil, listener.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("error initializing test connection: %v", err)
	}
	t.Cleanup(func() { peer.Close() })

	conn, err := listener.AcceptTCP()
	if err != nil {
		t.Fatalf("error accepting test connection: %v", err)
	}
	c := client.NewClient(conn)
	t.Cleanup(func() { c.Close() })
	return c, peer
}

// testPeer is a protocol-level client used to drive a running Server.
type testPeer struct {
	conn    *net.TCPConn
	decoder *packets.Decoder
}

func dialTestPeer(t *testing.T, addr *net.TCPAddr) *testPeer {
	t.Helper()

	conn, err := net.DialTCP("tcp4", nil, addr)
	if err != nil {
		t.Fatalf("failed to connect to %v: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })
	return &testPeer{conn: conn, decoder: packets.NewRelayDecoder(conn)}
}

func (p *testPeer) address() packets.Address {
	addr, _ := packets.AddressFromTCP(p.conn.LocalAddr().(*net.TCPAddr))
	return addr
}

func (p *testPeer) send(t *testing.T, frame []byte) {
	t.Helper()
	if _, err := p.conn.Write(frame); err != nil {
		t.Fatalf("failed to write to connection: %v", err)
	}
}

func (p *testPeer) next(t *testing.T) packets.Frame {
	t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(testTimeout))
	f, err := p.decoder.Next()
	if err != nil {
		t.Fatalf("failed to read frame: %v", err)
	}
	return f
}

// readUntilClosed returns every frame received before the server closed the
// connection.
func (p *testPeer) readUntilClosed(t *testing.T) []packets.Frame {
	t.Helper()
	_ = p.conn.SetReadDeadline(time.Now().Add(testTimeout))

	var frames []packets.Frame
	for {
		f, err := p.decoder.Next()
		if err == io.EOF {
			return frames
		} else if err != nil {
			t.Fatalf("failed to read frame: %v", err)
		}
		frames = append(frames, f)
	}
}

// startTestServer runs a server on an OS assigned port and returns it along
// with a channel that receives Run's result and a function that cancels Run.
// configure may adjust the server before it starts listening.
func startTestServer(t *testing.T, expected int, configure func(*Server)) (*Server, <-chan error, context.CancelFunc) {
	t.Helper()

	cfg := &core.Config{}
	cfg.Relay.WaitForRoster = true
	s := &Server{
		Address:         "127.0.0.1:0",
		ExpectedClients: expected,
		Config:          cfg,
		Logger:          newTestLogger(),
	}
	if configure != nil {
		configure(s)
	}
	if err := s.Listen(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	exited := make(chan struct{})
	go func() {
		result <- s.Run(ctx)
		close(exited)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-exited:
		case <-time.After(testTimeout):
			t.Error("server did not exit after cancellation")
		}
	})
	return s, result, cancel
}

func waitForRun(t *testing.T, result <-chan error) {
	t.Helper()
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Run() returned an unexpected error: %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for the server to exit")
	}
}

func chatFrame(from packets.Address, payload string) packets.Frame {
	return packets.Frame{Kind: packets.ChatType, Source: from, Payload: []byte(payload)}
}

var doneFrame = packets.Frame{Kind: packets.DoneType}

// syncBuffer is a goroutine-safe sink for log output in tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncBuffer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncBuffer) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}
