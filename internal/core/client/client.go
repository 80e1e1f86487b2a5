package client

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/dcrodman/chatrelay/internal/packets"
)

// Client represents a single connection to the relay.
type Client struct {
	connection *net.TCPConn
	address    packets.Address
	remote     string

	// Random identifier used to correlate log entries for one connection.
	SessionID string

	closeOnce sync.Once
	closeErr  error
}

func NewClient(connection *net.TCPConn) *Client {
	c := &Client{
		connection: connection,
		remote:     connection.RemoteAddr().String(),
		SessionID:  uuid.NewString(),
	}
	if tcpAddr, ok := connection.RemoteAddr().(*net.TCPAddr); ok {
		// Peers on non-IPv4 transports are tagged as 0.0.0.0 with their port.
		c.address, _ = packets.AddressFromTCP(tcpAddr)
		c.address.Port = uint16(tcpAddr.Port)
	}
	return c
}

// Address returns the peer address as it appears in relayed frames.
func (c *Client) Address() packets.Address { return c.address }
func (c *Client) IPAddr() string            { return c.address.IPString() }
func (c *Client) String() string            { return c.remote }

// Read consumes the available bytes directly from the client's TCP connection.
func (c *Client) Read(b []byte) (int, error) {
	return c.connection.Read(b)
}

// Send writes the whole frame to the client, retrying short and transient
// writes until every byte is sent or the connection fails.
func (c *Client) Send(frame []byte) error {
	bytesSent := 0

	for bytesSent < len(frame) {
		n, err := c.connection.Write(frame[bytesSent:])
		bytesSent += n
		if err != nil {
			if packets.IsTransient(err) {
				continue
			}
			return fmt.Errorf("failed to send to client %v: %w", c.remote, err)
		}
	}

	return nil
}

// Close the TCP connection. Only the first call closes the socket; later
// calls return the same result.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.connection.Close()
	})
	return c.closeErr
}
