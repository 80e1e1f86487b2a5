package packets

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"syscall"
)

// Direction selects the frame layout a Decoder expects.
type Direction int

const (
	// ClientToServer frames carry only a type byte and a payload.
	ClientToServer Direction = iota
	// ServerToClient chat frames carry the sender's address before the payload.
	ServerToClient
)

func (d Direction) String() string {
	if d == ServerToClient {
		return "server->client"
	}
	return "client->server"
}

// Decoder reads frames from a byte stream. It is not safe for concurrent use.
type Decoder struct {
	r   *bufio.Reader
	dir Direction
}

// NewDecoder returns a Decoder for frames sent by a client to the server.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(retryReader{r}), dir: ClientToServer}
}

// NewRelayDecoder returns a Decoder for frames sent by the server to a client.
func NewRelayDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(retryReader{r}), dir: ServerToClient}
}

// Next blocks until the next complete frame has been read. io.EOF is returned
// when the peer closed the connection on a frame boundary and
// io.ErrUnexpectedEOF when it closed in the middle of a frame.
//
// Payloads longer than MaxPayloadSize are truncated rather than rejected and
// frames with an unknown type are returned as-is for the caller to ignore.
// A lone terminator in place of a type byte comes back as an empty frame of
// kind Terminator.
func (d *Decoder) Next() (Frame, error) {
	typeByte, err := d.r.ReadByte()
	if err != nil {
		return Frame{}, err
	}
	f := Frame{Kind: Kind(typeByte)}
	// A stray terminator is a frame on its own. Scanning past it would eat
	// the frame that follows.
	if typeByte == Terminator {
		return f, nil
	}

	// The address is fixed-length binary and may itself contain the
	// terminator, so it has to be consumed before scanning.
	if d.dir == ServerToClient && f.Kind == ChatType {
		var addr [AddressSize]byte
		if _, err := io.ReadFull(d.r, addr[:]); err != nil {
			return Frame{}, midFrame(err)
		}
		copy(f.Source.IP[:], addr[:4])
		f.Source.Port = binary.BigEndian.Uint16(addr[4:])
	}

	if f.Payload, err = d.readPayload(); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (d *Decoder) readPayload() ([]byte, error) {
	var payload []byte
	for {
		chunk, err := d.r.ReadSlice(Terminator)
		if err == nil {
			chunk = chunk[:len(chunk)-1]
		}
		if room := MaxPayloadSize - len(payload); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			payload = append(payload, chunk...)
		}

		switch {
		case err == nil:
			return payload, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, midFrame(err)
		}
	}
}

func midFrame(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// IsTransient reports whether err is a "try again" condition rather than a
// broken connection.
func IsTransient(err error) bool {
	return errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN)
}

// retryReader hides transient read errors from the buffered reader so that a
// partially read frame is never lost.
type retryReader struct {
	r io.Reader
}

func (rr retryReader) Read(p []byte) (int, error) {
	for {
		n, err := rr.r.Read(p)
		if n > 0 || err == nil || !IsTransient(err) {
			return n, err
		}
	}
}
