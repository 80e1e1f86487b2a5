// Frame definitions shared by the server, the chat client, and the sniffer.
package packets

import (
	"errors"
	"fmt"
	"net"
)

const (
	// Terminator ends every frame in both directions.
	Terminator byte = 0x0A
	// MaxPayloadSize is the largest chat payload that is relayed. Anything
	// past it is dropped by the decoders.
	MaxPayloadSize = 1024
	// AddressSize is the length of the IPv4 address and port that prefix
	// the payload of a relayed chat frame.
	AddressSize = 6
)

// Kind is the type byte at the start of every frame.
type Kind uint8

const (
	ChatType Kind = 0x00
	DoneType Kind = 0x01
)

func (k Kind) String() string {
	switch k {
	case ChatType:
		return "chat"
	case DoneType:
		return "done"
	default:
		return fmt.Sprintf("unknown(0x%02X)", uint8(k))
	}
}

// Known reports whether k is one of the frame types defined by the protocol.
func (k Kind) Known() bool {
	return k == ChatType || k == DoneType
}

// Frame is one decoded message. Source is only populated for chat frames
// sent by the server.
type Frame struct {
	Kind    Kind
	Source  Address
	Payload []byte
}

// Address is the IPv4 address and port of a chat frame's original sender.
type Address struct {
	IP   [4]byte
	Port uint16
}

var errNotIPv4 = errors.New("address is not IPv4")

// AddressFromTCP converts a TCP address to the wire representation used in
// relayed chat frames.
func AddressFromTCP(addr *net.TCPAddr) (Address, error) {
	var a Address
	if addr == nil {
		return a, errNotIPv4
	}
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return a, fmt.Errorf("%s: %w", addr, errNotIPv4)
	}
	copy(a.IP[:], ip4)
	a.Port = uint16(addr.Port)
	return a, nil
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.IPString(), a.Port)
}

// IPString returns the dotted-quad form of the address.
func (a Address) IPString() string {
	return net.IP(a.IP[:]).String()
}
