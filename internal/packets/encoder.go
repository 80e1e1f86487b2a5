package packets

import "encoding/binary"

// EncodeChat builds a client chat frame. The payload is sent as-is; the
// server is responsible for truncating oversized payloads and payloads must
// not contain the terminator.
func EncodeChat(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+2)
	frame = append(frame, byte(ChatType))
	frame = append(frame, payload...)
	return append(frame, Terminator)
}

// EncodeDone builds the two byte Done frame used in both directions.
func EncodeDone() []byte {
	return []byte{byte(DoneType), Terminator}
}

// EncodeRelay builds the chat frame the server sends to every client, tagged
// with the address of the original sender.
func EncodeRelay(source Address, payload []byte) []byte {
	frame := make([]byte, 1+AddressSize, 1+AddressSize+len(payload)+1)
	frame[0] = byte(ChatType)
	copy(frame[1:5], source.IP[:])
	binary.BigEndian.PutUint16(frame[5:7], source.Port)
	frame = append(frame, payload...)
	return append(frame, Terminator)
}

// Bytes re-encodes f in the layout used by dir. Frames of unknown kind are
// encoded as a type byte followed by the payload.
func (f Frame) Bytes(dir Direction) []byte {
	switch {
	case f.Kind == ChatType && dir == ServerToClient:
		return EncodeRelay(f.Source, f.Payload)
	case f.Kind == ChatType:
		return EncodeChat(f.Payload)
	}
	frame := make([]byte, 0, len(f.Payload)+2)
	frame = append(frame, byte(f.Kind))
	frame = append(frame, f.Payload...)
	return append(frame, Terminator)
}
