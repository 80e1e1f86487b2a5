package packets

import (
	"bytes"
	"encoding/binary"
)

// Cut extracts the first complete frame from data, returning it along with
// the number of bytes it occupied. ok is false if data does not yet hold a
// complete frame, in which case the caller should wait for more bytes.
func Cut(data []byte, dir Direction) (f Frame, n int, ok bool) {
	if len(data) == 0 {
		return Frame{}, 0, false
	}
	f.Kind = Kind(data[0])
	if data[0] == Terminator {
		return f, 1, true
	}

	start := 1
	if dir == ServerToClient && f.Kind == ChatType {
		start += AddressSize
		if len(data) < start {
			return Frame{}, 0, false
		}
		copy(f.Source.IP[:], data[1:5])
		f.Source.Port = binary.BigEndian.Uint16(data[5:7])
	}

	end := bytes.IndexByte(data[start:], Terminator)
	if end < 0 {
		return Frame{}, 0, false
	}
	payload := data[start : start+end]
	if len(payload) > MaxPayloadSize {
		payload = payload[:MaxPayloadSize]
	}
	if len(payload) > 0 {
		f.Payload = append([]byte(nil), payload...)
	}
	return f, start + end + 1, true
}
