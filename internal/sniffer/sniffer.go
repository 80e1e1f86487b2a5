// Package sniffer reassembles relay frames out of captured TCP traffic so
// that a session can be inspected from outside the server and clients.
package sniffer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/chatrelay/internal/packets"
)

// maxBuffered bounds a stream that never produces a terminator, such as
// traffic joined mid-frame or not relay traffic at all.
const maxBuffered = 1 << 20

// streamKey identifies one direction of one TCP connection.
type streamKey struct {
	network   gopacket.Flow
	transport gopacket.Flow
}

type stream struct {
	dir    packets.Direction
	buffer []byte
}

// Sniffer turns captured packets into printed relay frames.
type Sniffer struct {
	// Port the relay server listens on. Segments sent to it are client frames
	// and segments sent from it are relayed frames.
	Port   uint16
	Writer io.Writer
	Logger *logrus.Logger

	out     *bufio.Writer
	streams map[streamKey]*stream
	frames  int
}

// Run prints frames from source until it is exhausted or ctx is cancelled
// and returns the number of frames printed.
func (s *Sniffer) Run(ctx context.Context, source <-chan gopacket.Packet) (int, error) {
	s.init()
	defer s.out.Flush()

	for {
		select {
		case <-ctx.Done():
			return s.frames, ctx.Err()
		case packet, ok := <-source:
			if !ok {
				return s.frames, s.out.Flush()
			}
			if err := s.HandlePacket(packet); err != nil {
				return s.frames, err
			}
		}
	}
}

func (s *Sniffer) init() {
	if s.streams != nil {
		return
	}
	if s.Writer == nil {
		s.Writer = os.Stdout
	}
	if s.Logger == nil {
		s.Logger = logrus.StandardLogger()
	}
	s.out = bufio.NewWriter(s.Writer)
	s.streams = make(map[streamKey]*stream)
}

// HandlePacket feeds one captured packet into the reassembly buffers and
// prints any frames it completes. Packets that aren't TCP on the relay port
// are skipped.
func (s *Sniffer) HandlePacket(packet gopacket.Packet) error {
	s.init()

	network := packet.NetworkLayer()
	tcpLayer, _ := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
	if network == nil || tcpLayer == nil {
		return nil
	}

	var dir packets.Direction
	switch {
	case uint16(tcpLayer.DstPort) == s.Port:
		dir = packets.ClientToServer
	case uint16(tcpLayer.SrcPort) == s.Port:
		dir = packets.ServerToClient
	default:
		return nil
	}

	key := streamKey{network: network.NetworkFlow(), transport: tcpLayer.TransportFlow()}
	st, ok := s.streams[key]
	if !ok {
		if tcpLayer.SYN {
			s.Logger.Debugf("new %s stream %v %v", dir, key.network, key.transport)
		}
		st = &stream{dir: dir}
		s.streams[key] = st
	}

	st.buffer = append(st.buffer, tcpLayer.Payload...)
	if err := s.drain(key, st); err != nil {
		return err
	}

	if tcpLayer.FIN || tcpLayer.RST {
		if len(st.buffer) > 0 {
			s.Logger.Debugf("discarding %d bytes of a partial frame on %v %v", len(st.buffer), key.network, key.transport)
		}
		delete(s.streams, key)
	}
	return nil
}

// drain prints every complete frame at the front of the stream's buffer.
func (s *Sniffer) drain(key streamKey, st *stream) error {
	for {
		frame, n, ok := packets.Cut(st.buffer, st.dir)
		if !ok {
			break
		}
		st.buffer = st.buffer[n:]
		if err := s.printFrame(key, st.dir, frame); err != nil {
			return err
		}
	}

	if len(st.buffer) > maxBuffered {
		s.Logger.Warnf("dropping %d unterminated bytes on %v %v", len(st.buffer), key.network, key.transport)
		st.buffer = nil
	} else if len(st.buffer) == 0 {
		st.buffer = nil
	}
	return nil
}

func (s *Sniffer) printFrame(key streamKey, dir packets.Direction, frame packets.Frame) error {
	s.frames++
	src, dst := key.network.Endpoints()
	srcPort, dstPort := key.transport.Endpoints()

	var err error
	switch {
	case frame.Kind == packets.ChatType && dir == packets.ServerToClient:
		_, err = fmt.Fprintf(s.out, "%s %s:%s -> %s:%s %s from %s %q\n",
			dir, src, srcPort, dst, dstPort, frame.Kind, frame.Source, frame.Payload)
	case frame.Kind == packets.ChatType:
		_, err = fmt.Fprintf(s.out, "%s %s:%s -> %s:%s %s %q\n",
			dir, src, srcPort, dst, dstPort, frame.Kind, frame.Payload)
	default:
		_, err = fmt.Fprintf(s.out, "%s %s:%s -> %s:%s %s\n",
			dir, src, srcPort, dst, dstPort, frame.Kind)
	}
	return err
}

// Flush writes out any frames buffered by HandlePacket.
func (s *Sniffer) Flush() error {
	s.init()
	return s.out.Flush()
}

// Frames returns the number of frames printed so far.
func (s *Sniffer) Frames() int { return s.frames }

// OpenFile reads packets from a pcap capture file. The returned closer
// releases the file once the packets have been consumed.
func OpenFile(path string) (*gopacket.PacketSource, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening capture file: %w", err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("error reading capture file %s: %w", path, err)
	}
	return gopacket.NewPacketSource(r, r.LinkType()), f, nil
}

// Filter is the BPF expression that limits a live capture to relay traffic.
func Filter(port uint16) string {
	return fmt.Sprintf("tcp and port %d", port)
}
