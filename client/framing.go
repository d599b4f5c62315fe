package client

import (
	"github.com/pion/rtp"
)

const (
	// maxChunk keeps each packet well under a typical data channel message limit
	maxChunk = 1200
	// jpegPayloadType is the static RTP payload type for JPEG
	jpegPayloadType = 26
)

// Packetizer splits JPEG frames into RTP packets. The marker bit flags the
// last chunk of a frame and the timestamp carries the frame number.
type Packetizer struct {
	ssrc    uint32
	seqNum  uint16
	frameID uint32
}

// NewPacketizer creates a packetizer for one outgoing stream
func NewPacketizer(ssrc uint32) *Packetizer {
	return &Packetizer{ssrc: ssrc}
}

// Packetize returns the packets for one frame, in send order
func (p *Packetizer) Packetize(frame []byte) []*rtp.Packet {
	p.frameID++
	packets := make([]*rtp.Packet, 0, len(frame)/maxChunk+1)

	for offset := 0; offset < len(frame); offset += maxChunk {
		end := offset + maxChunk
		if end > len(frame) {
			end = len(frame)
		}
		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         end == len(frame),
				PayloadType:    jpegPayloadType,
				SequenceNumber: p.seqNum,
				Timestamp:      p.frameID,
				SSRC:           p.ssrc,
			},
			Payload: frame[offset:end],
		})
		p.seqNum++
	}
	return packets
}

// Reassembler rebuilds frames from packets. A gap in sequence numbers
// discards the frame in progress; frames joined midway are never emitted.
type Reassembler struct {
	started bool
	broken  bool
	synced  bool
	lastEnd uint16
	frameID uint32
	nextSeq uint16
	buf     []byte
}

// Push adds a packet and returns a frame once its last chunk arrives
func (r *Reassembler) Push(pkt *rtp.Packet) ([]byte, bool) {
	seq := pkt.SequenceNumber

	if !r.started || pkt.Timestamp != r.frameID {
		r.started = true
		r.frameID = pkt.Timestamp
		r.buf = r.buf[:0]
		if r.synced {
			r.broken = seq != r.lastEnd+1
		} else {
			r.broken = seq != 0
		}
	} else if seq != r.nextSeq {
		r.broken = true
	}
	r.nextSeq = seq + 1

	if pkt.Marker {
		r.synced = true
		r.lastEnd = seq
		r.started = false
	}

	if r.broken {
		return nil, false
	}
	r.buf = append(r.buf, pkt.Payload...)

	if !pkt.Marker {
		return nil, false
	}
	frame := make([]byte, len(r.buf))
	copy(frame, r.buf)
	r.buf = r.buf[:0]
	return frame, true
}
