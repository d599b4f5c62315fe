package client

import (
	"encoding/json"
	"math/rand"
	"time"

	"github.com/aryan-ct/memedin/pkg/signal"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// maxBuffered skips frames while the data channel is this far behind
const maxBuffered = 1 << 20

// FrameSource returns the current camera frame channel, or nil while no
// camera is open
type FrameSource func() <-chan []byte

// PreviewPublisher answers preview offers and streams camera frames to the
// viewer over the "preview" data channel
type PreviewPublisher struct {
	client *Client
	source FrameSource
	peers  *peerSet
}

// NewPreviewPublisher registers the publisher's signaling handlers on c
func NewPreviewPublisher(c *Client, source FrameSource) *PreviewPublisher {
	p := &PreviewPublisher{client: c, source: source, peers: newPeerSet()}
	c.OnMessage(signal.TypeOffer, p.handleOffer)
	c.OnMessage(signal.TypeICECandidate, func(msg signal.Message) {
		if pr := p.peers.get(msg.From); pr != nil {
			if err := pr.addCandidate(msg.Payload); err != nil {
				log.Warn().Err(err).Str("peer", msg.From).Msg("Dropping ICE candidate")
			}
		}
	})
	c.OnMessage(signal.TypeStreamEnded, func(msg signal.Message) {
		p.peers.remove(msg.From)
	})
	return p
}

func (p *PreviewPublisher) handleOffer(msg signal.Message) {
	if err := p.answer(msg); err != nil {
		log.Error().Err(err).Str("peer", msg.From).Msg("Failed to answer preview offer")
		p.peers.remove(msg.From)
	}
}

func (p *PreviewPublisher) answer(msg signal.Message) error {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(msg.Payload, &offer); err != nil {
		return errors.Wrap(err, "invalid offer")
	}

	pr, err := newPeer(p.client, msg.From)
	if err != nil {
		return err
	}
	p.peers.put(pr)

	pr.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != PreviewChannel {
			return
		}
		done := make(chan struct{})
		dc.OnClose(func() { close(done) })
		dc.OnOpen(func() {
			log.Info().Str("peer", msg.From).Msg("Preview channel open")
			go p.stream(dc, done)
		})
	})

	if err := pr.setRemote(offer); err != nil {
		return err
	}

	answer, err := pr.pc.CreateAnswer(nil)
	if err != nil {
		return errors.Wrap(err, "failed to create answer")
	}
	if err := pr.pc.SetLocalDescription(answer); err != nil {
		return errors.Wrap(err, "failed to set local description")
	}

	return p.client.Signal(msg.From, signal.TypeAnswer, answer)
}

// stream sends frames until the channel closes
func (p *PreviewPublisher) stream(dc *webrtc.DataChannel, done <-chan struct{}) {
	packetizer := NewPacketizer(rand.Uint32())

	for {
		frames := p.source()
		if frames == nil {
			select {
			case <-done:
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}

		select {
		case <-done:
			return
		case frame, ok := <-frames:
			if !ok {
				// camera closed; wait for the next one
				select {
				case <-done:
					return
				case <-time.After(200 * time.Millisecond):
				}
				continue
			}
			if dc.BufferedAmount() > maxBuffered {
				continue
			}
			for _, pkt := range packetizer.Packetize(frame) {
				data, err := pkt.Marshal()
				if err != nil {
					log.Warn().Err(err).Msg("Failed to marshal preview packet")
					break
				}
				if err := dc.Send(data); err != nil {
					log.Debug().Err(err).Msg("Preview send failed")
					return
				}
			}
		}
	}
}

// Close tears down every preview connection
func (p *PreviewPublisher) Close() {
	p.peers.closeAll()
}

// FrameHandler receives reassembled JPEG frames from a remote endpoint
type FrameHandler func(remoteID string, frame []byte)

// PreviewViewer opens previews of remote endpoints and reassembles their frames
type PreviewViewer struct {
	client  *Client
	onFrame FrameHandler
	peers   *peerSet
}

// NewPreviewViewer registers the viewer's signaling handlers on c
func NewPreviewViewer(c *Client, onFrame FrameHandler) *PreviewViewer {
	v := &PreviewViewer{client: c, onFrame: onFrame, peers: newPeerSet()}
	c.OnMessage(signal.TypeAnswer, func(msg signal.Message) {
		pr := v.peers.get(msg.From)
		if pr == nil {
			return
		}
		var answer webrtc.SessionDescription
		if err := json.Unmarshal(msg.Payload, &answer); err != nil {
			log.Warn().Err(err).Str("peer", msg.From).Msg("Invalid preview answer")
			return
		}
		if err := pr.setRemote(answer); err != nil {
			log.Error().Err(err).Str("peer", msg.From).Msg("Failed to apply preview answer")
		}
	})
	c.OnMessage(signal.TypeICECandidate, func(msg signal.Message) {
		if pr := v.peers.get(msg.From); pr != nil {
			if err := pr.addCandidate(msg.Payload); err != nil {
				log.Warn().Err(err).Str("peer", msg.From).Msg("Dropping ICE candidate")
			}
		}
	})
	c.OnMessage(signal.TypeStreamEnded, func(msg signal.Message) {
		v.peers.remove(msg.From)
	})
	return v
}

// Open offers a preview connection to remoteID
func (v *PreviewViewer) Open(remoteID string) error {
	pr, err := newPeer(v.client, remoteID)
	if err != nil {
		return err
	}

	dc, err := pr.pc.CreateDataChannel(PreviewChannel, nil)
	if err != nil {
		pr.close()
		return errors.Wrap(err, "failed to create data channel")
	}

	reassembler := &Reassembler{}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		var pkt rtp.Packet
		if err := pkt.Unmarshal(msg.Data); err != nil {
			log.Debug().Err(err).Str("peer", remoteID).Msg("Dropping malformed preview packet")
			return
		}
		if frame, ok := reassembler.Push(&pkt); ok && v.onFrame != nil {
			v.onFrame(remoteID, frame)
		}
	})

	v.peers.put(pr)

	offer, err := pr.pc.CreateOffer(nil)
	if err != nil {
		v.peers.remove(remoteID)
		return errors.Wrap(err, "failed to create offer")
	}
	if err := pr.pc.SetLocalDescription(offer); err != nil {
		v.peers.remove(remoteID)
		return errors.Wrap(err, "failed to set local description")
	}

	return v.client.Signal(remoteID, signal.TypeOffer, offer)
}

// CloseFor tears down the preview of remoteID
func (v *PreviewViewer) CloseFor(remoteID string) {
	v.peers.remove(remoteID)
}

// Close tears down every preview connection
func (v *PreviewViewer) Close() {
	v.peers.closeAll()
}
