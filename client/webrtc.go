package client

import (
	"encoding/json"
	"sync"

	"github.com/aryan-ct/memedin/pkg/signal"
	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// PreviewChannel is the data channel label carrying camera frames
const PreviewChannel = "preview"

// newPeerConnection creates a peer connection using the relay's ICE servers
func newPeerConnection(iceServers []string) (*webrtc.PeerConnection, error) {
	config := webrtc.Configuration{}
	if len(iceServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, errors.Wrap(err, "failed to register codecs")
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine))
	pc, err := api.NewPeerConnection(config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create peer connection")
	}
	return pc, nil
}

// peer is one negotiated connection to a remote endpoint. Candidates that
// arrive before the remote description are held back until it is set.
type peer struct {
	remoteID string
	pc       *webrtc.PeerConnection

	mu        sync.Mutex
	remoteSet bool
	pending   []webrtc.ICECandidateInit
}

func newPeer(c *Client, remoteID string) (*peer, error) {
	pc, err := newPeerConnection(c.ICEServers())
	if err != nil {
		return nil, err
	}

	p := &peer{remoteID: remoteID, pc: pc}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if err := c.Signal(remoteID, signal.TypeICECandidate, candidate.ToJSON()); err != nil {
			log.Warn().Err(err).Str("peer", remoteID).Msg("Failed to send ICE candidate")
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Debug().Str("peer", remoteID).Str("state", state.String()).Msg("Preview connection state")
	})

	return p, nil
}

func (p *peer) setRemote(desc webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return errors.Wrap(err, "failed to set remote description")
	}

	p.mu.Lock()
	p.remoteSet = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, candidate := range pending {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			log.Warn().Err(err).Str("peer", p.remoteID).Msg("Failed to add ICE candidate")
		}
	}
	return nil
}

func (p *peer) addCandidate(raw json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return errors.Wrap(err, "invalid ICE candidate")
	}

	p.mu.Lock()
	if !p.remoteSet {
		p.pending = append(p.pending, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(candidate); err != nil {
		return errors.Wrap(err, "failed to add ICE candidate")
	}
	return nil
}

func (p *peer) close() {
	if err := p.pc.Close(); err != nil {
		log.Debug().Err(err).Str("peer", p.remoteID).Msg("Failed to close peer connection")
	}
}

// peerSet tracks peers by remote endpoint id
type peerSet struct {
	mu    sync.Mutex
	peers map[string]*peer
}

func newPeerSet() *peerSet {
	return &peerSet{peers: make(map[string]*peer)}
}

func (s *peerSet) get(remoteID string) *peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[remoteID]
}

// put stores p, closing any previous peer for the same remote
func (s *peerSet) put(p *peer) {
	s.mu.Lock()
	old := s.peers[p.remoteID]
	s.peers[p.remoteID] = p
	s.mu.Unlock()
	if old != nil {
		old.close()
	}
}

func (s *peerSet) remove(remoteID string) {
	s.mu.Lock()
	p := s.peers[remoteID]
	delete(s.peers, remoteID)
	s.mu.Unlock()
	if p != nil {
		p.close()
	}
}

func (s *peerSet) closeAll() {
	s.mu.Lock()
	peers := s.peers
	s.peers = make(map[string]*peer)
	s.mu.Unlock()
	for _, p := range peers {
		p.close()
	}
}
