package peer

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peerpad/peerpad/internal/core"
	"github.com/peerpad/peerpad/internal/signal"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
)

const pliInterval = 3 * time.Second

var (
	ErrMediaNotReady = errors.New("local media is not ready")
	ErrNotConnected  = errors.New("session has no connection id yet")
	ErrSessionClosed = errors.New("session closed")
)

// Signaler is the outbound half of the relay connection a session talks
// through. The relay client implements it.
type Signaler interface {
	Emit(event signal.Event, payload interface{}) error
}

// RemotePeer is the per-participant view state a session maintains: display
// identity, remote mute flags mirrored from toggle events, and the remote
// stream binding once tracks arrive.
type RemotePeer struct {
	SocketID   core.ConnectionID
	Name       string
	Avatar     string
	AudioMuted bool
	VideoMuted bool
	StreamID   string
}

// Session owns one side of a mesh call: the single local media capture, one
// peer link per remote participant and the choreography between them. It is
// driven by relay events and emits signaling back through the Signaler.
type Session struct {
	api      *webrtc.API
	cfg      webrtc.Configuration
	sig      Signaler
	media    *LocalMedia
	identity core.Participant

	mu     sync.Mutex
	self   core.ConnectionID
	roomID core.RoomID
	closed bool
	links  map[core.ConnectionID]*PeerLink
	peers  map[core.ConnectionID]*RemotePeer

	log zerolog.Logger
}

// NewSession builds a session around an already-acquired local capture.
// Capture failure is the caller's problem: without media there is no video
// session, only the sync channel.
func NewSession(sig Signaler, media *LocalMedia, identity core.Participant, stunServers []string) (*Session, error) {
	if media == nil {
		return nil, ErrMediaNotReady
	}
	api, err := NewAPI()
	if err != nil {
		return nil, err
	}

	return &Session{
		api:      api,
		cfg:      Configuration(stunServers),
		sig:      sig,
		media:    media,
		identity: identity,
		links:    make(map[core.ConnectionID]*PeerLink),
		peers:    make(map[core.ConnectionID]*RemotePeer),
		log:      log.With().Str("service", "peer-session").Logger(),
	}, nil
}

// SetSelf records the connection id the relay assigned. Targeted events
// (offer/answer/candidate) carry it in their from field.
func (s *Session) SetSelf(id core.ConnectionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.self = id
}

// JoinRoom announces this session on the media channel. The local capture
// is a hard precondition: tracks must exist before the first negotiation,
// so the announcement is deferred until capture succeeded.
func (s *Session) JoinRoom(roomID core.RoomID) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.self == "" {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.roomID = roomID
	s.mu.Unlock()

	return s.sig.Emit(signal.JoinVideoRoomEvent, signal.JoinVideoRoom{
		RoomID: roomID,
		UserID: s.identity.UserID,
		Name:   s.identity.Name,
		Avatar: s.identity.Avatar,
	})
}

// HandleUserJoined reacts to a newcomer: this side was already present, so
// it takes the initiator role, builds the link and sends the offer.
func (s *Session) HandleUserJoined(p signal.UserJoined) {
	link, err := s.createOrReplace(p.SocketID, RoleInitiator, p.Name, p.Avatar)
	if err != nil {
		s.log.Error().Err(err).Str("remote", p.SocketID.String()).Msg("can't create initiator link")
		return
	}

	offer, err := link.CreateOffer()
	if err != nil {
		s.log.Error().Err(err).Str("remote", p.SocketID.String()).Msg("can't create offer")
		s.dropLink(p.SocketID)
		return
	}

	if err := s.sig.Emit(signal.OfferEvent, signal.Offer{
		RoomID: s.currentRoom(),
		Offer:  offer,
		From:   s.selfID(),
		To:     p.SocketID,
		Name:   s.identity.Name,
		Avatar: s.identity.Avatar,
	}); err != nil {
		s.log.Error().Err(err).Str("remote", p.SocketID.String()).Msg("can't send offer")
	}
}

// HandleOffer reacts to an offer from a side not yet tracked: this side
// becomes the responder, builds the link and answers.
func (s *Session) HandleOffer(p signal.Offer) {
	link, err := s.createOrReplace(p.From, RoleResponder, p.Name, p.Avatar)
	if err != nil {
		s.log.Error().Err(err).Str("remote", p.From.String()).Msg("can't create responder link")
		return
	}

	answer, err := link.CreateAnswer(p.Offer)
	if err != nil {
		s.log.Error().Err(err).Str("remote", p.From.String()).Msg("can't answer offer")
		s.dropLink(p.From)
		return
	}

	if err := s.sig.Emit(signal.AnswerEvent, signal.Answer{
		RoomID: s.currentRoom(),
		Answer: answer,
		From:   s.selfID(),
		To:     p.From,
	}); err != nil {
		s.log.Error().Err(err).Str("remote", p.From.String()).Msg("can't send answer")
	}
}

// HandleAnswer completes an initiator negotiation. An answer for a link
// already torn down is a race, warned about and ignored.
func (s *Session) HandleAnswer(p signal.Answer) {
	link, ok := s.link(p.From)
	if !ok {
		s.log.Warn().Str("remote", p.From.String()).Msg("answer for unknown link")
		return
	}
	if err := link.ApplyAnswer(p.Answer); err != nil {
		s.log.Warn().Err(err).Str("remote", p.From.String()).Msg("can't apply answer")
	}
}

// HandleICECandidate feeds a remote candidate into its link. A candidate
// without a link is late or duplicate; ICE produces plenty more, so it is
// dropped.
func (s *Session) HandleICECandidate(p signal.ICECandidate) {
	link, ok := s.link(p.From)
	if !ok {
		s.log.Debug().Str("remote", p.From.String()).Msg("candidate without link dropped")
		return
	}
	if err := link.AddICECandidate(p.Candidate); err != nil {
		s.log.Debug().Err(err).Str("remote", p.From.String()).Msg("can't add candidate")
	}
}

// HandleUserLeft tears the remote's link down. Idempotent: duplicate and
// missing leave notifications are both tolerated.
func (s *Session) HandleUserLeft(p signal.UserLeft) {
	s.dropLink(p.SocketID)
}

// HandleToggledAudio mirrors the remote mute flag into view state. The
// underlying track is untouched; only the owning side mutes its media.
func (s *Session) HandleToggledAudio(p signal.UserToggledAudio) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if peer, ok := s.peers[p.SocketID]; ok {
		peer.AudioMuted = p.IsMuted
	}
}

// HandleToggledVideo mirrors the remote video mute flag into view state.
func (s *Session) HandleToggledVideo(p signal.UserToggledVideo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if peer, ok := s.peers[p.SocketID]; ok {
		peer.VideoMuted = p.IsVideoMuted
	}
}

// ToggleAudio flips the local audio flag and broadcasts the new value.
func (s *Session) ToggleAudio() error {
	muted := s.media.ToggleAudio()
	return s.sig.Emit(signal.ToggleAudioEvent, signal.ToggleAudio{
		RoomID:  s.currentRoom(),
		IsMuted: muted,
	})
}

// ToggleVideo flips the local video flag and broadcasts the new value.
func (s *Session) ToggleVideo() error {
	muted := s.media.ToggleVideo()
	return s.sig.Emit(signal.ToggleVideoEvent, signal.ToggleVideo{
		RoomID:       s.currentRoom(),
		IsVideoMuted: muted,
	})
}

// Peers returns a snapshot of the current remote participants.
func (s *Session) Peers() []RemotePeer {
	s.mu.Lock()
	defer s.mu.Unlock()

	peers := make([]RemotePeer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, *p)
	}
	return peers
}

// LinkState reports the state of the link with the given remote, if any.
func (s *Session) LinkState(remote core.ConnectionID) (LinkState, bool) {
	link, ok := s.link(remote)
	if !ok {
		return "", false
	}
	return link.State(), true
}

// Close ends the session: every link closed, every local track stopped
// exactly once, all maps cleared.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	links := make([]*PeerLink, 0, len(s.links))
	for _, link := range s.links {
		links = append(links, link)
	}
	s.links = make(map[core.ConnectionID]*PeerLink)
	s.peers = make(map[core.ConnectionID]*RemotePeer)
	s.mu.Unlock()

	for _, link := range links {
		link.Close()
	}
	s.media.Stop()
}

// createOrReplace enforces the single-link invariant: a stale link for the
// same remote is torn down before the replacement is built.
func (s *Session) createOrReplace(remote core.ConnectionID, role Role, name, avatar string) (*PeerLink, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	stale := s.links[remote]
	delete(s.links, remote)
	s.mu.Unlock()

	if stale != nil {
		s.log.Debug().Str("remote", remote.String()).Msg("superseding existing link")
		stale.Close()
	}

	link, err := newPeerLink(s.api, s.cfg, remote, role, s.media)
	if err != nil {
		return nil, err
	}
	s.wireLink(link)

	s.mu.Lock()
	// The session may have closed while the link was being built; inserting
	// now would leak a peer connection past teardown.
	if s.closed {
		s.mu.Unlock()
		link.Close()
		return nil, ErrSessionClosed
	}
	s.links[remote] = link
	s.peers[remote] = &RemotePeer{
		SocketID: remote,
		Name:     name,
		Avatar:   avatar,
	}
	s.mu.Unlock()

	return link, nil
}

func (s *Session) wireLink(link *PeerLink) {
	remote := link.Remote()

	// Locally gathered candidates are per pair: always addressed to the
	// remote whose connection produced them, never broadcast.
	link.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		if err := s.sig.Emit(signal.ICECandidateEvent, signal.ICECandidate{
			RoomID:    s.currentRoom(),
			Candidate: candidate.ToJSON(),
			From:      s.selfID(),
			To:        remote,
		}); err != nil {
			s.log.Debug().Err(err).Str("remote", remote.String()).Msg("can't send candidate")
		}
	})

	link.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.bindRemoteStream(remote, track.StreamID())
		go s.consumeTrack(link, track)
	})

	link.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			link.markConnected()
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			// The only self-healing: purge the dead link. No renegotiation,
			// no reconnect.
			link.markFailed()
			s.log.Info().Str("remote", remote.String()).Str("state", state.String()).Msg("link lost")
			s.dropLink(remote)
		}
	})
}

// consumeTrack drains inbound RTP and, for video, keeps requesting key
// frames so a late subscriber still gets a decodable stream.
func (s *Session) consumeTrack(link *PeerLink, track *webrtc.TrackRemote) {
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go func() {
			ticker := time.NewTicker(pliInterval)
			defer ticker.Stop()
			for range ticker.C {
				if link.State() == LinkClosed || link.State() == LinkFailed {
					return
				}
				if err := link.pc.WriteRTCP([]rtcp.Packet{
					&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
				}); err != nil {
					return
				}
			}
		}()
	}

	var last *rtp.Packet
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if last != nil && pkt.SequenceNumber != last.SequenceNumber+1 {
			s.log.Debug().
				Str("remote", link.Remote().String()).
				Uint16("expected", last.SequenceNumber+1).
				Uint16("got", pkt.SequenceNumber).
				Msg("rtp sequence gap")
		}
		last = pkt
	}
}

func (s *Session) bindRemoteStream(remote core.ConnectionID, streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if peer, ok := s.peers[remote]; ok {
		peer.StreamID = streamID
	}
}

func (s *Session) dropLink(remote core.ConnectionID) {
	s.mu.Lock()
	link := s.links[remote]
	delete(s.links, remote)
	delete(s.peers, remote)
	s.mu.Unlock()

	if link != nil {
		link.Close()
	}
}

func (s *Session) link(remote core.ConnectionID) (*PeerLink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[remote]
	return link, ok
}

func (s *Session) currentRoom() core.RoomID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) selfID() core.ConnectionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.self
}
