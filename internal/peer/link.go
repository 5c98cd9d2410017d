package peer

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peerpad/peerpad/internal/core"
	"github.com/pion/webrtc/v3"
)

// Role is the negotiation role of a link. The member already present in the
// room when the remote side joined initiates; the newcomer responds.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

// LinkState is the lifecycle position of one peer link.
type LinkState string

const (
	LinkNegotiatingOffer  LinkState = "negotiating-offer"
	LinkAwaitingAnswer    LinkState = "awaiting-answer"
	LinkNegotiatingAnswer LinkState = "negotiating-answer"
	LinkConnected         LinkState = "connected"
	LinkFailed            LinkState = "failed"
	LinkClosed            LinkState = "closed"
)

var (
	ErrUnexpectedAnswer = errors.New("answer does not match link state")
	ErrLinkTerminated   = errors.New("link already terminated")
)

// PeerLink is the one-to-one negotiated media session with a single remote
// participant. At most one link exists per remote connection id; a
// superseded link is torn down before its replacement is created.
type PeerLink struct {
	remote core.ConnectionID
	role   Role
	pc     *webrtc.PeerConnection

	mu    sync.Mutex
	state LinkState

	log zerolog.Logger
}

// newPeerLink creates the underlying peer connection and attaches every
// local track. Attachment happens here, before any negotiation, because the
// first offer/answer must already describe the local media.
func newPeerLink(
	api *webrtc.API,
	cfg webrtc.Configuration,
	remote core.ConnectionID,
	role Role,
	media *LocalMedia,
) (*PeerLink, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}

	for _, track := range media.Tracks() {
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return nil, err
		}
	}

	state := LinkNegotiatingOffer
	if role == RoleResponder {
		state = LinkNegotiatingAnswer
	}

	return &PeerLink{
		remote: remote,
		role:   role,
		pc:     pc,
		state:  state,
		log: log.With().
			Str("service", "peer").
			Str("remote", remote.String()).
			Str("role", string(role)).
			Logger(),
	}, nil
}

func (l *PeerLink) Remote() core.ConnectionID { return l.remote }
func (l *PeerLink) Role() Role                { return l.role }

func (l *PeerLink) State() LinkState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// CreateOffer produces the local description for the initiator path and
// moves the link to awaiting-answer.
func (l *PeerLink) CreateOffer() (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != LinkNegotiatingOffer {
		return webrtc.SessionDescription{}, ErrLinkTerminated
	}

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	l.state = LinkAwaitingAnswer
	return offer, nil
}

// CreateAnswer applies the remote offer and produces the local answer for
// the responder path. The link stays in negotiating-answer until the
// connection state reports it live.
func (l *PeerLink) CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != LinkNegotiatingAnswer {
		return webrtc.SessionDescription{}, ErrLinkTerminated
	}

	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	return answer, nil
}

// ApplyAnswer completes the initiator's negotiation. Answers arriving in
// any other state are a protocol race and rejected.
func (l *PeerLink) ApplyAnswer(answer webrtc.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != LinkAwaitingAnswer {
		return ErrUnexpectedAnswer
	}
	return l.pc.SetRemoteDescription(answer)
}

// AddICECandidate feeds one remote candidate into the link.
func (l *PeerLink) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == LinkClosed || l.state == LinkFailed {
		return ErrLinkTerminated
	}
	return l.pc.AddICECandidate(candidate)
}

// Close tears the link down. Idempotent.
func (l *PeerLink) Close() {
	l.mu.Lock()
	if l.state == LinkClosed {
		l.mu.Unlock()
		return
	}
	l.state = LinkClosed
	l.mu.Unlock()

	if err := l.pc.Close(); err != nil {
		l.log.Debug().Err(err).Msg("close peer connection")
	}
}

func (l *PeerLink) markConnected() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == LinkAwaitingAnswer || l.state == LinkNegotiatingAnswer {
		l.state = LinkConnected
	}
}

func (l *PeerLink) markFailed() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != LinkClosed {
		l.state = LinkFailed
	}
}
