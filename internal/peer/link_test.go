package peer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pion/webrtc/v3"
)

func newTestLink(t *testing.T, role Role) *PeerLink {
	t.Helper()

	api, err := NewAPI()
	require.NoError(t, err)
	media, err := NewLocalMedia()
	require.NoError(t, err)

	link, err := newPeerLink(api, Configuration(nil), "remote-1", role, media)
	require.NoError(t, err)
	t.Cleanup(link.Close)

	return link
}

func TestInitiatorLifecycle(t *testing.T) {
	link := newTestLink(t, RoleInitiator)
	assert.Equal(t, LinkNegotiatingOffer, link.State())

	offer, err := link.CreateOffer()
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeOffer, offer.Type)
	assert.NotEmpty(t, offer.SDP)
	assert.Equal(t, LinkAwaitingAnswer, link.State())

	// A second offer on the same link would break the single-negotiation
	// model.
	_, err = link.CreateOffer()
	assert.ErrorIs(t, err, ErrLinkTerminated)
}

func TestResponderLifecycle(t *testing.T) {
	initiator := newTestLink(t, RoleInitiator)
	offer, err := initiator.CreateOffer()
	require.NoError(t, err)

	responder := newTestLink(t, RoleResponder)
	assert.Equal(t, LinkNegotiatingAnswer, responder.State())

	answer, err := responder.CreateAnswer(offer)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.NotEmpty(t, answer.SDP)

	require.NoError(t, initiator.ApplyAnswer(answer))
}

func TestApplyAnswerRequiresAwaitingState(t *testing.T) {
	link := newTestLink(t, RoleInitiator)

	err := link.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0"})
	assert.ErrorIs(t, err, ErrUnexpectedAnswer)
}

func TestOperationsOnClosedLink(t *testing.T) {
	link := newTestLink(t, RoleInitiator)
	link.Close()
	assert.Equal(t, LinkClosed, link.State())

	_, err := link.CreateOffer()
	assert.ErrorIs(t, err, ErrLinkTerminated)

	err = link.AddICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 4242 typ host"})
	assert.ErrorIs(t, err, ErrLinkTerminated)

	assert.NotPanics(t, link.Close)
	assert.Equal(t, LinkClosed, link.State())
}
