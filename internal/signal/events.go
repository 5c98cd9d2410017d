package signal

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/peerpad/peerpad/internal/core"
	"github.com/pion/webrtc/v3"
)

// Event is the name tag of a relay message.
type Event string

// Outbound from clients.
const (
	JoinRoomEvent       Event = "join-room"
	CodeChangeEvent     Event = "code-change"
	InputChangeEvent    Event = "input-change"
	OutputChangeEvent   Event = "output-change"
	LanguageChangeEvent Event = "language-change"
	JoinVideoRoomEvent  Event = "join-video-room"
	OfferEvent          Event = "offer"
	AnswerEvent         Event = "answer"
	ICECandidateEvent   Event = "ice-candidate"
	ToggleAudioEvent    Event = "toggle-audio"
	ToggleVideoEvent    Event = "toggle-video"
)

// Inbound to clients.
const (
	ConnectedEvent         Event = "connected"
	RoomUpdatedEvent       Event = "room-updated"
	CodeUpdateEvent        Event = "code-update"
	InputUpdateEvent       Event = "input-update"
	OutputUpdateEvent      Event = "output-update"
	LanguageUpdateEvent    Event = "language-update"
	UserJoinedEvent        Event = "user-joined"
	UserLeftEvent          Event = "user-left"
	UserToggledAudioEvent  Event = "user-toggled-audio"
	UserToggledVideoEvent  Event = "user-toggled-video"
	ParticipantKickedEvent Event = "participant-kicked"
)

var ErrMalformedEnvelope = errors.New("malformed event envelope")

// Envelope is the frame every relay message travels in: an event name plus
// an opaque payload the relay never inspects.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds a wire frame for the given event and payload.
func Encode(event Event, payload interface{}) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if payload != nil {
		data, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// EnvelopeFromReader parses a wire frame. The payload stays raw; each
// handler decodes only the events it understands.
func EnvelopeFromReader(reader io.Reader) (*Envelope, error) {
	env := &Envelope{}
	if err := json.NewDecoder(reader).Decode(env); err != nil {
		return nil, err
	}
	if env.Event == "" {
		return nil, ErrMalformedEnvelope
	}
	return env, nil
}

// Connected is the welcome frame: it tells a client its own connection id,
// which it must stamp into the from field of targeted signaling events.
type Connected struct {
	SocketID core.ConnectionID `json:"socketId"`
}

type JoinRoom struct {
	RoomID core.RoomID `json:"roomId"`
}

type CodeChange struct {
	RoomID core.RoomID `json:"roomId"`
	Code   string      `json:"code"`
}

type InputChange struct {
	RoomID core.RoomID `json:"roomId"`
	Input  string      `json:"input"`
}

type OutputChange struct {
	RoomID core.RoomID `json:"roomId"`
	Output string      `json:"output"`
}

type LanguageChange struct {
	RoomID   core.RoomID `json:"roomId"`
	Language string      `json:"language"`
}

type JoinVideoRoom struct {
	RoomID core.RoomID `json:"roomId"`
	UserID core.UserID `json:"userId"`
	Name   string      `json:"name"`
	Avatar string      `json:"avatar,omitempty"`
}

// UserJoined is fanned out to the members already present when a newcomer
// announces itself; they become the offer initiators for their pair.
type UserJoined struct {
	SocketID core.ConnectionID `json:"socketId"`
	UserID   core.UserID       `json:"userId,omitempty"`
	Name     string            `json:"name"`
	Avatar   string            `json:"avatar,omitempty"`
}

type Offer struct {
	RoomID core.RoomID               `json:"roomId,omitempty"`
	Offer  webrtc.SessionDescription `json:"offer"`
	From   core.ConnectionID         `json:"from"`
	To     core.ConnectionID         `json:"to,omitempty"`
	Name   string                    `json:"name,omitempty"`
	Avatar string                    `json:"avatar,omitempty"`
}

type Answer struct {
	RoomID core.RoomID               `json:"roomId,omitempty"`
	Answer webrtc.SessionDescription `json:"answer"`
	From   core.ConnectionID         `json:"from"`
	To     core.ConnectionID         `json:"to,omitempty"`
}

type ICECandidate struct {
	RoomID    core.RoomID             `json:"roomId,omitempty"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
	From      core.ConnectionID       `json:"from"`
	To        core.ConnectionID       `json:"to,omitempty"`
}

type ToggleAudio struct {
	RoomID  core.RoomID `json:"roomId"`
	IsMuted bool        `json:"isMuted"`
}

type ToggleVideo struct {
	RoomID       core.RoomID `json:"roomId"`
	IsVideoMuted bool        `json:"isVideoMuted"`
}

type UserToggledAudio struct {
	SocketID core.ConnectionID `json:"socketId"`
	IsMuted  bool              `json:"isMuted"`
}

type UserToggledVideo struct {
	SocketID     core.ConnectionID `json:"socketId"`
	IsVideoMuted bool              `json:"isVideoMuted"`
}

type UserLeft struct {
	SocketID core.ConnectionID `json:"socketId"`
	Name     string            `json:"name,omitempty"`
}

type ParticipantKicked struct {
	UserID core.UserID `json:"userId"`
}
