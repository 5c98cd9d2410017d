package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/peerpad/peerpad/internal/core"
	"github.com/peerpad/peerpad/internal/peer"
	"github.com/peerpad/peerpad/internal/signal"
)

const writeTimeout = 5 * time.Second

// Client is one relay connection: the write half implements peer.Signaler,
// the read loop dispatches inbound events to the attached peer session and
// editor. Both logical channels (document sync and media signaling) share
// this single connection.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	self    core.ConnectionID
	session *peer.Session
	editor  *Editor

	onRoomUpdated func()
	onKicked      func(core.UserID)

	welcome     chan struct{}
	welcomeOnce sync.Once

	log zerolog.Logger
}

// Dial connects to the relay websocket endpoint.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: 45 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	return &Client{
		conn:    conn,
		welcome: make(chan struct{}),
		log:     log.With().Str("service", "relay-client").Logger(),
	}, nil
}

// Emit sends one event frame. Implements peer.Signaler.
func (c *Client) Emit(event signal.Event, payload interface{}) error {
	frame, err := signal.Encode(event, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// AttachSession wires a peer session into the dispatch loop. The session
// learns its connection id as soon as the welcome frame arrived.
func (c *Client) AttachSession(s *peer.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
	if c.self != "" {
		s.SetSelf(c.self)
	}
}

// AttachEditor wires a co-edit state into the dispatch loop.
func (c *Client) AttachEditor(e *Editor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.editor = e
}

func (c *Client) OnRoomUpdated(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRoomUpdated = fn
}

func (c *Client) OnParticipantKicked(fn func(core.UserID)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onKicked = fn
}

// WaitConnected blocks until the relay assigned us a connection id.
func (c *Client) WaitConnected(ctx context.Context) error {
	select {
	case <-c.welcome:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SelfID returns the relay-assigned connection id, empty before welcome.
func (c *Client) SelfID() core.ConnectionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

// JoinRoom joins the document collaboration channel of a room.
func (c *Client) JoinRoom(roomID core.RoomID) error {
	return c.Emit(signal.JoinRoomEvent, signal.JoinRoom{RoomID: roomID})
}

// Run reads frames until the connection drops or the context is done.
func (c *Client) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.dispatch(data)
	}
}

// Close tears down the transport and the attached session.
func (c *Client) Close() error {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()

	if session != nil {
		session.Close()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

func (c *Client) dispatch(data []byte) {
	env := &signal.Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		c.log.Warn().Err(err).Msg("malformed frame from relay")
		return
	}

	c.mu.Lock()
	session := c.session
	editor := c.editor
	onRoomUpdated := c.onRoomUpdated
	onKicked := c.onKicked
	c.mu.Unlock()

	switch env.Event {
	case signal.ConnectedEvent:
		var p signal.Connected
		if !c.decode(env, &p) {
			return
		}
		c.mu.Lock()
		c.self = p.SocketID
		c.mu.Unlock()
		if session != nil {
			session.SetSelf(p.SocketID)
		}
		c.welcomeOnce.Do(func() { close(c.welcome) })

	case signal.RoomUpdatedEvent:
		if onRoomUpdated != nil {
			onRoomUpdated()
		}

	case signal.CodeUpdateEvent:
		var code string
		if !c.decode(env, &code) {
			return
		}
		if editor != nil {
			editor.ApplyCodeUpdate(code)
		}

	case signal.InputUpdateEvent:
		var input string
		if !c.decode(env, &input) {
			return
		}
		if editor != nil {
			editor.ApplyInputUpdate(input)
		}

	case signal.OutputUpdateEvent:
		var output string
		if !c.decode(env, &output) {
			return
		}
		if editor != nil {
			editor.ApplyOutputUpdate(output)
		}

	case signal.LanguageUpdateEvent:
		var language string
		if !c.decode(env, &language) {
			return
		}
		if editor != nil {
			editor.ApplyLanguageUpdate(language)
		}

	case signal.UserJoinedEvent:
		var p signal.UserJoined
		if c.decode(env, &p) && session != nil {
			session.HandleUserJoined(p)
		}

	case signal.OfferEvent:
		var p signal.Offer
		if c.decode(env, &p) && session != nil {
			session.HandleOffer(p)
		}

	case signal.AnswerEvent:
		var p signal.Answer
		if c.decode(env, &p) && session != nil {
			session.HandleAnswer(p)
		}

	case signal.ICECandidateEvent:
		var p signal.ICECandidate
		if c.decode(env, &p) && session != nil {
			session.HandleICECandidate(p)
		}

	case signal.UserLeftEvent:
		var p signal.UserLeft
		if c.decode(env, &p) && session != nil {
			session.HandleUserLeft(p)
		}

	case signal.UserToggledAudioEvent:
		var p signal.UserToggledAudio
		if c.decode(env, &p) && session != nil {
			session.HandleToggledAudio(p)
		}

	case signal.UserToggledVideoEvent:
		var p signal.UserToggledVideo
		if c.decode(env, &p) && session != nil {
			session.HandleToggledVideo(p)
		}

	case signal.ParticipantKickedEvent:
		var p signal.ParticipantKicked
		if c.decode(env, &p) && onKicked != nil {
			onKicked(p.UserID)
		}

	default:
		c.log.Debug().Str("event", string(env.Event)).Msg("unhandled event")
	}
}

func (c *Client) decode(env *signal.Envelope, v interface{}) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		c.log.Warn().Err(err).Str("event", string(env.Event)).Msg("bad payload from relay")
		return false
	}
	return true
}
