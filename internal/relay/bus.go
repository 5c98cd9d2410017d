package relay

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/peerpad/peerpad/internal/core"
)

const busSubjectPrefix = "relay.room."

// Bus mirrors room broadcasts between relay nodes. A single-node deployment
// runs with NoopBus.
type Bus interface {
	Publish(roomID core.RoomID, frame []byte) error
	Subscribe(handler func(roomID core.RoomID, frame []byte)) error
	Close() error
}

type NoopBus struct{}

func (NoopBus) Publish(core.RoomID, []byte) error                      { return nil }
func (NoopBus) Subscribe(func(roomID core.RoomID, frame []byte)) error { return nil }
func (NoopBus) Close() error                                           { return nil }

type busMessage struct {
	Node  string      `json:"node"`
	Room  core.RoomID `json:"room"`
	Frame []byte      `json:"frame"`
}

// NatsBus fans room broadcasts out to the other relay nodes via NATS
// subjects, one per room. Messages carry the origin node id; a node skips
// its own publications.
type NatsBus struct {
	nc     *nats.Conn
	nodeID string
	sub    *nats.Subscription
}

func NewNatsBus(url string) (*NatsBus, error) {
	nc, err := nats.Connect(url, nats.Name("peerpad-relay"))
	if err != nil {
		return nil, err
	}
	return &NatsBus{
		nc:     nc,
		nodeID: uuid.New().String(),
	}, nil
}

func (b *NatsBus) Publish(roomID core.RoomID, frame []byte) error {
	msg, err := json.Marshal(busMessage{
		Node:  b.nodeID,
		Room:  roomID,
		Frame: frame,
	})
	if err != nil {
		return err
	}
	return b.nc.Publish(busSubjectPrefix+roomID.String(), msg)
}

func (b *NatsBus) Subscribe(handler func(roomID core.RoomID, frame []byte)) error {
	sub, err := b.nc.Subscribe(busSubjectPrefix+">", func(m *nats.Msg) {
		var msg busMessage
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			log.Error().Err(err).Str("service", "relay-bus").Msg("malformed bus message")
			return
		}
		if msg.Node == b.nodeID {
			return
		}
		if msg.Room == "" {
			msg.Room = core.RoomID(strings.TrimPrefix(m.Subject, busSubjectPrefix))
		}
		handler(msg.Room, msg.Frame)
	})
	if err != nil {
		return err
	}
	b.sub = sub
	return nil
}

func (b *NatsBus) Close() error {
	if b.sub != nil {
		if err := b.sub.Unsubscribe(); err != nil {
			return err
		}
	}
	b.nc.Close()
	return nil
}
