package api

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"

	"github.com/peerpad/peerpad/internal/core"
	"github.com/peerpad/peerpad/internal/signal"
)

const wsConnIDSessionKey = "connId"

// initWebsocket glues melody sessions to the relay: every accepted socket
// becomes one relay connection, every inbound frame goes through the
// coordinator, and a dropped socket triggers the leave fan-out.
func (app *App) initWebsocket() {
	app.websocket.HandleConnect(func(s *melody.Session) {
		connID, err := connIDFromSession(s)
		if err != nil {
			log.Error().Err(err).Msg("websocket session without connection id")
			_ = s.Close()
			return
		}

		app.Relay.Connect(connID, s)
		// The client needs its own id to stamp into targeted signaling
		// events; the transport won't tell it.
		app.Relay.SendToConnection(connID, signal.ConnectedEvent, signal.Connected{SocketID: connID})
		log.Debug().Str("conn", connID.String()).Msg("connection opened")
	})

	app.websocket.HandleDisconnect(func(s *melody.Session) {
		connID, err := connIDFromSession(s)
		if err != nil {
			log.Error().Err(err).Msg("disconnect for session without connection id")
			return
		}
		app.Coordinator.HandleDisconnect(connID)
		log.Debug().Str("conn", connID.String()).Msg("connection closed")
	})

	app.websocket.HandleMessage(func(s *melody.Session, msg []byte) {
		connID, err := connIDFromSession(s)
		if err != nil {
			log.Error().Err(err).Msg("message from session without connection id")
			return
		}
		app.Coordinator.HandleMessage(connID, msg)
	})

	app.websocket.HandleError(func(s *melody.Session, err error) {
		log.Debug().Err(err).Msg("websocket session error")
	})
}

func (app *App) websocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessKeys := map[string]interface{}{
			wsConnIDSessionKey: core.ConnectionID(uuid.New().String()),
		}
		if err := app.websocket.HandleRequestWithKeys(w, r, sessKeys); err != nil {
			log.Error().Err(err).Msg("can't upgrade websocket request")
		}
	}
}

func connIDFromSession(s *melody.Session) (core.ConnectionID, error) {
	v, ok := s.Keys[wsConnIDSessionKey]
	if !ok {
		return "", fmt.Errorf("no connection id for session: %+v", s)
	}
	connID, ok := v.(core.ConnectionID)
	if !ok {
		return "", fmt.Errorf("can't convert connection id: %+v", v)
	}
	return connID, nil
}
