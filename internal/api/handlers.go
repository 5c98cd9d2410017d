package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/peerpad/peerpad/internal/core"
	"github.com/peerpad/peerpad/internal/judge"
	"github.com/peerpad/peerpad/internal/rooms"
	"github.com/peerpad/peerpad/internal/signal"
)

type createRoomRequest struct {
	Name            string `json:"name"`
	MaxParticipants int    `json:"maxParticipants"`
}

func (app *App) createRoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		participant, ok := participantFromRequest(r)
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		req := &createRoomRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			log.Warn().Err(err).Msg("bad create room request")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		room := rooms.NewRoom(req.Name, participant.UserID, req.MaxParticipants)
		if err := app.RoomsStorage.Save(room); err != nil {
			log.Error().Err(err).Msg("can't save room")
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}

		writeJSON(w, room)
	}
}

func (app *App) roomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := core.RoomID(chi.URLParam(r, "id"))

		room, err := app.RoomsStorage.FindByRoomID(roomID)
		if err != nil {
			log.Warn().Err(err).Str("room", roomID.String()).Msg("can't find room")
			w.WriteHeader(http.StatusNotFound)
			return
		}

		participants, err := app.RoomsStorage.Participants(roomID)
		if err != nil {
			log.Error().Err(err).Str("room", roomID.String()).Msg("can't list participants")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, struct {
			*rooms.Room
			Participants []*rooms.RoomParticipant `json:"participants"`
		}{room, participants})
	}
}

// joinRoomHandler adds the caller to the room's membership. Rejoining is a
// no-op that keeps the existing role; the creator always comes back as host.
func (app *App) joinRoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		participant, ok := participantFromRequest(r)
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		roomID := core.RoomID(chi.URLParam(r, "id"))

		room, err := app.RoomsStorage.FindByRoomID(roomID)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		participants, err := app.RoomsStorage.Participants(roomID)
		if err != nil {
			log.Error().Err(err).Str("room", roomID.String()).Msg("can't list participants")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		for _, p := range participants {
			if p.UserID == participant.UserID {
				writeJSON(w, p)
				return
			}
		}
		if len(participants) >= room.MaxParticipants {
			writeJSONStatus(w, http.StatusConflict, map[string]string{"error": "room is full"})
			return
		}

		role := rooms.RoleViewer
		if room.CreatedBy == participant.UserID {
			role = rooms.RoleHost
		}
		if err := app.RoomsStorage.AddParticipant(roomID, participant.UserID, role); err != nil {
			log.Error().Err(err).Str("room", roomID.String()).Msg("can't add participant")
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}

		app.Relay.BroadcastToRoom(roomID, signal.RoomUpdatedEvent, nil, "")
		writeJSON(w, &rooms.RoomParticipant{RoomID: roomID, UserID: participant.UserID, Role: role})
	}
}

// leaveRoomHandler drops the caller's membership. When the room empties the
// mirrored co-edit document is dropped with it.
func (app *App) leaveRoomHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		participant, ok := participantFromRequest(r)
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		roomID := core.RoomID(chi.URLParam(r, "id"))

		if err := app.RoomsStorage.RemoveParticipant(roomID, participant.UserID); err != nil {
			log.Error().Err(err).Str("room", roomID.String()).Msg("can't remove participant")
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}

		remaining, err := app.RoomsStorage.Participants(roomID)
		if err == nil && len(remaining) == 0 && app.LiveState != nil {
			if err := app.LiveState.Clear(r.Context(), roomID); err != nil {
				log.Error().Err(err).Str("room", roomID.String()).Msg("can't clear live state")
			}
		}

		app.Relay.BroadcastToRoom(roomID, signal.RoomUpdatedEvent, nil, "")
		w.WriteHeader(http.StatusOK)
	}
}

type setRoleRequest struct {
	UserID core.UserID           `json:"userId"`
	Role   rooms.ParticipantRole `json:"role"`
}

// setRoleHandler grants or revokes edit permission. Only the room creator
// may change roles, and only between editor and viewer; the relay keeps
// forwarding regardless, permission is enforced by clients from this state.
func (app *App) setRoleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		participant, ok := participantFromRequest(r)
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		roomID := core.RoomID(chi.URLParam(r, "id"))

		room, err := app.RoomsStorage.FindByRoomID(roomID)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if room.CreatedBy != participant.UserID {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		req := &setRoleRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Role != rooms.RoleEditor && req.Role != rooms.RoleViewer {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if err := app.RoomsStorage.SetRole(roomID, req.UserID, req.Role); err != nil {
			log.Error().Err(err).Str("room", roomID.String()).Msg("can't set role")
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}

		app.Relay.BroadcastToRoom(roomID, signal.RoomUpdatedEvent, nil, "")
		w.WriteHeader(http.StatusOK)
	}
}

type saveHistoryRequest struct {
	Code string `json:"code"`
}

func (app *App) saveHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := core.RoomID(chi.URLParam(r, "id"))

		req := &saveHistoryRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if err := app.HistoryStorage.Save(roomID, req.Code); err != nil {
			log.Error().Err(err).Str("room", roomID.String()).Msg("can't save snapshot")
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}

		w.WriteHeader(http.StatusCreated)
	}
}

// roomStateHandler serves the mirrored co-edit document, so a late joiner
// renders current code immediately instead of waiting for the next delta.
func (app *App) roomStateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := core.RoomID(chi.URLParam(r, "id"))

		snapshot, err := app.LiveState.Snapshot(r.Context(), roomID)
		if err != nil {
			log.Error().Err(err).Str("room", roomID.String()).Msg("can't read live state")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, snapshot)
	}
}

func (app *App) roomHistoryHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := core.RoomID(chi.URLParam(r, "id"))

		limit := 0
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		snapshots, err := app.HistoryStorage.Latest(roomID, limit)
		if err != nil {
			log.Error().Err(err).Str("room", roomID.String()).Msg("can't read history")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		writeJSON(w, snapshots)
	}
}

type kickRequest struct {
	UserID core.UserID `json:"userId"`
}

// kickParticipantHandler removes a member from the persistent room and
// tells every live connection about it. The kicked client leaves on its
// own; the relay does not force-close its socket.
func (app *App) kickParticipantHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		participant, ok := participantFromRequest(r)
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		roomID := core.RoomID(chi.URLParam(r, "id"))

		room, err := app.RoomsStorage.FindByRoomID(roomID)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if room.CreatedBy != participant.UserID {
			w.WriteHeader(http.StatusForbidden)
			return
		}

		req := &kickRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		if err := app.RoomsStorage.RemoveParticipant(roomID, req.UserID); err != nil {
			log.Error().Err(err).Str("room", roomID.String()).Msg("can't remove participant")
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}

		app.Relay.BroadcastToRoom(roomID, signal.ParticipantKickedEvent, signal.ParticipantKicked{
			UserID: req.UserID,
		}, "")

		w.WriteHeader(http.StatusOK)
	}
}

func (app *App) executeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &judge.Request{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		result, err := app.Judge.Execute(r.Context(), req)
		if err != nil {
			log.Error().Err(err).Msg("execution failed")
			writeJSONStatus(w, http.StatusInternalServerError, map[string]string{"error": "execution failed"})
			return
		}

		writeJSON(w, result)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("can't encode response")
	}
}
