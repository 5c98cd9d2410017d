package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"

	"github.com/peerpad/peerpad/internal/core"
)

type ctxKey string

const (
	participantContextKey ctxKey = "participant"

	identitySessionName = "peerpad_session"
)

// identityStore hands every HTTP caller a stable participant identity via a
// cookie session. This is identity carrying only; who may do what inside a
// room is decided by the room role, elsewhere.
type identityStore struct {
	store *sessions.CookieStore
}

func newIdentityStore(secret string) *identityStore {
	return &identityStore{
		store: sessions.NewCookieStore([]byte(secret)),
	}
}

// Middleware attaches the caller's Participant to the request context,
// minting a fresh user id on first contact.
func (m *identityStore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, _ := m.store.Get(r, identitySessionName)

		userID, ok := session.Values["uid"].(string)
		if !ok || userID == "" {
			userID = uuid.New().String()
			session.Values["uid"] = userID
			if err := session.Save(r, w); err != nil {
				log.Error().Err(err).Msg("can't save identity session")
			}
		}

		name, _ := session.Values["name"].(string)
		avatar, _ := session.Values["avatar"].(string)

		participant := core.Participant{
			UserID: core.UserID(userID),
			Name:   name,
			Avatar: avatar,
		}

		ctx := context.WithValue(r.Context(), participantContextKey, participant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func participantFromRequest(r *http.Request) (core.Participant, bool) {
	p, ok := r.Context().Value(participantContextKey).(core.Participant)
	return p, ok
}
