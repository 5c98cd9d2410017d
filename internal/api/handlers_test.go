package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerpad/peerpad/internal/core"
	"github.com/peerpad/peerpad/internal/judge"
	"github.com/peerpad/peerpad/internal/relay"
	"github.com/peerpad/peerpad/internal/rooms"
)

type fakeRoomsStorage struct {
	saved        []*rooms.Room
	room         *rooms.Room
	participants []*rooms.RoomParticipant
	added        []*rooms.RoomParticipant
	removed      []core.UserID
	roles        map[core.UserID]rooms.ParticipantRole
	findErr      error
}

func (s *fakeRoomsStorage) Save(room *rooms.Room) error {
	room.ID = int64(len(s.saved) + 1)
	s.saved = append(s.saved, room)
	return nil
}

func (s *fakeRoomsStorage) FindByRoomID(core.RoomID) (*rooms.Room, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	return s.room, nil
}

func (s *fakeRoomsStorage) AddParticipant(roomID core.RoomID, userID core.UserID, role rooms.ParticipantRole) error {
	s.added = append(s.added, &rooms.RoomParticipant{RoomID: roomID, UserID: userID, Role: role})
	return nil
}

func (s *fakeRoomsStorage) RemoveParticipant(_ core.RoomID, userID core.UserID) error {
	s.removed = append(s.removed, userID)
	return nil
}

func (s *fakeRoomsStorage) SetRole(_ core.RoomID, userID core.UserID, role rooms.ParticipantRole) error {
	if s.roles == nil {
		s.roles = make(map[core.UserID]rooms.ParticipantRole)
	}
	s.roles[userID] = role
	return nil
}

func (s *fakeRoomsStorage) Participants(core.RoomID) ([]*rooms.RoomParticipant, error) {
	return s.participants, nil
}

type fakeLiveState struct {
	snapshot *rooms.LiveSnapshot
	cleared  []core.RoomID
}

func (s *fakeLiveState) SetCode(context.Context, core.RoomID, string) error     { return nil }
func (s *fakeLiveState) SetInput(context.Context, core.RoomID, string) error    { return nil }
func (s *fakeLiveState) SetOutput(context.Context, core.RoomID, string) error   { return nil }
func (s *fakeLiveState) SetLanguage(context.Context, core.RoomID, string) error { return nil }

func (s *fakeLiveState) Snapshot(context.Context, core.RoomID) (*rooms.LiveSnapshot, error) {
	return s.snapshot, nil
}

func (s *fakeLiveState) Clear(_ context.Context, roomID core.RoomID) error {
	s.cleared = append(s.cleared, roomID)
	return nil
}

type fakeHistoryStorage struct {
	limits         []int
	snapshots      []*rooms.CodeSnapshot
	snapshotsSaved []string
}

func (s *fakeHistoryStorage) Save(_ core.RoomID, code string) error {
	s.snapshotsSaved = append(s.snapshotsSaved, code)
	return nil
}

func (s *fakeHistoryStorage) Latest(_ core.RoomID, limit int) ([]*rooms.CodeSnapshot, error) {
	s.limits = append(s.limits, limit)
	return s.snapshots, nil
}

func newTestApp(roomsStorage *fakeRoomsStorage, history *fakeHistoryStorage, judgeClient *judge.Client) http.Handler {
	return newTestAppWithState(roomsStorage, history, judgeClient, nil)
}

func newTestAppWithState(roomsStorage *fakeRoomsStorage, history *fakeHistoryStorage, judgeClient *judge.Client, state *fakeLiveState) http.Handler {
	rel := relay.New(nil)
	options := AppOptions{
		Env:            core.DevelopmentEnv,
		Relay:          rel,
		Coordinator:    relay.NewCoordinator(rel, nil),
		RoomsStorage:   roomsStorage,
		HistoryStorage: history,
		Judge:          judgeClient,
		SessionSecret:  "test-secret",
	}
	if state != nil {
		options.LiveState = state
	}
	return NewApp(options).initRouter()
}

func doRequest(handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	return doRequestWithCookies(handler, method, path, body, nil)
}

func doRequestWithCookies(handler http.Handler, method, path string, body interface{}, cookies []*http.Cookie) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateRoom(t *testing.T) {
	storage := &fakeRoomsStorage{}
	app := newTestApp(storage, &fakeHistoryStorage{}, nil)

	rec := doRequest(app, http.MethodPost, "/api/v1/rooms", map[string]interface{}{
		"name":            "pairing",
		"maxParticipants": 3,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, storage.saved, 1)
	assert.Equal(t, "pairing", storage.saved[0].Name)
	assert.Equal(t, 3, storage.saved[0].MaxParticipants)
	assert.NotEmpty(t, storage.saved[0].CreatedBy)

	created := &rooms.Room{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), created))
	assert.NotEmpty(t, created.RoomID)
}

func TestCreateRoomRejectsBadBody(t *testing.T) {
	app := newTestApp(&fakeRoomsStorage{}, &fakeHistoryStorage{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/rooms", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRoomReturnsParticipants(t *testing.T) {
	storage := &fakeRoomsStorage{
		room: &rooms.Room{ID: 1, RoomID: "r1", Name: "pairing", CreatedBy: "host-user"},
		participants: []*rooms.RoomParticipant{
			{RoomID: "r1", UserID: "host-user", Role: rooms.RoleHost, JoinedAt: time.Now()},
		},
	}
	app := newTestApp(storage, &fakeHistoryStorage{}, nil)

	rec := doRequest(app, http.MethodGet, "/api/v1/rooms/r1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"participants"`)
	assert.Contains(t, rec.Body.String(), `"host-user"`)
}

func TestRoomNotFound(t *testing.T) {
	storage := &fakeRoomsStorage{findErr: errors.New("no rows")}
	app := newTestApp(storage, &fakeHistoryStorage{}, nil)

	rec := doRequest(app, http.MethodGet, "/api/v1/rooms/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoomStateServesSnapshot(t *testing.T) {
	state := &fakeLiveState{
		snapshot: &rooms.LiveSnapshot{Code: "x = 1", Language: "python"},
	}
	app := newTestAppWithState(&fakeRoomsStorage{}, &fakeHistoryStorage{}, nil, state)

	rec := doRequest(app, http.MethodGet, "/api/v1/rooms/r1/state", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	snapshot := &rooms.LiveSnapshot{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), snapshot))
	assert.Equal(t, "x = 1", snapshot.Code)
	assert.Equal(t, "python", snapshot.Language)
}

func TestRoomHistoryLimit(t *testing.T) {
	history := &fakeHistoryStorage{
		snapshots: []*rooms.CodeSnapshot{{RoomID: "r1", Code: "x = 1"}},
	}
	app := newTestApp(&fakeRoomsStorage{}, history, nil)

	rec := doRequest(app, http.MethodGet, "/api/v1/rooms/r1/history?limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int{5}, history.limits)

	rec = doRequest(app, http.MethodGet, "/api/v1/rooms/r1/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJoinRoomAddsViewer(t *testing.T) {
	storage := &fakeRoomsStorage{
		room: &rooms.Room{ID: 1, RoomID: "r1", CreatedBy: "host-user", MaxParticipants: 4},
		participants: []*rooms.RoomParticipant{
			{RoomID: "r1", UserID: "host-user", Role: rooms.RoleHost},
		},
	}
	app := newTestApp(storage, &fakeHistoryStorage{}, nil)

	rec := doRequest(app, http.MethodPost, "/api/v1/rooms/r1/join", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, storage.added, 1)
	assert.Equal(t, rooms.RoleViewer, storage.added[0].Role)
	assert.NotEmpty(t, storage.added[0].UserID)
}

func TestJoinRoomIsIdempotentForMembers(t *testing.T) {
	storage := &fakeRoomsStorage{
		room: &rooms.Room{ID: 1, RoomID: "r1", CreatedBy: "host-user", MaxParticipants: 2},
	}
	app := newTestApp(storage, &fakeHistoryStorage{}, nil)

	// Learn the minted identity, then pretend it is already an editor.
	rec := doRequest(app, http.MethodPost, "/api/v1/rooms/r1/join", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, storage.added, 1)

	storage.participants = []*rooms.RoomParticipant{
		{RoomID: "r1", UserID: storage.added[0].UserID, Role: rooms.RoleEditor},
	}

	rec = doRequestWithCookies(app, http.MethodPost, "/api/v1/rooms/r1/join", nil, rec.Result().Cookies())
	require.Equal(t, http.StatusOK, rec.Code)
	// Rejoining must not upsert the role back down.
	assert.Len(t, storage.added, 1)
	assert.Contains(t, rec.Body.String(), `"editor"`)
}

func TestJoinRoomFull(t *testing.T) {
	storage := &fakeRoomsStorage{
		room: &rooms.Room{ID: 1, RoomID: "r1", CreatedBy: "host-user", MaxParticipants: 2},
		participants: []*rooms.RoomParticipant{
			{RoomID: "r1", UserID: "host-user", Role: rooms.RoleHost},
			{RoomID: "r1", UserID: "user-2", Role: rooms.RoleViewer},
		},
	}
	app := newTestApp(storage, &fakeHistoryStorage{}, nil)

	rec := doRequest(app, http.MethodPost, "/api/v1/rooms/r1/join", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, storage.added)
}

func TestLeaveRoomClearsEmptyRoom(t *testing.T) {
	storage := &fakeRoomsStorage{
		room: &rooms.Room{ID: 1, RoomID: "r1", CreatedBy: "host-user"},
	}
	state := &fakeLiveState{}
	app := newTestAppWithState(storage, &fakeHistoryStorage{}, nil, state)

	rec := doRequest(app, http.MethodPost, "/api/v1/rooms/r1/leave", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, storage.removed, 1)
	assert.Equal(t, []core.RoomID{"r1"}, state.cleared)
}

func TestLeaveRoomKeepsStateWhileOccupied(t *testing.T) {
	storage := &fakeRoomsStorage{
		room: &rooms.Room{ID: 1, RoomID: "r1", CreatedBy: "host-user"},
		participants: []*rooms.RoomParticipant{
			{RoomID: "r1", UserID: "host-user", Role: rooms.RoleHost},
		},
	}
	state := &fakeLiveState{}
	app := newTestAppWithState(storage, &fakeHistoryStorage{}, nil, state)

	rec := doRequest(app, http.MethodPost, "/api/v1/rooms/r1/leave", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, state.cleared)
}

func TestSetRoleRequiresHost(t *testing.T) {
	storage := &fakeRoomsStorage{
		room: &rooms.Room{ID: 1, RoomID: "r1", CreatedBy: "someone-else"},
	}
	app := newTestApp(storage, &fakeHistoryStorage{}, nil)

	rec := doRequest(app, http.MethodPost, "/api/v1/rooms/r1/role", map[string]string{
		"userId": "user-2",
		"role":   "editor",
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, storage.roles)
}

func TestHostGrantsWriteAccess(t *testing.T) {
	storage := &fakeRoomsStorage{}
	app := newTestApp(storage, &fakeHistoryStorage{}, nil)

	created := doRequest(app, http.MethodPost, "/api/v1/rooms", map[string]interface{}{
		"name": "pairing",
	})
	require.Equal(t, http.StatusOK, created.Code)
	require.Len(t, storage.saved, 1)
	storage.room = &rooms.Room{ID: 1, RoomID: "r1", CreatedBy: storage.saved[0].CreatedBy}

	rec := doRequestWithCookies(app, http.MethodPost, "/api/v1/rooms/r1/role", map[string]string{
		"userId": "user-2",
		"role":   "editor",
	}, created.Result().Cookies())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, rooms.RoleEditor, storage.roles["user-2"])

	rec = doRequestWithCookies(app, http.MethodPost, "/api/v1/rooms/r1/role", map[string]string{
		"userId": "user-2",
		"role":   "viewer",
	}, created.Result().Cookies())

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, rooms.RoleViewer, storage.roles["user-2"])
}

func TestSetRoleRejectsUnknownRole(t *testing.T) {
	storage := &fakeRoomsStorage{}
	app := newTestApp(storage, &fakeHistoryStorage{}, nil)

	created := doRequest(app, http.MethodPost, "/api/v1/rooms", map[string]interface{}{
		"name": "pairing",
	})
	require.Equal(t, http.StatusOK, created.Code)
	storage.room = &rooms.Room{ID: 1, RoomID: "r1", CreatedBy: storage.saved[0].CreatedBy}

	rec := doRequestWithCookies(app, http.MethodPost, "/api/v1/rooms/r1/role", map[string]string{
		"userId": "user-2",
		"role":   "host",
	}, created.Result().Cookies())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, storage.roles)
}

func TestSaveHistorySnapshot(t *testing.T) {
	history := &fakeHistoryStorage{}
	app := newTestApp(&fakeRoomsStorage{}, history, nil)

	rec := doRequest(app, http.MethodPost, "/api/v1/rooms/r1/history", map[string]string{
		"code": "x = 1",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, history.snapshotsSaved, 1)
	assert.Equal(t, "x = 1", history.snapshotsSaved[0])
}

func TestKickRequiresRoomOwnership(t *testing.T) {
	storage := &fakeRoomsStorage{
		room: &rooms.Room{ID: 1, RoomID: "r1", CreatedBy: "someone-else"},
	}
	app := newTestApp(storage, &fakeHistoryStorage{}, nil)

	rec := doRequest(app, http.MethodPost, "/api/v1/rooms/r1/kick", map[string]string{
		"userId": "victim",
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, storage.removed)
}

func TestExecuteProxiesJudgeVerdict(t *testing.T) {
	judgeServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(judge.Result{Stdout: "42\n"})
	}))
	defer judgeServer.Close()

	app := newTestApp(&fakeRoomsStorage{}, &fakeHistoryStorage{}, judge.NewClient(judgeServer.URL, "", ""))

	rec := doRequest(app, http.MethodPost, "/api/v1/execute", judge.Request{
		LanguageID: 71,
		SourceCode: "print(42)",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	result := &judge.Result{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), result))
	assert.Equal(t, "42\n", result.Stdout)
}
