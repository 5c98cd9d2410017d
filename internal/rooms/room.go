package rooms

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/peerpad/peerpad/internal/core"
)

// ParticipantRole is the edit-permission role of a room member. It is the
// out-of-band source the UI consults before letting a member originate
// co-edit changes; the relay itself never checks it.
type ParticipantRole string

const (
	RoleHost   ParticipantRole = "host"
	RoleEditor ParticipantRole = "editor"
	RoleViewer ParticipantRole = "viewer"
)

// Room is the persistent side of a collaboration room. The relay's group of
// the same id is independent: it exists only while members are connected.
type Room struct {
	ID              int64       `json:"id,omitempty" db:"id"`
	RoomID          core.RoomID `json:"roomId" db:"room_id"`
	Name            string      `json:"name" db:"name"`
	CreatedBy       core.UserID `json:"createdBy" db:"created_by"`
	MaxParticipants int         `json:"maxParticipants" db:"max_participants"`
	CreatedAt       time.Time   `json:"createdAt,omitempty" db:"created_at"`
}

type RoomParticipant struct {
	RoomID   core.RoomID     `json:"roomId" db:"room_id"`
	UserID   core.UserID     `json:"userId" db:"user_id"`
	Role     ParticipantRole `json:"role" db:"role"`
	JoinedAt time.Time       `json:"joinedAt,omitempty" db:"joined_at"`
}

// NewRoom creates a room owned by the given user. The creator is its host.
func NewRoom(name string, createdBy core.UserID, maxParticipants int) *Room {
	if maxParticipants == 0 {
		maxParticipants = 2
	}
	return &Room{
		RoomID:          core.RoomID(uuid.New().String()),
		Name:            name,
		CreatedBy:       createdBy,
		MaxParticipants: maxParticipants,
	}
}

type RoomsStorer interface {
	Save(room *Room) error
	FindByRoomID(roomID core.RoomID) (*Room, error)
	AddParticipant(roomID core.RoomID, userID core.UserID, role ParticipantRole) error
	RemoveParticipant(roomID core.RoomID, userID core.UserID) error
	SetRole(roomID core.RoomID, userID core.UserID, role ParticipantRole) error
	Participants(roomID core.RoomID) ([]*RoomParticipant, error)
}

type RoomsRepository struct {
	db *sqlx.DB
}

func NewRoomsRepository(db *sqlx.DB) *RoomsRepository {
	return &RoomsRepository{
		db: db,
	}
}

func (r *RoomsRepository) Save(room *Room) error {
	var id int64
	err := r.db.Get(&id,
		`INSERT INTO rooms (room_id, name, created_by, max_participants, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 RETURNING id`,
		room.RoomID,
		room.Name,
		room.CreatedBy,
		room.MaxParticipants,
	)
	if err != nil {
		return err
	}
	room.ID = id

	return r.AddParticipant(room.RoomID, room.CreatedBy, RoleHost)
}

func (r *RoomsRepository) FindByRoomID(roomID core.RoomID) (*Room, error) {
	room := &Room{}

	err := r.db.Get(room,
		`SELECT id, room_id, name, created_by, max_participants, created_at
		 FROM rooms WHERE room_id = $1 LIMIT 1`,
		roomID,
	)
	if err != nil {
		return nil, err
	}

	return room, nil
}

func (r *RoomsRepository) AddParticipant(roomID core.RoomID, userID core.UserID, role ParticipantRole) error {
	_, err := r.db.Exec(
		`INSERT INTO room_participants (room_id, user_id, role, joined_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (room_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		roomID,
		userID,
		role,
	)
	return err
}

func (r *RoomsRepository) RemoveParticipant(roomID core.RoomID, userID core.UserID) error {
	_, err := r.db.Exec(
		`DELETE FROM room_participants WHERE room_id = $1 AND user_id = $2`,
		roomID,
		userID,
	)
	return err
}

func (r *RoomsRepository) SetRole(roomID core.RoomID, userID core.UserID, role ParticipantRole) error {
	_, err := r.db.Exec(
		`UPDATE room_participants SET role = $3 WHERE room_id = $1 AND user_id = $2`,
		roomID,
		userID,
		role,
	)
	return err
}

func (r *RoomsRepository) Participants(roomID core.RoomID) ([]*RoomParticipant, error) {
	participants := []*RoomParticipant{}

	err := r.db.Select(&participants,
		`SELECT room_id, user_id, role, joined_at
		 FROM room_participants WHERE room_id = $1 ORDER BY joined_at ASC`,
		roomID,
	)
	if err != nil {
		return nil, err
	}

	return participants, nil
}
