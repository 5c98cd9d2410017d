package rooms

import (
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/peerpad/peerpad/internal/core"
)

const historyPerPageDefault = 20

// CodeSnapshot is a point-in-time copy of a room's code text.
type CodeSnapshot struct {
	ID        int64       `json:"id,omitempty" db:"id"`
	RoomID    core.RoomID `json:"roomId" db:"room_id"`
	Code      string      `json:"code" db:"code"`
	CreatedAt time.Time   `json:"createdAt,omitempty" db:"created_at"`
}

type HistoryStorer interface {
	Save(roomID core.RoomID, code string) error
	Latest(roomID core.RoomID, limit int) ([]*CodeSnapshot, error)
}

type HistoryRepository struct {
	db *sqlx.DB
}

func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{
		db: db,
	}
}

func (r *HistoryRepository) Save(roomID core.RoomID, code string) error {
	_, err := r.db.Exec(
		`INSERT INTO code_history (room_id, code, created_at) VALUES ($1, $2, NOW())`,
		roomID,
		code,
	)
	return err
}

func (r *HistoryRepository) Latest(roomID core.RoomID, limit int) ([]*CodeSnapshot, error) {
	if limit == 0 {
		limit = historyPerPageDefault
	}

	snapshots := []*CodeSnapshot{}
	err := r.db.Select(&snapshots,
		`SELECT id, room_id, code, created_at
		 FROM code_history WHERE room_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		roomID,
		limit,
	)
	if err != nil {
		return nil, err
	}

	return snapshots, nil
}
