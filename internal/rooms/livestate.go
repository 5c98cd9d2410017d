package rooms

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/peerpad/peerpad/internal/core"
)

const liveStateTTL = 24 * time.Hour

type LiveStateStorer interface {
	SetCode(ctx context.Context, roomID core.RoomID, code string) error
	SetInput(ctx context.Context, roomID core.RoomID, input string) error
	SetOutput(ctx context.Context, roomID core.RoomID, output string) error
	SetLanguage(ctx context.Context, roomID core.RoomID, language string) error
	Snapshot(ctx context.Context, roomID core.RoomID) (*LiveSnapshot, error)
	Clear(ctx context.Context, roomID core.RoomID) error
}

// LiveState mirrors the last-write-wins co-edit channel into redis so a
// client joining late can fetch the current document instead of waiting for
// the next delta. The relay remains the source of truth for ordering; this
// is a convenience cache.
type LiveState struct {
	rdb *redis.Client
}

// LiveSnapshot is the current document state of a room.
type LiveSnapshot struct {
	Code     string `json:"code"`
	Input    string `json:"input"`
	Output   string `json:"output"`
	Language string `json:"language"`
}

func NewLiveState(rdb *redis.Client) *LiveState {
	return &LiveState{rdb: rdb}
}

func (s *LiveState) SetCode(ctx context.Context, roomID core.RoomID, code string) error {
	return s.set(ctx, roomID, "code", code)
}

func (s *LiveState) SetInput(ctx context.Context, roomID core.RoomID, input string) error {
	return s.set(ctx, roomID, "input", input)
}

func (s *LiveState) SetOutput(ctx context.Context, roomID core.RoomID, output string) error {
	return s.set(ctx, roomID, "output", output)
}

func (s *LiveState) SetLanguage(ctx context.Context, roomID core.RoomID, language string) error {
	return s.set(ctx, roomID, "language", language)
}

// Snapshot returns the mirrored document of a room. A room nobody has
// edited yet yields the zero snapshot.
func (s *LiveState) Snapshot(ctx context.Context, roomID core.RoomID) (*LiveSnapshot, error) {
	fields, err := s.rdb.HGetAll(ctx, liveStateKey(roomID)).Result()
	if err != nil {
		return nil, err
	}
	return &LiveSnapshot{
		Code:     fields["code"],
		Input:    fields["input"],
		Output:   fields["output"],
		Language: fields["language"],
	}, nil
}

// Clear drops the mirrored document, for rooms that were deleted.
func (s *LiveState) Clear(ctx context.Context, roomID core.RoomID) error {
	return s.rdb.Del(ctx, liveStateKey(roomID)).Err()
}

func (s *LiveState) set(ctx context.Context, roomID core.RoomID, field, value string) error {
	key := liveStateKey(roomID)
	if err := s.rdb.HSet(ctx, key, field, value).Err(); err != nil {
		return err
	}
	return s.rdb.Expire(ctx, key, liveStateTTL).Err()
}

func liveStateKey(roomID core.RoomID) string {
	return "room_state:" + roomID.String()
}
