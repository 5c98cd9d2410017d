package core

// ConnectionID identifies a single relay connection. It lives from the
// moment the websocket is accepted until it disconnects.
type ConnectionID string

// RoomID is the external identifier of a logical room. Rooms exist at the
// relay only as the union of current memberships.
type RoomID string

// UserID is the application-level user identifier, carried inside payloads
// so receivers can label incoming streams and messages.
type UserID string

func (c ConnectionID) String() string { return string(c) }
func (r RoomID) String() string       { return string(r) }

// Participant is the application-level identity of a room member.
// The relay itself never inspects it.
type Participant struct {
	UserID UserID `json:"userId"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type Environment string

const (
	DevelopmentEnv Environment = "development"
	ProductionEnv  Environment = "production"
)

func (e Environment) IsProduction() bool {
	return e == ProductionEnv
}

func (e Environment) IsDevelopment() bool {
	return e == DevelopmentEnv
}
