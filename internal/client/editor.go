package client

import (
	"sync"

	"github.com/peerpad/peerpad/internal/core"
	"github.com/peerpad/peerpad/internal/signal"
)

// Emitter sends an event frame to the relay.
type Emitter interface {
	Emit(event signal.Event, payload interface{}) error
}

// EditorSnapshot is the current co-edit state of a room as one client
// sees it.
type EditorSnapshot struct {
	Code     string `json:"code"`
	Input    string `json:"input"`
	Output   string `json:"output"`
	Language string `json:"language"`
}

// Editor is the co-edit sync state: local changes are broadcast verbatim,
// received updates overwrite unconditionally. Concurrent edits race and the
// last broadcast received wins; edit permission is enforced upstream, from
// the room role, not here.
type Editor struct {
	mu     sync.Mutex
	roomID core.RoomID
	state  EditorSnapshot
	emit   Emitter
}

func NewEditor(emit Emitter, roomID core.RoomID) *Editor {
	return &Editor{
		roomID: roomID,
		emit:   emit,
	}
}

// SetCode applies a local edit and broadcasts it.
func (e *Editor) SetCode(code string) error {
	e.mu.Lock()
	e.state.Code = code
	e.mu.Unlock()
	return e.emit.Emit(signal.CodeChangeEvent, signal.CodeChange{RoomID: e.roomID, Code: code})
}

// SetInput applies a local stdin edit and broadcasts it.
func (e *Editor) SetInput(input string) error {
	e.mu.Lock()
	e.state.Input = input
	e.mu.Unlock()
	return e.emit.Emit(signal.InputChangeEvent, signal.InputChange{RoomID: e.roomID, Input: input})
}

// SetOutput applies a local run result and broadcasts it.
func (e *Editor) SetOutput(output string) error {
	e.mu.Lock()
	e.state.Output = output
	e.mu.Unlock()
	return e.emit.Emit(signal.OutputChangeEvent, signal.OutputChange{RoomID: e.roomID, Output: output})
}

// SetLanguage applies a local language switch and broadcasts it.
func (e *Editor) SetLanguage(language string) error {
	e.mu.Lock()
	e.state.Language = language
	e.mu.Unlock()
	return e.emit.Emit(signal.LanguageChangeEvent, signal.LanguageChange{RoomID: e.roomID, Language: language})
}

func (e *Editor) ApplyCodeUpdate(code string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Code = code
}

func (e *Editor) ApplyInputUpdate(input string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Input = input
}

func (e *Editor) ApplyOutputUpdate(output string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Output = output
}

func (e *Editor) ApplyLanguageUpdate(language string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Language = language
}

// Snapshot returns the state as currently synced.
func (e *Editor) Snapshot() EditorSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}
