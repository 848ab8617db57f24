package session

import (
	"context"

	"github.com/park285/chesslink/pkg/chessdto"
)

// State is the connection state of one engine instance.
type State string

const (
	StateConnecting           State = "connecting"
	StateActive               State = "active"
	StateAwaitingConfirmation State = "awaiting-confirmation"
	StateClosed               State = "closed"
)

// Identity is the local participant. It is passed explicitly to every
// component that needs it.
type Identity struct {
	PlayerID string
}

// GameSession is the synchronized state of one game as seen by this client.
type GameSession struct {
	SessionID     string         `json:"session_id"`
	LocalPlayerID string         `json:"local_player_id"`
	AssignedColor chessdto.Color `json:"assigned_color,omitempty"`
	ActiveTurn    chessdto.Color `json:"active_turn,omitempty"`
	Position      string         `json:"position,omitempty"`
	State         State          `json:"state"`
}

// MyTurn compares the server-asserted turn with the assigned color's turn token.
func (s GameSession) MyTurn() bool {
	if !s.AssignedColor.Valid() || !s.ActiveTurn.Valid() {
		return false
	}
	return s.ActiveTurn.TurnToken() == s.AssignedColor.TurnToken()
}

// Prompt is what the move input sees when the engine asks for a move.
type Prompt struct {
	GameID   string
	Color    chessdto.Color
	Position string
	// Rejected carries the server's description when the previous move was refused.
	Rejected string
	Attempt  int
}

// MoveInput supplies move intents, usually from a human at a terminal.
type MoveInput interface {
	NextMove(ctx context.Context, p Prompt) (chessdto.Move, error)
}

// MoveInputFunc adapts a function to MoveInput.
type MoveInputFunc func(ctx context.Context, p Prompt) (chessdto.Move, error)

func (f MoveInputFunc) NextMove(ctx context.Context, p Prompt) (chessdto.Move, error) {
	return f(ctx, p)
}
