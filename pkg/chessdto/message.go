package chessdto

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessageType is the discriminator carried in message_type.
type MessageType string

const (
	TypeGameState    MessageType = "game-state"
	TypeMove         MessageType = "move"
	TypeConfirmation MessageType = "confirmation"
	TypeError        MessageType = "error"
)

// Move is a from/to square pair. Squares are forwarded as typed; the server
// owns syntax and legality checks.
type Move struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (m Move) String() string { return m.From + m.To }

// Message is one decoded inbound frame.
type Message interface {
	Type() MessageType
}

// GameState is the full state the server sends after a channel is opened.
type GameState struct {
	Color Color
	FEN   string
	Turn  string
}

// MoveEvent announces a move (normally the opponent's) with the resulting position.
type MoveEvent struct {
	Move Move
	FEN  string
	Turn string
}

// Confirmation acknowledges the local player's move.
type Confirmation struct {
	FEN string
}

// ErrorMessage rejects the local player's move.
type ErrorMessage struct {
	Description string
}

func (GameState) Type() MessageType    { return TypeGameState }
func (MoveEvent) Type() MessageType    { return TypeMove }
func (Confirmation) Type() MessageType { return TypeConfirmation }
func (ErrorMessage) Type() MessageType { return TypeError }

// MoveRequest is the only outbound frame.
type MoveRequest struct {
	MessageType MessageType `json:"message_type"`
	PlayerID    string      `json:"playerID"`
	Move        Move        `json:"move"`
}

func NewMoveRequest(playerID string, mv Move) MoveRequest {
	return MoveRequest{MessageType: TypeMove, PlayerID: playerID, Move: mv}
}

// envelope mirrors every inbound field; pointers keep "absent" distinct from "empty".
type envelope struct {
	MessageType *string `json:"message_type"`
	Color       *string `json:"color"`
	FEN         *string `json:"fen"`
	Turn        *string `json:"turn"`
	Move        *Move   `json:"move"`
	Error       *string `json:"error"`
}

// Decode parses one inbound frame and checks the fields its message_type requires.
// Color names and turn tokens are validated here so the engine can compare
// them directly.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, protocolErr("decode", ErrMalformedMessage, raw, fmt.Sprintf("malformed message: %v", err))
	}
	if env.MessageType == nil || strings.TrimSpace(*env.MessageType) == "" {
		return nil, protocolErr("missing_type", ErrMalformedMessage, raw, "malformed message: message_type missing")
	}

	switch MessageType(strings.TrimSpace(*env.MessageType)) {
	case TypeGameState:
		if err := require(raw, "game-state", map[string]*string{"color": env.Color, "fen": env.FEN, "turn": env.Turn}); err != nil {
			return nil, err
		}
		color, err := ParseColor(*env.Color)
		if err != nil {
			return nil, protocolErr("color", err, raw, fmt.Sprintf("game-state: %v", err))
		}
		turn, err := turnToken(raw, "game-state", *env.Turn)
		if err != nil {
			return nil, err
		}
		return GameState{Color: color, FEN: *env.FEN, Turn: turn}, nil

	case TypeMove:
		if env.Move == nil {
			return nil, protocolErr("missing_field", ErrMalformedMessage, raw, "malformed move: field move missing")
		}
		if err := require(raw, "move", map[string]*string{"fen": env.FEN, "turn": env.Turn}); err != nil {
			return nil, err
		}
		turn, err := turnToken(raw, "move", *env.Turn)
		if err != nil {
			return nil, err
		}
		return MoveEvent{Move: *env.Move, FEN: *env.FEN, Turn: turn}, nil

	case TypeConfirmation:
		if err := require(raw, "confirmation", map[string]*string{"fen": env.FEN}); err != nil {
			return nil, err
		}
		return Confirmation{FEN: *env.FEN}, nil

	case TypeError:
		if env.Error == nil {
			return nil, protocolErr("missing_field", ErrMalformedMessage, raw, "malformed error: field error missing")
		}
		return ErrorMessage{Description: *env.Error}, nil

	default:
		return nil, protocolErr("unknown_type", ErrUnknownMessageType, raw, fmt.Sprintf("unknown message_type %q", *env.MessageType))
	}
}

func require(raw []byte, kind string, fields map[string]*string) error {
	for _, name := range []string{"color", "fen", "turn"} {
		v, ok := fields[name]
		if !ok {
			continue
		}
		if v == nil || strings.TrimSpace(*v) == "" {
			return protocolErr("missing_field", ErrMalformedMessage, raw, fmt.Sprintf("malformed %s: field %s missing", kind, name))
		}
	}
	return nil
}

func turnToken(raw []byte, kind, tok string) (string, error) {
	c, err := ColorFromTurnToken(tok)
	if err != nil {
		return "", protocolErr("turn", err, raw, fmt.Sprintf("%s: %v", kind, err))
	}
	return c.TurnToken(), nil
}
