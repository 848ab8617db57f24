package chessdto

import (
	"fmt"
	"strings"
)

// Color identifies a side. White moves first.
//
// The wire carries colors two ways: the full name in game-state.color and a
// single-letter turn token in game-state.turn / move.turn. The mapping is
// fixed: white <-> "w", black <-> "b".
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

const (
	TurnWhite = "w"
	TurnBlack = "b"
)

func (c Color) Valid() bool { return c == White || c == Black }

// TurnToken returns the wire turn token for c, or "" when c is not a side.
func (c Color) TurnToken() string {
	switch c {
	case White:
		return TurnWhite
	case Black:
		return TurnBlack
	default:
		return ""
	}
}

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	if c == Black {
		return White
	}
	return ""
}

func (c Color) String() string { return string(c) }

// ParseColor accepts the full color names used by game-state messages.
func ParseColor(s string) (Color, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white":
		return White, nil
	case "black":
		return Black, nil
	default:
		return "", fmt.Errorf("%w: color %q", ErrTurnEncoding, s)
	}
}

// ColorFromTurnToken maps a turn token back to the side that must move.
func ColorFromTurnToken(tok string) (Color, error) {
	switch strings.TrimSpace(tok) {
	case TurnWhite:
		return White, nil
	case TurnBlack:
		return Black, nil
	default:
		return "", fmt.Errorf("%w: turn %q", ErrTurnEncoding, tok)
	}
}
