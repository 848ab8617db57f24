package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// Credential is the opaque bearer token returned by login.
type Credential string

func (c Credential) String() string {
	if c == "" {
		return ""
	}
	return "<redacted>"
}

var (
	ErrEmptyToken  = errors.New("login response carried no token")
	ErrEmptyGameID = errors.New("create response carried no gameID")
	ErrNoGameID    = errors.New("game id required")
)

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if msg == "" {
		return fmt.Sprintf("%s: gateway status=%d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: gateway status=%d body=%s", e.Op, e.Status, msg)
}

// StatusOf returns the HTTP status carried by an *APIError, or 0.
func StatusOf(err error) int {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Status
	}
	return 0
}

type loginResponse struct {
	Token string `json:"token"`
}

type createResponse struct {
	GameID string `json:"gameID"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Difficulty is the AI strength accepted by /create.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

func ParseDifficulty(s string) (Difficulty, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy", "1":
		return DifficultyEasy, nil
	case "medium", "2":
		return DifficultyMedium, nil
	case "hard", "3":
		return DifficultyHard, nil
	default:
		return "", fmt.Errorf("unknown difficulty %q", s)
	}
}

// CreateOptions selects the opponent for /create. Depth wins over Difficulty
// when both are set.
type CreateOptions struct {
	AI         bool
	Difficulty Difficulty
	Depth      int
}

// JoinResult reports how /player/join-game answered.
type JoinResult struct {
	GameID        string
	AlreadyJoined bool
}
