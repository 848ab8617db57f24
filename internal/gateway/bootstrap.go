package gateway

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Mode selects how a bootstrap obtains its game.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeJoin   Mode = "join"
)

// Intent is what the user asked for at start-up.
type Intent struct {
	Mode   Mode
	GameID string
	Create CreateOptions
}

// Rejoin is the intent used to restore an existing game.
func Rejoin(gameID string) Intent { return Intent{Mode: ModeJoin, GameID: gameID} }

// Session is a completed bootstrap: everything needed to open the session channel.
type Session struct {
	Credential    Credential
	GameID        string
	Created       bool
	AlreadyJoined bool
}

// Bootstrapper runs login followed by create-or-join.
type Bootstrapper struct {
	client   *Client
	playerID string
	password string
	logger   *zap.Logger
}

func NewBootstrapper(client *Client, playerID, password string, logger *zap.Logger) *Bootstrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bootstrapper{client: client, playerID: strings.TrimSpace(playerID), password: password, logger: logger}
}

func (b *Bootstrapper) PlayerID() string { return b.playerID }

// Login exposes the credential step alone, for commands that only need a token.
func (b *Bootstrapper) Login(ctx context.Context) (Credential, error) {
	return b.client.Login(ctx, b.playerID, b.password)
}

func (b *Bootstrapper) Bootstrap(ctx context.Context, in Intent) (Session, error) {
	if b == nil || b.client == nil {
		return Session{}, fmt.Errorf("bootstrapper not initialized")
	}
	cred, err := b.client.Login(ctx, b.playerID, b.password)
	if err != nil {
		return Session{}, err
	}

	switch in.Mode {
	case ModeCreate:
		gameID, err := b.client.CreateGame(ctx, cred, b.playerID, in.Create)
		if err != nil {
			return Session{}, err
		}
		return Session{Credential: cred, GameID: gameID, Created: true}, nil
	case ModeJoin:
		res, err := b.client.JoinGame(ctx, cred, b.playerID, in.GameID)
		if err != nil {
			return Session{}, err
		}
		if res.AlreadyJoined {
			b.logger.Info("bootstrap_rejoin", zap.String("game_id", res.GameID))
		}
		return Session{Credential: cred, GameID: res.GameID, AlreadyJoined: res.AlreadyJoined}, nil
	default:
		return Session{}, fmt.Errorf("unknown bootstrap mode %q", in.Mode)
	}
}
