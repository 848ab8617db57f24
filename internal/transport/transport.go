package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/park285/chesslink/pkg/chessdto"
)

// ErrConnectionClosed is the single failure Receive and Send report once the
// channel is gone. Callers match it with errors.Is.
var ErrConnectionClosed = errors.New("session channel closed")

// ConnectionError is a failed or rejected handshake.
type ConnectionError struct {
	URL    string
	Status int
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("open %s: handshake rejected status=%d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("open %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Transport is one persistent duplex channel for a single game. It is owned by
// exactly one engine and never retries.
type Transport interface {
	// Receive blocks until one message arrives. Frames that fail schema checks
	// come back as *chessdto.ProtocolError with the channel still open.
	Receive(ctx context.Context) (chessdto.Message, error)
	// Send writes one frame; acknowledgement arrives later through Receive.
	Send(ctx context.Context, req chessdto.MoveRequest) error
	// Close releases the channel. Safe to call more than once.
	Close() error
	// ID identifies this channel instance in logs.
	ID() string
}

// Dialer opens transports.
type Dialer interface {
	Open(ctx context.Context, endpointURL, credential string) (Transport, error)
}

// EndpointURL builds <base>/connect?gameID=<id>&playerID=<id>.
func EndpointURL(base, gameID, playerID string) (string, error) {
	if strings.TrimSpace(gameID) == "" || strings.TrimSpace(playerID) == "" {
		return "", errors.New("endpoint url: gameID and playerID required")
	}
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("endpoint url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("endpoint url: unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/connect"
	q := url.Values{}
	q.Set("gameID", gameID)
	q.Set("playerID", playerID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// IsClosed reports whether err means the channel is gone.
func IsClosed(err error) bool { return errors.Is(err, ErrConnectionClosed) }
