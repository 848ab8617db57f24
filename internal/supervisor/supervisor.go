package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/chesslink/internal/gateway"
	"github.com/park285/chesslink/internal/session"
	"github.com/park285/chesslink/internal/transport"
)

// Bootstrapper runs login followed by create-or-join.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, in gateway.Intent) (gateway.Session, error)
	PlayerID() string
}

type Config struct {
	// WSURL is the session channel base (ws:// or wss://).
	WSURL string
	// MaxAttempts bounds consecutive recovery attempts; 0 means retry forever.
	MaxAttempts          int
	Backoff              BackoffConfig
	MaxConsecutiveFaults int
}

// FatalBootstrapError ends supervision: recovery ran out of attempts or the
// gateway refused the rejoin outright.
type FatalBootstrapError struct {
	GameID   string
	Attempts int
	Err      error
}

func (e *FatalBootstrapError) Error() string {
	return fmt.Sprintf("recover game %s failed after %d attempt(s): %v", e.GameID, e.Attempts, e.Err)
}

func (e *FatalBootstrapError) Unwrap() error { return e.Err }

// Attachment is one live transport and the engine that owns it.
type Attachment struct {
	ID        string
	Session   gateway.Session
	Transport transport.Transport
	Engine    *session.Engine
}

// Supervisor owns the hand-over between engine instances. The old transport
// is always closed before a new one is opened.
type Supervisor struct {
	cfg      Config
	boot     Bootstrapper
	dialer   transport.Dialer
	input    session.MoveInput
	notifier session.Notifier
	logger   *zap.Logger
	identity session.Identity

	mu      sync.Mutex
	gameID  string
	attempt int
	rng     *rand.Rand
}

func New(cfg Config, boot Bootstrapper, dialer transport.Dialer, input session.MoveInput, notifier session.Notifier, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = session.Notifiers(nil)
	}
	return &Supervisor{
		cfg:      cfg,
		boot:     boot,
		dialer:   dialer,
		input:    input,
		notifier: notifier,
		logger:   logger,
		identity: session.Identity{PlayerID: boot.PlayerID()},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// GameID is the game this supervisor is bound to, empty before Start.
func (s *Supervisor) GameID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameID
}

// Start performs the first bootstrap and attach. Failures go straight back
// to the caller.
func (s *Supervisor) Start(ctx context.Context, in gateway.Intent) (*Attachment, error) {
	bs, err := s.boot.Bootstrap(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	s.mu.Lock()
	s.gameID = bs.GameID
	s.mu.Unlock()
	return s.attach(ctx, bs)
}

// Recover replays the whole bootstrap (login + rejoin) and attaches a fresh
// transport and engine. Each attempt waits the backoff delay first.
func (s *Supervisor) Recover(ctx context.Context) (*Attachment, error) {
	gameID := s.GameID()
	if gameID == "" {
		return nil, errors.New("recover: no game to rejoin")
	}
	for {
		s.mu.Lock()
		s.attempt++
		attempt := s.attempt
		s.mu.Unlock()

		delay := NextBackoffDelay(s.cfg.Backoff, attempt, s.rng)
		s.logger.Info("reconnect_wait", zap.String("game_id", gameID), zap.Int("attempt", attempt), zap.Duration("delay", delay))
		s.notify(ctx, session.Event{Kind: session.EventReconnecting, Attempt: attempt, Delay: delay})
		if err := sleepWithContext(ctx, delay); err != nil {
			return nil, err
		}

		att, err := s.recoverOnce(ctx, gameID)
		if err == nil {
			return att, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("reconnect_failed", zap.String("game_id", gameID), zap.Int("attempt", attempt), zap.Error(err))
		s.notify(ctx, session.Event{Kind: session.EventRecoverFail, Attempt: attempt, Err: err})

		if permanent(err) || (s.cfg.MaxAttempts > 0 && attempt >= s.cfg.MaxAttempts) {
			fatal := &FatalBootstrapError{GameID: gameID, Attempts: attempt, Err: err}
			s.notify(ctx, session.Event{Kind: session.EventFatal, Attempt: attempt, Err: fatal})
			return nil, fatal
		}
	}
}

func (s *Supervisor) recoverOnce(ctx context.Context, gameID string) (*Attachment, error) {
	bs, err := s.boot.Bootstrap(ctx, gateway.Rejoin(gameID))
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return s.attach(ctx, bs)
}

// Run supervises engines until the context ends, recovery turns fatal, or the
// engine stops for a reason reconnecting cannot fix.
func (s *Supervisor) Run(ctx context.Context, in gateway.Intent) error {
	att, err := s.Start(ctx, in)
	if err != nil {
		return err
	}
	for {
		runErr := att.Engine.Run(ctx)
		if cerr := att.Transport.Close(); cerr != nil {
			s.logger.Debug("transport_close_error", zap.String("attach_id", att.ID), zap.Error(cerr))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !session.IsRecoverable(runErr) {
			return runErr
		}
		s.logger.Info("session_lost", zap.String("game_id", att.Session.GameID), zap.String("attach_id", att.ID), zap.Error(runErr))
		att, err = s.Recover(ctx)
		if err != nil {
			return err
		}
	}
}

func (s *Supervisor) attach(ctx context.Context, bs gateway.Session) (*Attachment, error) {
	endpoint, err := transport.EndpointURL(s.cfg.WSURL, bs.GameID, s.identity.PlayerID)
	if err != nil {
		return nil, err
	}
	tr, err := s.dialer.Open(ctx, endpoint, string(bs.Credential))
	if err != nil {
		return nil, err
	}
	eng := session.NewEngine(s.identity, bs.GameID, tr, s.input, s.notifier, session.Options{
		MaxConsecutiveFaults: s.cfg.MaxConsecutiveFaults,
		Logger:               s.logger,
	})
	att := &Attachment{ID: uuid.NewString(), Session: bs, Transport: tr, Engine: eng}

	s.mu.Lock()
	prev := s.attempt
	s.attempt = 0
	s.mu.Unlock()

	s.logger.Info("session_attached",
		zap.String("game_id", bs.GameID),
		zap.String("attach_id", att.ID),
		zap.String("conn_id", tr.ID()),
		zap.Bool("created", bs.Created),
		zap.Bool("rejoined", bs.AlreadyJoined),
	)
	s.notify(ctx, session.Event{Kind: session.EventAttached, Session: eng.Snapshot(), Attempt: prev})
	return att, nil
}

func (s *Supervisor) notify(ctx context.Context, ev session.Event) {
	if ev.Session.SessionID == "" {
		ev.Session = session.GameSession{SessionID: s.GameID(), LocalPlayerID: s.identity.PlayerID}
	}
	s.notifier.Notify(ctx, ev)
}

// permanent reports gateway answers that another attempt cannot change.
func permanent(err error) bool {
	switch gateway.StatusOf(err) {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusGone:
		return true
	}
	return errors.Is(err, gateway.ErrNoGameID)
}
