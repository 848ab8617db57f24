package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/chesslink/internal/transport"
	"github.com/park285/chesslink/pkg/chessdto"
)

// DefaultMaxConsecutiveFaults bounds how many bad frames in a row are tolerated.
const DefaultMaxConsecutiveFaults = 5

// unreadableReply is the rejection reason given when the answer to a sent
// move cannot be decoded.
const unreadableReply = "server reply could not be read"

var (
	// ErrProtocolFaults ends a run after too many consecutive bad frames. The
	// supervisor handles it the same way as a closed channel.
	ErrProtocolFaults = errors.New("too many consecutive protocol faults")
	ErrColorConflict  = errors.New("game-state color conflicts with assigned color")
	ErrNotMyTurn      = errors.New("move-send outside the local turn")
)

type Options struct {
	// MaxConsecutiveFaults <= 0 means DefaultMaxConsecutiveFaults.
	MaxConsecutiveFaults int
	Logger               *zap.Logger
}

// Engine is the move protocol state machine for one transport instance. Run
// is single-flow: it suspends only in Receive and in MoveInput.NextMove.
type Engine struct {
	id       Identity
	tr       transport.Transport
	input    MoveInput
	notifier Notifier
	logger   *zap.Logger

	maxFaults int
	faults    int
	attempt   int
	pending   chessdto.Move

	mu sync.RWMutex
	gs GameSession
}

func NewEngine(id Identity, sessionID string, tr transport.Transport, input MoveInput, notifier Notifier, opts Options) *Engine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxFaults := opts.MaxConsecutiveFaults
	if maxFaults <= 0 {
		maxFaults = DefaultMaxConsecutiveFaults
	}
	return &Engine{
		id:        id,
		tr:        tr,
		input:     input,
		notifier:  notifier,
		logger:    logger.With(zap.String("game_id", sessionID), zap.String("player_id", id.PlayerID), zap.String("conn_id", tr.ID())),
		maxFaults: maxFaults,
		gs: GameSession{
			SessionID:     sessionID,
			LocalPlayerID: id.PlayerID,
			State:         StateConnecting,
		},
	}
}

// Snapshot returns a copy of the current session state.
func (e *Engine) Snapshot() GameSession {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.gs
}

// Run processes inbound messages until the channel closes, the context ends,
// the move input fails, or the fault limit is reached. It always returns a
// non-nil error and leaves the engine in StateClosed. Closure is reported as
// an error wrapping transport.ErrConnectionClosed.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine_run")
	for {
		msg, err := e.tr.Receive(ctx)
		if err != nil {
			if chessdto.IsProtocolError(err) {
				ferr := e.fault(ctx, err)
				if e.Snapshot().State == StateAwaitingConfirmation {
					// an unreadable reply to our move counts as a rejection
					e.faults = 0
					ferr = e.reject(ctx, unreadableReply)
				}
				if ferr != nil {
					return e.close(ctx, ferr)
				}
				continue
			}
			return e.close(ctx, err)
		}
		if err := e.handle(ctx, msg); err != nil {
			return e.close(ctx, err)
		}
	}
}

func (e *Engine) handle(ctx context.Context, msg chessdto.Message) error {
	switch m := msg.(type) {
	case chessdto.GameState:
		return e.onGameState(ctx, m)
	case chessdto.MoveEvent:
		return e.onMove(ctx, m)
	case chessdto.Confirmation:
		return e.onConfirmation(ctx, m)
	case chessdto.ErrorMessage:
		return e.onError(ctx, m)
	default:
		return e.fault(ctx, &chessdto.ProtocolError{
			Code:    "unknown_type",
			Message: fmt.Sprintf("unhandled message %T", msg),
			Err:     chessdto.ErrUnknownMessageType,
		})
	}
}

func (e *Engine) onGameState(ctx context.Context, m chessdto.GameState) error {
	turn, err := chessdto.ColorFromTurnToken(m.Turn)
	if err != nil {
		return e.fault(ctx, err)
	}
	cur := e.Snapshot()

	if cur.State == StateConnecting {
		e.mu.Lock()
		e.gs.AssignedColor = m.Color
		e.mu.Unlock()
		e.faults = 0
		e.emit(ctx, Event{Kind: EventColorAssigned})
		e.replace(ctx, chessdto.TypeGameState, m.FEN, turn)
		e.transition(ctx, StateActive)
		return e.maybeSend(ctx)
	}

	if m.Color != cur.AssignedColor {
		return e.fault(ctx, fmt.Errorf("%w: assigned=%s received=%s", ErrColorConflict, cur.AssignedColor, m.Color))
	}
	e.faults = 0
	e.replace(ctx, chessdto.TypeGameState, m.FEN, turn)
	if cur.State == StateAwaitingConfirmation {
		e.outOfSequence(ctx, chessdto.TypeGameState)
		return nil
	}
	return e.maybeSend(ctx)
}

func (e *Engine) onMove(ctx context.Context, m chessdto.MoveEvent) error {
	turn, err := chessdto.ColorFromTurnToken(m.Turn)
	if err != nil {
		return e.fault(ctx, err)
	}
	e.faults = 0
	state := e.Snapshot().State
	e.replace(ctx, chessdto.TypeMove, m.FEN, turn)
	if state != StateActive {
		e.outOfSequence(ctx, chessdto.TypeMove)
		return nil
	}
	e.emit(ctx, Event{Kind: EventOpponentMoved, Move: m.Move, Source: chessdto.TypeMove})
	return e.maybeSend(ctx)
}

func (e *Engine) onConfirmation(ctx context.Context, m chessdto.Confirmation) error {
	e.faults = 0
	state := e.Snapshot().State
	e.mu.Lock()
	e.gs.Position = m.FEN
	e.mu.Unlock()
	e.emit(ctx, Event{Kind: EventPosition, Source: chessdto.TypeConfirmation})
	if state != StateAwaitingConfirmation {
		e.outOfSequence(ctx, chessdto.TypeConfirmation)
		return nil
	}
	e.emit(ctx, Event{Kind: EventMoveConfirmed, Move: e.pending, Attempt: e.attempt, Source: chessdto.TypeConfirmation})
	e.pending = chessdto.Move{}
	e.attempt = 0
	e.transition(ctx, StateActive)
	return nil
}

func (e *Engine) onError(ctx context.Context, m chessdto.ErrorMessage) error {
	e.faults = 0
	if e.Snapshot().State != StateAwaitingConfirmation {
		e.emit(ctx, Event{Kind: EventServerError, Message: m.Description, Source: chessdto.TypeError})
		return nil
	}
	return e.reject(ctx, m.Description)
}

// reject handles a refused move. If an out-of-sequence message already handed
// the turn away, the refusal is only reported and the session returns to
// active; otherwise the move-send procedure runs again.
func (e *Engine) reject(ctx context.Context, reason string) error {
	if !e.Snapshot().MyTurn() {
		e.logger.Warn("reject_without_turn", zap.String("move", e.pending.String()), zap.String("reason", reason))
		e.emit(ctx, Event{Kind: EventServerError, Move: e.pending, Message: reason, Source: chessdto.TypeError})
		e.pending = chessdto.Move{}
		e.attempt = 0
		e.transition(ctx, StateActive)
		return nil
	}
	e.logger.Info("move_rejected", zap.String("move", e.pending.String()), zap.String("reason", reason))
	e.emit(ctx, Event{Kind: EventMoveRejected, Move: e.pending, Message: reason, Source: chessdto.TypeError})
	return e.sendMove(ctx, reason)
}

// maybeSend enters the move-send procedure iff the session is active and the
// server-asserted turn is ours.
func (e *Engine) maybeSend(ctx context.Context) error {
	gs := e.Snapshot()
	if gs.State != StateActive || !gs.MyTurn() {
		return nil
	}
	e.transition(ctx, StateAwaitingConfirmation)
	return e.sendMove(ctx, "")
}

// sendMove asks for one move and sends it. The engine is already in
// awaiting-confirmation, so at most one move is in flight.
func (e *Engine) sendMove(ctx context.Context, rejected string) error {
	gs := e.Snapshot()
	if gs.State != StateAwaitingConfirmation || !gs.MyTurn() {
		return fmt.Errorf("%w: state=%s turn=%s color=%s", ErrNotMyTurn, gs.State, gs.ActiveTurn, gs.AssignedColor)
	}
	e.attempt++
	mv, err := e.input.NextMove(ctx, Prompt{
		GameID:   gs.SessionID,
		Color:    gs.AssignedColor,
		Position: gs.Position,
		Rejected: rejected,
		Attempt:  e.attempt,
	})
	if err != nil {
		return fmt.Errorf("move input: %w", err)
	}
	if err := e.tr.Send(ctx, chessdto.NewMoveRequest(e.id.PlayerID, mv)); err != nil {
		return err
	}
	e.pending = mv
	e.logger.Info("move_sent", zap.String("move", mv.String()), zap.Int("attempt", e.attempt))
	e.emit(ctx, Event{Kind: EventMoveSent, Move: mv, Attempt: e.attempt})
	return nil
}

func (e *Engine) replace(ctx context.Context, src chessdto.MessageType, fen string, turn chessdto.Color) {
	e.mu.Lock()
	e.gs.Position = fen
	e.gs.ActiveTurn = turn
	e.mu.Unlock()
	e.emit(ctx, Event{Kind: EventPosition, Source: src})
}

func (e *Engine) transition(ctx context.Context, to State) {
	e.mu.Lock()
	from := e.gs.State
	e.gs.State = to
	e.mu.Unlock()
	if from == to {
		return
	}
	e.logger.Debug("state_changed", zap.String("from", string(from)), zap.String("to", string(to)))
	e.emit(ctx, Event{Kind: EventStateChanged, From: from, To: to})
}

func (e *Engine) outOfSequence(ctx context.Context, src chessdto.MessageType) {
	state := e.Snapshot().State
	e.logger.Warn("out_of_sequence", zap.String("message_type", string(src)), zap.String("state", string(state)))
	e.emit(ctx, Event{Kind: EventOutOfSequence, Source: src})
}

// fault reports a bad frame and returns a non-nil error only once the limit
// of consecutive faults is reached.
func (e *Engine) fault(ctx context.Context, err error) error {
	e.faults++
	e.logger.Warn("protocol_fault", zap.Int("consecutive", e.faults), zap.Error(err))
	e.emit(ctx, Event{Kind: EventProtocolFault, Err: err, Attempt: e.faults})
	if e.faults >= e.maxFaults {
		return fmt.Errorf("%w (%d): %w", ErrProtocolFaults, e.faults, err)
	}
	return nil
}

func (e *Engine) close(ctx context.Context, cause error) error {
	e.transition(ctx, StateClosed)
	e.logger.Info("engine_closed", zap.Error(cause))
	e.emit(ctx, Event{Kind: EventClosed, Err: cause})
	return cause
}

func (e *Engine) emit(ctx context.Context, ev Event) {
	ev.Session = e.Snapshot()
	e.notifier.Notify(ctx, ev)
}

// IsRecoverable reports whether a Run error should trigger reconnection.
func IsRecoverable(err error) bool {
	return transport.IsClosed(err) || errors.Is(err, ErrProtocolFaults)
}
