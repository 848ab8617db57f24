package checkpoint

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chesslink/internal/session"
)

// Recorder saves a checkpoint whenever the session attaches or the position
// changes. Store errors are logged and never reach the engine.
type Recorder struct {
	store  Store
	logger *zap.Logger
}

func NewRecorder(store Store, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, logger: logger}
}

func (r *Recorder) Notify(ctx context.Context, ev session.Event) {
	switch ev.Kind {
	case session.EventAttached, session.EventColorAssigned, session.EventPosition:
	default:
		return
	}
	gs := ev.Session
	if gs.SessionID == "" || gs.LocalPlayerID == "" {
		return
	}
	// an attach carries no position yet; keep what an earlier connection saved
	if gs.Position == "" {
		prev, err := r.store.Load(ctx, gs.LocalPlayerID)
		if err != nil {
			r.logger.Warn("checkpoint_load_failed", zap.String("game_id", gs.SessionID), zap.Error(err))
			return
		}
		if prev != nil && prev.GameID == gs.SessionID {
			return
		}
	}
	cp := Checkpoint{
		PlayerID:  gs.LocalPlayerID,
		GameID:    gs.SessionID,
		Color:     gs.AssignedColor,
		Turn:      gs.ActiveTurn,
		Position:  gs.Position,
		UpdatedAt: time.Now(),
	}
	if err := r.store.Save(ctx, cp); err != nil {
		r.logger.Warn("checkpoint_save_failed", zap.String("game_id", gs.SessionID), zap.Error(err))
	}
}
