package journal

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chesslink/internal/session"
)

// Recorder appends server-confirmed moves: the local move on confirmation
// and opponent moves as they arrive. Journal errors are logged only.
type Recorder struct {
	j      Journal
	logger *zap.Logger
}

func NewRecorder(j Journal, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{j: j, logger: logger}
}

func (r *Recorder) Notify(ctx context.Context, ev session.Event) {
	var side Side
	switch ev.Kind {
	case session.EventMoveConfirmed:
		side = SideLocal
	case session.EventOpponentMoved:
		side = SideOpponent
	default:
		return
	}
	e := Entry{
		GameID:     ev.Session.SessionID,
		PlayerID:   ev.Session.LocalPlayerID,
		Side:       side,
		Move:       ev.Move,
		FEN:        ev.Session.Position,
		Attempts:   ev.Attempt,
		RecordedAt: time.Now(),
	}
	if err := r.j.Record(ctx, e); err != nil {
		r.logger.Warn("journal_record_failed", zap.String("game_id", e.GameID), zap.String("move", e.Move.String()), zap.Error(err))
	}
}
