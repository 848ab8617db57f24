package chesspresenter

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/park285/chesslink/internal/session"
)

// Presenter writes events and boards to a terminal without coupling to the
// command layer. It implements session.Notifier.
type Presenter struct {
	out       io.Writer
	formatter *Formatter
	snapshot  *SnapshotWriter
	logger    *zap.Logger

	mu       sync.Mutex
	lastFEN  string
	lastTurn string
}

func NewPresenter(out io.Writer, formatter *Formatter, snapshot *SnapshotWriter, logger *zap.Logger) *Presenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Presenter{out: out, formatter: formatter, snapshot: snapshot, logger: logger}
}

func (p *Presenter) Notify(ctx context.Context, ev session.Event) {
	if p == nil || p.out == nil {
		return
	}
	if ev.Kind == session.EventPosition {
		p.board(ctx, ev.Session)
		return
	}
	// state changes are already implied by the surrounding events
	if ev.Kind == session.EventStateChanged {
		p.logger.Debug("state_changed", zap.String("from", string(ev.From)), zap.String("to", string(ev.To)))
		return
	}
	p.line(p.formatter.Event(ev))
}

// Say prints a catalog message, for command-level output.
func (p *Presenter) Say(key string, data map[string]any) {
	if p == nil || p.out == nil {
		return
	}
	p.line(p.formatter.Text(key, data))
}

func (p *Presenter) board(ctx context.Context, gs session.GameSession) {
	if strings.TrimSpace(gs.Position) == "" {
		return
	}
	p.mu.Lock()
	same := gs.Position == p.lastFEN && gs.ActiveTurn.String() == p.lastTurn
	p.lastFEN, p.lastTurn = gs.Position, gs.ActiveTurn.String()
	p.mu.Unlock()
	if same {
		return
	}

	ascii, err := RenderASCII(gs.Position, gs.AssignedColor)
	if err != nil {
		p.logger.Warn("board_render_failed", zap.String("game_id", gs.SessionID), zap.Error(err))
		p.line(gs.Position)
		return
	}
	p.line(strings.TrimRight(ascii, "\n"))
	if gs.ActiveTurn.Valid() {
		p.line(p.formatter.Caption(gs))
	}

	if p.snapshot != nil {
		if err := p.snapshot.Write(ctx, gs.Position, gs.AssignedColor); err != nil {
			p.logger.Warn("snapshot_failed", zap.String("path", p.snapshot.Path), zap.Error(err))
		}
	}
}

func (p *Presenter) line(s string) {
	if s == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintln(p.out, s); err != nil {
		p.logger.Debug("presenter_write_failed", zap.Error(err))
	}
}
