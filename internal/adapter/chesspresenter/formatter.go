package chesspresenter

import (
	"fmt"
	"strings"

	"github.com/park285/chesslink/internal/msgcat"
	"github.com/park285/chesslink/internal/session"
)

// Formatter renders session and supervisor events into terminal lines using
// the message catalog.
type Formatter struct {
	catalog *msgcat.Catalog
}

func NewFormatter(catalog *msgcat.Catalog) *Formatter {
	return &Formatter{catalog: catalog}
}

// Event returns the line for ev. Position events return "" because the board
// is drawn instead.
func (f *Formatter) Event(ev session.Event) string {
	if ev.Kind == session.EventPosition {
		return ""
	}
	key := eventKey(ev.Kind)
	data := map[string]any{
		"GameID":   ev.Session.SessionID,
		"PlayerID": ev.Session.LocalPlayerID,
		"Color":    displayColor(ev.Session.AssignedColor.String()),
		"From":     string(ev.From),
		"To":       string(ev.To),
		"State":    string(ev.Session.State),
		"Source":   string(ev.Source),
		"Move":     ev.Move.String(),
		"Reason":   ev.Message,
		"Error":    errText(ev.Err),
		"Attempt":  ev.Attempt,
		"Count":    ev.Attempt,
		"Delay":    ev.Delay.String(),
	}
	return f.render(key, data, fallbackLine(ev))
}

// Caption is the line printed under the board.
func (f *Formatter) Caption(gs session.GameSession) string {
	turn := displayColor(gs.ActiveTurn.String())
	return f.render("board.caption", map[string]any{"Turn": turn}, turn+" to move")
}

// Text renders an arbitrary catalog key, falling back to the key itself.
func (f *Formatter) Text(key string, data map[string]any) string {
	return f.render(key, data, key)
}

func (f *Formatter) render(key string, data map[string]any, fallback string) string {
	if f == nil || f.catalog == nil {
		return fallback
	}
	return f.catalog.RenderOr(key, data, fallback)
}

func eventKey(kind session.EventKind) string {
	switch kind {
	case session.EventAttached, session.EventReconnecting, session.EventRecoverFail, session.EventFatal:
		return "supervisor." + string(kind)
	default:
		return "session." + string(kind)
	}
}

func fallbackLine(ev session.Event) string {
	parts := []string{string(ev.Kind)}
	if ev.Move.From != "" {
		parts = append(parts, ev.Move.String())
	}
	if ev.Message != "" {
		parts = append(parts, ev.Message)
	}
	if ev.Err != nil {
		parts = append(parts, ev.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func displayColor(c string) string {
	if c == "" {
		return "?"
	}
	return strings.ToUpper(c[:1]) + c[1:]
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprint(err)
}
