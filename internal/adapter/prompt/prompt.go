package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/park285/chesslink/internal/msgcat"
	"github.com/park285/chesslink/internal/session"
	"github.com/park285/chesslink/pkg/chessdto"
)

// Terminal is a session.MoveInput that reads one move per line. A line holds
// two squares, "e2 e4", "e2-e4" or "e2e4". Square contents are passed through
// as typed; the server decides whether they mean anything.
type Terminal struct {
	out     io.Writer
	catalog *msgcat.Catalog

	once  sync.Once
	in    io.Reader
	lines chan line
}

type line struct {
	text string
	err  error
}

var _ session.MoveInput = (*Terminal)(nil)

func NewTerminal(in io.Reader, out io.Writer, catalog *msgcat.Catalog) *Terminal {
	return &Terminal{in: in, out: out, catalog: catalog}
}

// NextMove prints a prompt and blocks for a line. End of input is returned as
// io.EOF so the caller can stop the session.
func (t *Terminal) NextMove(ctx context.Context, p session.Prompt) (chessdto.Move, error) {
	t.once.Do(t.start)

	key := "prompt.your_turn"
	if p.Rejected != "" {
		key = "prompt.retry"
	}
	t.write(key, map[string]any{"Color": p.Color.String()}, "Your move: ")

	for {
		select {
		case <-ctx.Done():
			return chessdto.Move{}, ctx.Err()
		case l, ok := <-t.lines:
			if !ok {
				return chessdto.Move{}, io.EOF
			}
			if l.err != nil {
				return chessdto.Move{}, l.err
			}
			if mv, ok := ParseMove(l.text); ok {
				return mv, nil
			}
			if strings.TrimSpace(l.text) == "" {
				t.write(key, map[string]any{"Color": p.Color.String()}, "Your move: ")
				continue
			}
			t.write("prompt.invalid", nil, "Enter two squares, like e2 e4.")
			fmt.Fprintln(t.out)
			t.write(key, map[string]any{"Color": p.Color.String()}, "Your move: ")
		}
	}
}

// start runs the reader once; lines that arrive while no prompt is open are
// kept for the next one.
func (t *Terminal) start() {
	t.lines = make(chan line, 1)
	go func() {
		defer close(t.lines)
		sc := bufio.NewScanner(t.in)
		for sc.Scan() {
			t.lines <- line{text: sc.Text()}
		}
		if err := sc.Err(); err != nil {
			t.lines <- line{err: fmt.Errorf("read move: %w", err)}
		}
	}()
}

func (t *Terminal) write(key string, data map[string]any, fallback string) {
	if t.out == nil {
		return
	}
	s := fallback
	if t.catalog != nil {
		s = t.catalog.RenderOr(key, data, fallback)
	}
	_, _ = io.WriteString(t.out, s)
}

// ParseMove splits a typed move into its two squares.
func ParseMove(s string) (chessdto.Move, bool) {
	s = strings.TrimSpace(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '-' || r == ','
	})
	switch {
	case len(fields) == 2:
		return chessdto.Move{From: fields[0], To: fields[1]}, true
	case len(fields) == 1 && len(fields[0]) == 4:
		return chessdto.Move{From: fields[0][:2], To: fields[0][2:]}, true
	default:
		return chessdto.Move{}, false
	}
}
