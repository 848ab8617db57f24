package journal

import (
	"context"
	"testing"

	"github.com/park285/chesslink/internal/session"
	"github.com/park285/chesslink/pkg/chessdto"
)

func TestMemoryJournalKeepsOrderPerGame(t *testing.T) {
	j := NewMemoryJournal()
	ctx := context.Background()
	_ = j.Record(ctx, Entry{GameID: "g-1", Side: SideLocal, Move: chessdto.Move{From: "e2", To: "e4"}, FEN: "f1"})
	_ = j.Record(ctx, Entry{GameID: "g-2", Side: SideLocal, Move: chessdto.Move{From: "d2", To: "d4"}, FEN: "x"})
	_ = j.Record(ctx, Entry{GameID: "g-1", Side: SideOpponent, Move: chessdto.Move{From: "e7", To: "e5"}, FEN: "f2"})

	got, err := j.List(ctx, "g-1")
	if err != nil { t.Fatalf("List: %v", err) }
	if len(got) != 2 || got[0].FEN != "f1" || got[1].Side != SideOpponent { t.Fatalf("entries = %+v", got) }
	if got[0].Attempts != 1 || got[0].RecordedAt.IsZero() { t.Fatalf("defaults not applied: %+v", got[0]) }
}

func TestRecorderWritesConfirmedMovesOnly(t *testing.T) {
	j := NewMemoryJournal()
	r := NewRecorder(j, nil)
	ctx := context.Background()
	gs := session.GameSession{SessionID: "g-1", LocalPlayerID: "EricC", Position: "after-e4"}

	r.Notify(ctx, session.Event{Kind: session.EventMoveSent, Session: gs, Move: chessdto.Move{From: "e2", To: "e5"}})
	r.Notify(ctx, session.Event{Kind: session.EventMoveRejected, Session: gs, Move: chessdto.Move{From: "e2", To: "e5"}})
	r.Notify(ctx, session.Event{Kind: session.EventMoveConfirmed, Session: gs, Move: chessdto.Move{From: "e2", To: "e4"}, Attempt: 2})
	gs.Position = "after-e5"
	r.Notify(ctx, session.Event{Kind: session.EventOpponentMoved, Session: gs, Move: chessdto.Move{From: "e7", To: "e5"}})

	got, _ := j.List(ctx, "g-1")
	if len(got) != 2 { t.Fatalf("entries = %+v", got) }
	if got[0].Side != SideLocal || got[0].Move.To != "e4" || got[0].Attempts != 2 || got[0].FEN != "after-e4" { t.Fatalf("local = %+v", got[0]) }
	if got[1].Side != SideOpponent || got[1].FEN != "after-e5" || got[1].PlayerID != "EricC" { t.Fatalf("opponent = %+v", got[1]) }
	if s := Transcript(got); s != "1. e2e4 e7e5" { t.Fatalf("transcript = %q", s) }
}

func TestTranscript(t *testing.T) {
	es := []Entry{
		{Move: chessdto.Move{From: "e2", To: "e4"}},
		{Move: chessdto.Move{From: "e7", To: "e5"}},
		{Move: chessdto.Move{From: "g1", To: "f3"}},
	}
	if s := Transcript(es); s != "1. e2e4 e7e5 2. g1f3" { t.Fatalf("transcript = %q", s) }
	if Transcript(nil) != "" { t.Fatalf("empty transcript") }
}

func TestOpenRequiresURL(t *testing.T) {
	if _, err := Open(context.Background(), " "); err == nil { t.Fatalf("expected error") }
	var nilJournal *PostgresJournal
	if err := nilJournal.Record(context.Background(), Entry{}); err != nil { t.Fatalf("nil journal must be a no-op: %v", err) }
}
