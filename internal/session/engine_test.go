package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/park285/chesslink/internal/transport"
	"github.com/park285/chesslink/pkg/chessdto"
)

const (
	startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	afterE4  = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
)

type item struct {
	raw string
	err error
}

type fakeTransport struct {
	in      chan item
	mu      sync.Mutex
	sent    []chessdto.MoveRequest
	sendErr error
	onSend  func(n int, req chessdto.MoveRequest)
}

func newFake(frames ...string) *fakeTransport {
	f := &fakeTransport{in: make(chan item, 64)}
	for _, fr := range frames {
		f.push(fr)
	}
	return f
}

func (f *fakeTransport) push(raw string)  { f.in <- item{raw: raw} }
func (f *fakeTransport) fail(err error)   { f.in <- item{err: err} }
func (f *fakeTransport) hangUp()          { close(f.in) }
func (f *fakeTransport) ID() string       { return "fake" }
func (f *fakeTransport) Close() error     { return nil }

func (f *fakeTransport) Receive(ctx context.Context) (chessdto.Message, error) {
	select {
	case it, ok := <-f.in:
		if !ok {
			return nil, fmt.Errorf("%w: eof", transport.ErrConnectionClosed)
		}
		if it.err != nil {
			return nil, it.err
		}
		return chessdto.Decode([]byte(it.raw))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Send(_ context.Context, req chessdto.MoveRequest) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, req)
	n := len(f.sent)
	f.mu.Unlock()
	if f.onSend != nil {
		f.onSend(n, req)
	}
	return nil
}

func (f *fakeTransport) Sent() []chessdto.MoveRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]chessdto.MoveRequest(nil), f.sent...)
}

type scriptedInput struct {
	moves   []chessdto.Move
	prompts []Prompt
}

func (s *scriptedInput) NextMove(_ context.Context, p Prompt) (chessdto.Move, error) {
	s.prompts = append(s.prompts, p)
	if len(s.prompts) > len(s.moves) {
		return chessdto.Move{}, io.EOF
	}
	return s.moves[len(s.prompts)-1], nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		if ev.Kind == EventStateChanged {
			out = append(out, string(ev.From)+">"+string(ev.To))
		}
	}
	return out
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func gameState(color, fen, turn string) string {
	return fmt.Sprintf(`{"message_type":"game-state","color":%q,"fen":%q,"turn":%q}`, color, fen, turn)
}

func moveMsg(from, to, fen, turn string) string {
	return fmt.Sprintf(`{"message_type":"move","move":{"from":%q,"to":%q},"fen":%q,"turn":%q}`, from, to, fen, turn)
}

func confirmation(fen string) string {
	return fmt.Sprintf(`{"message_type":"confirmation","fen":%q}`, fen)
}

func errorMsg(desc string) string {
	return fmt.Sprintf(`{"message_type":"error","error":%q}`, desc)
}

func run(t *testing.T, e *Engine) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Run(ctx)
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestEngineConfirmedMove(t *testing.T) {
	tr := newFake(gameState("white", startFEN, "w"))
	tr.onSend = func(int, chessdto.MoveRequest) {
		tr.push(confirmation(afterE4))
		tr.hangUp()
	}
	in := &scriptedInput{moves: []chessdto.Move{{From: "e2", To: "e4"}}}
	rec := &recorder{}
	e := NewEngine(Identity{PlayerID: "EricC"}, "g-1", tr, in, rec, Options{})

	err := run(t, e)
	if !errors.Is(err, transport.ErrConnectionClosed) { t.Fatalf("expected closure, got %v", err) }
	if !IsRecoverable(err) { t.Fatalf("closure must be recoverable") }

	sent := tr.Sent()
	if len(sent) != 1 { t.Fatalf("expected one send, got %d", len(sent)) }
	if sent[0].PlayerID != "EricC" || sent[0].Move != (chessdto.Move{From: "e2", To: "e4"}) || sent[0].MessageType != chessdto.TypeMove {
		t.Fatalf("unexpected request: %+v", sent[0])
	}
	if in.prompts[0].Position != startFEN || in.prompts[0].Color != chessdto.White || in.prompts[0].Rejected != "" {
		t.Fatalf("unexpected prompt: %+v", in.prompts[0])
	}

	snap := e.Snapshot()
	if snap.Position != afterE4 { t.Fatalf("position = %q", snap.Position) }
	if snap.AssignedColor != chessdto.White { t.Fatalf("color = %q", snap.AssignedColor) }
	if snap.State != StateClosed { t.Fatalf("state = %q", snap.State) }

	want := []string{"connecting>active", "active>awaiting-confirmation", "awaiting-confirmation>active", "active>closed"}
	if got := rec.transitions(); !equal(got, want) { t.Fatalf("transitions = %v", got) }
	if rec.count(EventMoveConfirmed) != 1 { t.Fatalf("expected one confirmation event") }
}

func TestEngineIllegalMoveReprompts(t *testing.T) {
	tr := newFake(gameState("white", startFEN, "w"))
	tr.onSend = func(n int, _ chessdto.MoveRequest) {
		if n == 1 {
			tr.push(errorMsg("illegal move"))
			return
		}
		tr.push(confirmation(afterE4))
		tr.hangUp()
	}
	in := &scriptedInput{moves: []chessdto.Move{{From: "e2", To: "e5"}, {From: "e2", To: "e4"}}}
	rec := &recorder{}
	e := NewEngine(Identity{PlayerID: "EricC"}, "g-1", tr, in, rec, Options{})

	_ = run(t, e)

	sent := tr.Sent()
	if len(sent) != 2 || len(in.prompts) != 2 { t.Fatalf("sends=%d prompts=%d", len(sent), len(in.prompts)) }
	if sent[1].Move.To != "e4" { t.Fatalf("second send = %+v", sent[1]) }
	if in.prompts[1].Rejected != "illegal move" || in.prompts[1].Attempt != 2 { t.Fatalf("re-prompt = %+v", in.prompts[1]) }

	// the rejection must not leave awaiting-confirmation
	want := []string{"connecting>active", "active>awaiting-confirmation", "awaiting-confirmation>active", "active>closed"}
	if got := rec.transitions(); !equal(got, want) { t.Fatalf("transitions = %v", got) }
	if rec.count(EventMoveRejected) != 1 { t.Fatalf("expected one rejection event") }
	if e.Snapshot().Position != afterE4 { t.Fatalf("position = %q", e.Snapshot().Position) }
}

func TestEngineUnreadableReplyReprompts(t *testing.T) {
	tr := newFake(gameState("white", startFEN, "w"))
	tr.onSend = func(n int, _ chessdto.MoveRequest) {
		if n == 1 {
			tr.push(`{}`)
			return
		}
		tr.push(confirmation(afterE4))
		tr.hangUp()
	}
	in := &scriptedInput{moves: []chessdto.Move{{From: "e2", To: "e5"}, {From: "e2", To: "e4"}}}
	rec := &recorder{}
	e := NewEngine(Identity{PlayerID: "EricC"}, "g-1", tr, in, rec, Options{})

	err := run(t, e)
	if !errors.Is(err, transport.ErrConnectionClosed) { t.Fatalf("expected closure, got %v", err) }
	if len(tr.Sent()) != 2 || len(in.prompts) != 2 { t.Fatalf("sends=%d prompts=%d", len(tr.Sent()), len(in.prompts)) }
	if in.prompts[1].Rejected != unreadableReply || in.prompts[1].Attempt != 2 { t.Fatalf("re-prompt = %+v", in.prompts[1]) }
	if rec.count(EventProtocolFault) != 1 || rec.count(EventMoveRejected) != 1 { t.Fatalf("faults=%d rejected=%d", rec.count(EventProtocolFault), rec.count(EventMoveRejected)) }

	want := []string{"connecting>active", "active>awaiting-confirmation", "awaiting-confirmation>active", "active>closed"}
	if got := rec.transitions(); !equal(got, want) { t.Fatalf("transitions = %v", got) }
	if e.Snapshot().Position != afterE4 { t.Fatalf("position = %q", e.Snapshot().Position) }
}

func TestEngineUnreadableRepliesDoNotEscalate(t *testing.T) {
	tr := newFake(gameState("white", startFEN, "w"))
	tr.onSend = func(n int, _ chessdto.MoveRequest) {
		if n < 4 {
			tr.push(`not json`)
			return
		}
		tr.push(confirmation(afterE4))
		tr.hangUp()
	}
	moves := make([]chessdto.Move, 4)
	for i := range moves {
		moves[i] = chessdto.Move{From: "e2", To: "e4"}
	}
	e := NewEngine(Identity{PlayerID: "p"}, "g", tr, &scriptedInput{moves: moves}, nil, Options{MaxConsecutiveFaults: 2})
	err := run(t, e)
	if errors.Is(err, ErrProtocolFaults) { t.Fatalf("replies to a sent move must not escalate: %v", err) }
	if len(tr.Sent()) != 4 || e.Snapshot().Position != afterE4 { t.Fatalf("sends=%d pos=%q", len(tr.Sent()), e.Snapshot().Position) }
}

func TestEngineRejectionAfterTurnPassed(t *testing.T) {
	tr := newFake(gameState("white", startFEN, "w"))
	tr.onSend = func(n int, _ chessdto.MoveRequest) {
		if n == 1 {
			tr.push(moveMsg("e7", "e5", "after-e5", "b"))
			tr.push(errorMsg("illegal move"))
			tr.push(moveMsg("g8", "f6", "after-nf6", "w"))
			return
		}
		tr.push(confirmation("after-nc3"))
		tr.hangUp()
	}
	in := &scriptedInput{moves: []chessdto.Move{{From: "e2", To: "e4"}, {From: "b1", To: "c3"}}}
	rec := &recorder{}
	e := NewEngine(Identity{PlayerID: "p"}, "g", tr, in, rec, Options{})

	err := run(t, e)
	if !IsRecoverable(err) { t.Fatalf("session must keep running until closure, got %v", err) }
	if errors.Is(err, ErrNotMyTurn) { t.Fatalf("unexpected %v", err) }
	if rec.count(EventServerError) != 1 || rec.count(EventMoveRejected) != 0 || rec.count(EventOutOfSequence) != 1 {
		t.Fatalf("server_error=%d rejected=%d out_of_sequence=%d", rec.count(EventServerError), rec.count(EventMoveRejected), rec.count(EventOutOfSequence))
	}
	if len(in.prompts) != 2 || in.prompts[1].Position != "after-nf6" || in.prompts[1].Rejected != "" || in.prompts[1].Attempt != 1 { t.Fatalf("prompts = %+v", in.prompts) }
	want := []string{"connecting>active", "active>awaiting-confirmation", "awaiting-confirmation>active", "active>awaiting-confirmation", "awaiting-confirmation>active", "active>closed"}
	if got := rec.transitions(); !equal(got, want) { t.Fatalf("transitions = %v", got) }
	if e.Snapshot().Position != "after-nc3" { t.Fatalf("position = %q", e.Snapshot().Position) }
}

func TestEngineRejectionLoopIsUnbounded(t *testing.T) {
	tr := newFake(gameState("black", startFEN, "b"))
	tr.onSend = func(n int, _ chessdto.MoveRequest) {
		if n < 10 {
			tr.push(errorMsg("illegal move"))
			return
		}
		tr.push(confirmation("done"))
		tr.hangUp()
	}
	moves := make([]chessdto.Move, 10)
	for i := range moves {
		moves[i] = chessdto.Move{From: "a7", To: "a5"}
	}
	in := &scriptedInput{moves: moves}
	e := NewEngine(Identity{PlayerID: "p"}, "g", tr, in, nil, Options{})
	_ = run(t, e)
	if len(tr.Sent()) != 10 || e.Snapshot().Position != "done" { t.Fatalf("sends=%d pos=%q", len(tr.Sent()), e.Snapshot().Position) }
}

func TestEnginePositionIsLastServerFEN(t *testing.T) {
	tr := newFake(
		gameState("black", "fen-0", "w"),
		moveMsg("e2", "e4", "fen-1", "w"),
		moveMsg("d2", "d4", "fen-2", "w"),
		confirmation("fen-3"),
		moveMsg("c2", "c4", "fen-4", "w"),
	)
	tr.hangUp()
	in := MoveInputFunc(func(context.Context, Prompt) (chessdto.Move, error) {
		t.Fatalf("must not prompt while it is not our turn")
		return chessdto.Move{}, nil
	})
	rec := &recorder{}
	e := NewEngine(Identity{PlayerID: "p"}, "g", tr, in, rec, Options{})
	_ = run(t, e)

	if got := e.Snapshot().Position; got != "fen-4" { t.Fatalf("position = %q", got) }
	if rec.count(EventOutOfSequence) != 1 { t.Fatalf("stray confirmation must be reported") }
	if rec.count(EventOpponentMoved) != 3 { t.Fatalf("opponent moves = %d", rec.count(EventOpponentMoved)) }
}

func TestEngineSendsOnlyOnOwnTurn(t *testing.T) {
	tr := newFake(
		gameState("black", startFEN, "w"),
		moveMsg("e2", "e4", afterE4, "b"),
	)
	tr.onSend = func(n int, _ chessdto.MoveRequest) {
		tr.push(confirmation("after-e5"))
		if n == 1 {
			tr.push(moveMsg("g1", "f3", "after-nf3", "b"))
			return
		}
		tr.hangUp()
	}
	in := &scriptedInput{moves: []chessdto.Move{{From: "e7", To: "e5"}, {From: "b8", To: "c6"}}}
	e := NewEngine(Identity{PlayerID: "p"}, "g", tr, in, nil, Options{})
	_ = run(t, e)

	if len(in.prompts) != 2 { t.Fatalf("prompts = %d", len(in.prompts)) }
	if in.prompts[0].Position != afterE4 || in.prompts[1].Position != "after-nf3" { t.Fatalf("prompts = %+v", in.prompts) }
	if e.Snapshot().AssignedColor != chessdto.Black { t.Fatalf("color = %q", e.Snapshot().AssignedColor) }
}

func TestEngineKeepsAssignedColor(t *testing.T) {
	tr := newFake(
		gameState("white", "fen-0", "b"),
		gameState("black", "fen-1", "b"),
		gameState("white", "fen-2", "b"),
	)
	tr.hangUp()
	rec := &recorder{}
	e := NewEngine(Identity{PlayerID: "p"}, "g", tr, &scriptedInput{}, rec, Options{})
	_ = run(t, e)

	snap := e.Snapshot()
	if snap.AssignedColor != chessdto.White { t.Fatalf("color changed to %q", snap.AssignedColor) }
	if snap.Position != "fen-2" { t.Fatalf("position = %q", snap.Position) }
	if rec.count(EventProtocolFault) != 1 || rec.count(EventColorAssigned) != 1 { t.Fatalf("faults=%d assigned=%d", rec.count(EventProtocolFault), rec.count(EventColorAssigned)) }
}

func TestEngineIgnoresMalformedFrames(t *testing.T) {
	tr := newFake(
		`{"message_type":"game-state","color":"white"`,
		`{"message_type":"resign"}`,
		gameState("white", "fen-0", "x"),
		gameState("white", "fen-0", "b"),
	)
	tr.hangUp()
	rec := &recorder{}
	e := NewEngine(Identity{PlayerID: "p"}, "g", tr, &scriptedInput{}, rec, Options{})
	err := run(t, e)

	if !errors.Is(err, transport.ErrConnectionClosed) { t.Fatalf("expected closure, got %v", err) }
	if rec.count(EventProtocolFault) != 3 { t.Fatalf("faults = %d", rec.count(EventProtocolFault)) }
	if e.Snapshot().Position != "fen-0" { t.Fatalf("valid frame after faults must apply") }
}

func TestEngineEscalatesConsecutiveFaults(t *testing.T) {
	tr := newFake(gameState("white", "fen-0", "b"))
	for i := 0; i < 3; i++ {
		tr.push(`not json`)
	}
	e := NewEngine(Identity{PlayerID: "p"}, "g", tr, &scriptedInput{}, nil, Options{MaxConsecutiveFaults: 3})
	err := run(t, e)
	if !errors.Is(err, ErrProtocolFaults) { t.Fatalf("expected ErrProtocolFaults, got %v", err) }
	if !errors.Is(err, chessdto.ErrMalformedMessage) { t.Fatalf("cause must stay visible: %v", err) }
	if !IsRecoverable(err) { t.Fatalf("fault escalation must be recoverable") }
	if e.Snapshot().State != StateClosed { t.Fatalf("state = %q", e.Snapshot().State) }
}

func TestEngineClosureMidSend(t *testing.T) {
	tr := newFake(gameState("white", startFEN, "w"))
	tr.sendErr = fmt.Errorf("%w: write: broken pipe", transport.ErrConnectionClosed)
	rec := &recorder{}
	e := NewEngine(Identity{PlayerID: "p"}, "g", tr, &scriptedInput{moves: []chessdto.Move{{From: "e2", To: "e4"}}}, rec, Options{})
	err := run(t, e)
	if !IsRecoverable(err) { t.Fatalf("expected recoverable closure, got %v", err) }
	want := []string{"connecting>active", "active>awaiting-confirmation", "awaiting-confirmation>closed"}
	if got := rec.transitions(); !equal(got, want) { t.Fatalf("transitions = %v", got) }
}

func TestEngineInputFailureIsTerminal(t *testing.T) {
	tr := newFake(gameState("white", startFEN, "w"))
	e := NewEngine(Identity{PlayerID: "p"}, "g", tr, &scriptedInput{}, nil, Options{})
	err := run(t, e)
	if !errors.Is(err, io.EOF) { t.Fatalf("expected io.EOF, got %v", err) }
	if IsRecoverable(err) { t.Fatalf("input exhaustion must not trigger reconnect") }
}

func TestEngineServerErrorOutsideMove(t *testing.T) {
	tr := newFake(gameState("white", "fen-0", "b"), errorMsg("opponent left"))
	tr.hangUp()
	rec := &recorder{}
	e := NewEngine(Identity{PlayerID: "p"}, "g", tr, &scriptedInput{}, rec, Options{})
	_ = run(t, e)
	if rec.count(EventServerError) != 1 || rec.count(EventMoveRejected) != 0 { t.Fatalf("server error not reported") }
}

func TestEngineStopsOnContext(t *testing.T) {
	tr := newFake()
	e := NewEngine(Identity{PlayerID: "p"}, "g", tr, &scriptedInput{}, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Run(ctx)
	if !errors.Is(err, context.Canceled) || IsRecoverable(err) { t.Fatalf("got %v", err) }
}
