package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/chesslink/internal/gateway"
	"github.com/park285/chesslink/internal/session"
	"github.com/park285/chesslink/internal/transport"
	"github.com/park285/chesslink/pkg/chessdto"
)

type scriptTransport struct {
	id     string
	in     chan string
	closed atomic.Bool
}

// newScript queues frames; hangUp closes the channel once they are consumed.
func newScript(id string, hangUp bool, frames ...string) *scriptTransport {
	st := &scriptTransport{id: id, in: make(chan string, len(frames)+1)}
	for _, f := range frames {
		st.in <- f
	}
	if hangUp {
		close(st.in)
	}
	return st
}

func (st *scriptTransport) ID() string { return st.id }
func (st *scriptTransport) Close() error { st.closed.Store(true); return nil }
func (st *scriptTransport) Send(context.Context, chessdto.MoveRequest) error { return nil }

func (st *scriptTransport) Receive(ctx context.Context) (chessdto.Message, error) {
	select {
	case raw, ok := <-st.in:
		if !ok {
			return nil, fmt.Errorf("%w: hang up", transport.ErrConnectionClosed)
		}
		return chessdto.Decode([]byte(raw))
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeDialer struct {
	mu         sync.Mutex
	queue      []*scriptTransport
	opened     []*scriptTransport
	endpoints  []string
	creds      []string
	violations int
}

func (d *fakeDialer) Open(_ context.Context, endpoint, cred string) (transport.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, prev := range d.opened {
		if !prev.closed.Load() {
			d.violations++
		}
	}
	if len(d.queue) == 0 {
		return nil, &transport.ConnectionError{URL: endpoint, Err: errors.New("no more scripts")}
	}
	st := d.queue[0]
	d.queue = d.queue[1:]
	d.opened = append(d.opened, st)
	d.endpoints = append(d.endpoints, endpoint)
	d.creds = append(d.creds, cred)
	return st, nil
}

type fakeBoot struct {
	mu      sync.Mutex
	errs    map[int]error
	failAll error
	intents []gateway.Intent
}

func (b *fakeBoot) PlayerID() string { return "EricC" }

func (b *fakeBoot) Bootstrap(_ context.Context, in gateway.Intent) (gateway.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.intents = append(b.intents, in)
	n := len(b.intents)
	if err := b.errs[n]; err != nil {
		return gateway.Session{}, err
	}
	if b.failAll != nil && n > 1 {
		return gateway.Session{}, b.failAll
	}
	id := in.GameID
	if in.Mode == gateway.ModeCreate {
		id = "g-42"
	}
	return gateway.Session{Credential: "tok-123", GameID: id, Created: in.Mode == gateway.ModeCreate}, nil
}

func (b *fakeBoot) calls() []gateway.Intent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]gateway.Intent(nil), b.intents...)
}

type events struct {
	mu   sync.Mutex
	list []session.Event
	stop func(session.Event) bool
	done context.CancelFunc
}

func (e *events) Notify(_ context.Context, ev session.Event) {
	e.mu.Lock()
	e.list = append(e.list, ev)
	e.mu.Unlock()
	if e.stop != nil && e.stop(ev) {
		e.done()
	}
}

func (e *events) of(kind session.EventKind) []session.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []session.Event
	for _, ev := range e.list {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func gs(fen string) string {
	return fmt.Sprintf(`{"message_type":"game-state","color":"white","fen":%q,"turn":"b"}`, fen)
}

func activeAt(fen string) func(session.Event) bool {
	return func(ev session.Event) bool {
		return ev.Kind == session.EventStateChanged && ev.To == session.StateActive && ev.Session.Position == fen
	}
}

func testConfig() Config {
	return Config{WSURL: "ws://chess.test", Backoff: BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1}}
}

func newHarness(t *testing.T, cfg Config, boot *fakeBoot, d *fakeDialer, stop func(session.Event) bool) (*Supervisor, *events, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	ev := &events{stop: stop, done: cancel}
	input := session.MoveInputFunc(func(context.Context, session.Prompt) (chessdto.Move, error) { return chessdto.Move{}, io.EOF })
	return New(cfg, boot, d, input, ev, nil), ev, ctx
}

func TestRunRecoversToActive(t *testing.T) {
	boot := &fakeBoot{}
	d := &fakeDialer{queue: []*scriptTransport{
		newScript("t1", true, gs("fen-1")),
		newScript("t2", false, gs("fen-2")),
	}}
	sup, ev, ctx := newHarness(t, testConfig(), boot, d, activeAt("fen-2"))

	err := sup.Run(ctx, gateway.Intent{Mode: gateway.ModeCreate})
	if !errors.Is(err, context.Canceled) { t.Fatalf("expected cancellation after recovery, got %v", err) }

	calls := boot.calls()
	if len(calls) != 2 || calls[0].Mode != gateway.ModeCreate || calls[1].Mode != gateway.ModeJoin || calls[1].GameID != "g-42" {
		t.Fatalf("bootstrap calls = %+v", calls)
	}
	if d.violations != 0 { t.Fatalf("a new transport was opened before the old one closed") }
	for i, ep := range d.endpoints {
		if !strings.Contains(ep, "gameID=g-42") || !strings.Contains(ep, "playerID=EricC") { t.Fatalf("endpoint %d = %q", i, ep) }
		if d.creds[i] != "tok-123" { t.Fatalf("credential %d = %q", i, d.creds[i]) }
	}
	if !d.opened[0].closed.Load() || !d.opened[1].closed.Load() { t.Fatalf("transports must be closed") }
	if got := len(ev.of(session.EventAttached)); got != 2 { t.Fatalf("attached events = %d", got) }
	if sup.GameID() != "g-42" { t.Fatalf("game id = %q", sup.GameID()) }
}

func TestRecoverRetriesUntilBootstrapSucceeds(t *testing.T) {
	unavailable := &gateway.APIError{Op: "login", Status: 503}
	boot := &fakeBoot{errs: map[int]error{2: unavailable, 3: unavailable}}
	d := &fakeDialer{queue: []*scriptTransport{
		newScript("t1", true),
		newScript("t2", false, gs("fen-2")),
	}}
	sup, ev, ctx := newHarness(t, testConfig(), boot, d, activeAt("fen-2"))

	if err := sup.Run(ctx, gateway.Intent{Mode: gateway.ModeCreate}); !errors.Is(err, context.Canceled) { t.Fatalf("got %v", err) }
	if got := len(ev.of(session.EventRecoverFail)); got != 2 { t.Fatalf("failed attempts = %d", got) }
	attached := ev.of(session.EventAttached)
	if len(attached) != 2 || attached[1].Attempt != 3 { t.Fatalf("attached = %+v", attached) }
	if len(boot.calls()) != 4 { t.Fatalf("bootstrap calls = %d", len(boot.calls())) }
}

func TestRecoverGivesUpAfterMaxAttempts(t *testing.T) {
	boot := &fakeBoot{failAll: &gateway.APIError{Op: "login", Status: 503}}
	d := &fakeDialer{queue: []*scriptTransport{newScript("t1", true, gs("fen-1"))}}
	cfg := testConfig()
	cfg.MaxAttempts = 3
	sup, ev, ctx := newHarness(t, cfg, boot, d, nil)

	err := sup.Run(ctx, gateway.Intent{Mode: gateway.ModeCreate})
	var fatal *FatalBootstrapError
	if !errors.As(err, &fatal) { t.Fatalf("expected FatalBootstrapError, got %v", err) }
	if fatal.Attempts != 3 || fatal.GameID != "g-42" { t.Fatalf("fatal = %+v", fatal) }
	if gateway.StatusOf(err) != 503 { t.Fatalf("cause must stay visible: %v", err) }
	if len(boot.calls()) != 4 { t.Fatalf("bootstrap calls = %d", len(boot.calls())) }
	if len(ev.of(session.EventFatal)) != 1 { t.Fatalf("fatal must be reported") }
}

func TestRecoverStopsOnPermanentRejection(t *testing.T) {
	boot := &fakeBoot{failAll: &gateway.APIError{Op: "join game", Status: 404, Body: "game not found"}}
	d := &fakeDialer{queue: []*scriptTransport{newScript("t1", true, gs("fen-1"))}}
	sup, _, ctx := newHarness(t, testConfig(), boot, d, nil)

	err := sup.Run(ctx, gateway.Intent{Mode: gateway.ModeCreate})
	var fatal *FatalBootstrapError
	if !errors.As(err, &fatal) || fatal.Attempts != 1 { t.Fatalf("expected immediate fatal, got %v", err) }
}

func TestStartDoesNotRetry(t *testing.T) {
	boot := &fakeBoot{errs: map[int]error{1: &gateway.APIError{Op: "login", Status: 503}}}
	d := &fakeDialer{}
	sup, _, ctx := newHarness(t, testConfig(), boot, d, nil)

	err := sup.Run(ctx, gateway.Intent{Mode: gateway.ModeJoin, GameID: "g-1"})
	if gateway.StatusOf(err) != 503 { t.Fatalf("expected bootstrap error, got %v", err) }
	if len(boot.calls()) != 1 || len(d.opened) != 0 { t.Fatalf("calls=%d opened=%d", len(boot.calls()), len(d.opened)) }
}

func TestRunReturnsInputFailure(t *testing.T) {
	boot := &fakeBoot{}
	d := &fakeDialer{queue: []*scriptTransport{
		newScript("t1", false, `{"message_type":"game-state","color":"white","fen":"start","turn":"w"}`),
	}}
	sup, _, ctx := newHarness(t, testConfig(), boot, d, nil)

	err := sup.Run(ctx, gateway.Intent{Mode: gateway.ModeCreate})
	if !errors.Is(err, io.EOF) { t.Fatalf("expected input EOF, got %v", err) }
	if len(boot.calls()) != 1 { t.Fatalf("input failure must not reconnect") }
	if !d.opened[0].closed.Load() { t.Fatalf("transport must be closed") }
}

func TestAttemptCounterResetsAfterAttach(t *testing.T) {
	boot := &fakeBoot{}
	d := &fakeDialer{queue: []*scriptTransport{
		newScript("t1", true, gs("fen-1")),
		newScript("t2", true, gs("fen-2")),
		newScript("t3", false, gs("fen-3")),
	}}
	sup, ev, ctx := newHarness(t, testConfig(), boot, d, activeAt("fen-3"))

	_ = sup.Run(ctx, gateway.Intent{Mode: gateway.ModeCreate})
	waits := ev.of(session.EventReconnecting)
	if len(waits) != 2 || waits[0].Attempt != 1 || waits[1].Attempt != 1 { t.Fatalf("reconnect attempts = %+v", waits) }
}

func TestRecoverWithoutGame(t *testing.T) {
	sup, _, ctx := newHarness(t, testConfig(), &fakeBoot{}, &fakeDialer{}, nil)
	if _, err := sup.Recover(ctx); err == nil { t.Fatalf("expected error before Start") }
}

func TestNextBackoffDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := NextBackoffDelay(cfg, i+1, nil); got != w { t.Fatalf("attempt %d: got %v want %v", i+1, got, w) }
	}

	fixed := BackoffConfig{InitialDelay: 5 * time.Second, Multiplier: 1}
	if NextBackoffDelay(fixed, 7, nil) != 5*time.Second { t.Fatalf("multiplier 1 must give a fixed delay") }

	jit := BackoffConfig{InitialDelay: time.Second, Multiplier: 1, Jitter: true}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		d := NextBackoffDelay(jit, 1, rng)
		if d < 500*time.Millisecond || d > 1500*time.Millisecond { t.Fatalf("jittered delay out of range: %v", d) }
	}
	if NextBackoffDelay(BackoffConfig{}, 3, nil) != 0 { t.Fatalf("zero config must not wait") }
}

func TestNextBackoffDelayStaysInRange(t *testing.T) {
	uncapped := BackoffConfig{InitialDelay: 5 * time.Second, Multiplier: 2}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 2000; attempt++ {
		d := NextBackoffDelay(uncapped, attempt, nil)
		if d <= 0 || d < prev { t.Fatalf("attempt %d: delay %v after %v", attempt, d, prev) }
		prev = d
	}
	if prev != time.Duration(math.MaxInt64) { t.Fatalf("uncapped delay must saturate, got %v", prev) }

	capped := BackoffConfig{InitialDelay: time.Second, Multiplier: 2, MaxDelay: 10 * time.Second, Jitter: true}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		if d := NextBackoffDelay(capped, 10, rng); d > 10*time.Second { t.Fatalf("jitter pushed delay past MaxDelay: %v", d) }
	}
}
