package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chesslink/pkg/chessdto"
)

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultPingTimeout  = 3 * time.Second
	inboundBuffer       = 16
	readLimit           = 1 << 20
)

// WebSocketDialer opens session channels over websocket. The credential is
// sent as the authorization header of the upgrade request.
type WebSocketDialer struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// PingInterval <= 0 disables keepalive pings.
	PingInterval time.Duration
	Logger       *zap.Logger
}

type inbound struct {
	msg chessdto.Message
	err error
}

// WebSocket is the websocket Transport. A reader goroutine owns the read side
// and queues decoded frames in arrival order; that keeps pongs flowing while
// the engine is blocked waiting for the player's move.
type WebSocket struct {
	id     string
	url    string
	conn   *websocket.Conn
	logger *zap.Logger

	writeTimeout time.Duration
	pingInterval time.Duration
	writeM       sync.Mutex

	inbound chan inbound

	closeM     sync.Mutex
	closed     bool
	closeCause error

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func (d *WebSocketDialer) Open(ctx context.Context, endpointURL, credential string) (Transport, error) {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dialTimeout := d.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}

	hdr := http.Header{}
	if credential != "" {
		hdr.Set("authorization", credential)
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, resp, err := websocket.Dial(dialCtx, endpointURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      hdr,
	})
	if err != nil {
		ce := &ConnectionError{URL: redactQuery(endpointURL), Err: err}
		if resp != nil {
			ce.Status = resp.StatusCode
		}
		return nil, ce
	}
	conn.SetReadLimit(readLimit)

	ws := &WebSocket{
		id:           uuid.NewString(),
		url:          redactQuery(endpointURL),
		conn:         conn,
		writeTimeout: writeTimeout,
		pingInterval: d.PingInterval,
		inbound:      make(chan inbound, inboundBuffer),
		stopCh:       make(chan struct{}),
	}
	ws.logger = logger.With(zap.String("conn_id", ws.id))
	ws.rootCtx, ws.rootCancel = context.WithCancel(context.Background())

	ws.wg.Add(1)
	go ws.listen()
	if ws.pingInterval > 0 {
		ws.wg.Add(1)
		go ws.pingLoop()
	}
	ws.logger.Info("transport_open", zap.String("url", ws.url))
	return ws, nil
}

func (ws *WebSocket) ID() string { return ws.id }

func (ws *WebSocket) Receive(ctx context.Context) (chessdto.Message, error) {
	select {
	case in, ok := <-ws.inbound:
		if !ok {
			return nil, ws.closedErr()
		}
		return in.msg, in.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (ws *WebSocket) Send(ctx context.Context, req chessdto.MoveRequest) error {
	if ws.isClosed() {
		return ws.closedErr()
	}
	dctx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, ws.writeTimeout)
		defer cancel()
	}
	ws.writeM.Lock()
	err := wsjson.Write(dctx, ws.conn, &req)
	ws.writeM.Unlock()
	if err != nil {
		// a failed write tears the websocket down; report it as closure
		ws.markClosed(err)
		return fmt.Errorf("%w: write: %v", ErrConnectionClosed, err)
	}
	ws.logger.Debug("transport_send", zap.String("move", req.Move.String()))
	return nil
}

func (ws *WebSocket) Close() error {
	var err error
	ws.stopOnce.Do(func() {
		close(ws.stopCh)
		ws.markClosed(errors.New("closed by client"))
		err = ws.conn.Close(websocket.StatusNormalClosure, "close")
		ws.rootCancel()

		done := make(chan struct{})
		go func() {
			ws.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			ws.logger.Warn("transport_close_timeout")
		}
		ws.logger.Info("transport_close")
	})
	if err != nil && websocket.CloseStatus(err) == -1 && !isAlreadyClosed(err) {
		return err
	}
	return nil
}

func (ws *WebSocket) listen() {
	defer ws.wg.Done()
	defer close(ws.inbound)
	for {
		_, data, err := ws.conn.Read(ws.rootCtx)
		if err != nil {
			ws.markClosed(err)
			if !ws.isStopping() {
				ws.logger.Info("transport_closed", zap.Int("status", int(websocket.CloseStatus(err))), zap.Error(err))
			}
			return
		}
		msg, derr := chessdto.Decode(data)
		if derr != nil {
			ws.logger.Warn("transport_decode_error", zap.Error(derr))
		}
		select {
		case ws.inbound <- inbound{msg: msg, err: derr}:
		case <-ws.stopCh:
			return
		}
	}
}

func (ws *WebSocket) pingLoop() {
	defer ws.wg.Done()
	t := time.NewTicker(ws.pingInterval)
	defer t.Stop()
	consecutivePingFailures := 0
	for {
		select {
		case <-ws.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(ws.rootCtx, defaultPingTimeout)
			err := ws.conn.Ping(ctx)
			cancel()
			if err == nil {
				consecutivePingFailures = 0
				continue
			}
			if ws.isStopping() || ws.isClosed() {
				return
			}
			consecutivePingFailures++
			ws.logger.Warn("transport_ping_failed", zap.Int("consecutive", consecutivePingFailures), zap.Error(err))
			if consecutivePingFailures >= 2 {
				ws.markClosed(fmt.Errorf("ping failure: %w", err))
				_ = ws.conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (ws *WebSocket) markClosed(cause error) {
	ws.closeM.Lock()
	defer ws.closeM.Unlock()
	if ws.closed {
		return
	}
	ws.closed = true
	ws.closeCause = cause
}

func (ws *WebSocket) isClosed() bool {
	ws.closeM.Lock()
	defer ws.closeM.Unlock()
	return ws.closed
}

func (ws *WebSocket) closedErr() error {
	ws.closeM.Lock()
	cause := ws.closeCause
	ws.closeM.Unlock()
	if cause == nil {
		return ErrConnectionClosed
	}
	if code := websocket.CloseStatus(cause); code != -1 {
		return fmt.Errorf("%w: status=%d", ErrConnectionClosed, int(code))
	}
	return fmt.Errorf("%w: %v", ErrConnectionClosed, cause)
}

func (ws *WebSocket) isStopping() bool {
	select {
	case <-ws.stopCh:
		return true
	default:
		return false
	}
}

func isAlreadyClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled)
}

// redactQuery drops the query so player ids stay out of error text.
func redactQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	return u.String()
}
