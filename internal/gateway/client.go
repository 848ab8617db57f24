package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Client talks to the request/response side of the game server.
type Client struct {
	baseURL string
	http    *fasthttp.Client
	logger  *zap.Logger

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDial replaces the TCP dialer; tests use it with an in-memory listener.
func WithDial(dial fasthttp.DialFunc) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		logger:         zap.NewNop(),
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges player credentials for a bearer token.
func (c *Client) Login(ctx context.Context, playerID, password string) (Credential, error) {
	q := url.Values{}
	q.Set("playerID", playerID)
	q.Set("password", password)
	status, body, err := c.do(ctx, fasthttp.MethodGet, "/player/login", q, "", true)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	if status != fasthttp.StatusOK {
		return "", &APIError{Op: "login", Status: status, Body: errorText(body)}
	}
	var resp loginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("login: decode response: %w", err)
	}
	if strings.TrimSpace(resp.Token) == "" {
		return "", ErrEmptyToken
	}
	c.logger.Info("gateway_login", zap.String("player_id", playerID))
	return Credential(resp.Token), nil
}

// CreateGame asks the server for a new game and returns its id.
func (c *Client) CreateGame(ctx context.Context, cred Credential, playerID string, opts CreateOptions) (string, error) {
	q := url.Values{}
	q.Set("playerID", playerID)
	q.Set("ai", strconv.FormatBool(opts.AI))
	if opts.AI {
		if opts.Depth > 0 {
			q.Set("depth", strconv.Itoa(opts.Depth))
		} else if opts.Difficulty != "" {
			q.Set("difficulty", string(opts.Difficulty))
		}
	}
	status, body, err := c.do(ctx, fasthttp.MethodPost, "/create", q, cred, false)
	if err != nil {
		return "", fmt.Errorf("create game: %w", err)
	}
	if status != fasthttp.StatusOK {
		return "", &APIError{Op: "create game", Status: status, Body: errorText(body)}
	}
	var resp createResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("create game: decode response: %w", err)
	}
	if strings.TrimSpace(resp.GameID) == "" {
		return "", ErrEmptyGameID
	}
	c.logger.Info("gateway_create_game", zap.String("player_id", playerID), zap.String("game_id", resp.GameID), zap.Bool("ai", opts.AI))
	return resp.GameID, nil
}

// JoinGame registers the player in gameID. A 403 means the player is already
// part of the game, which is how a reconnect looks from the server side.
func (c *Client) JoinGame(ctx context.Context, cred Credential, playerID, gameID string) (JoinResult, error) {
	if strings.TrimSpace(gameID) == "" {
		return JoinResult{}, ErrNoGameID
	}
	q := url.Values{}
	q.Set("playerID", playerID)
	q.Set("gameID", gameID)
	status, body, err := c.do(ctx, fasthttp.MethodPost, "/player/join-game", q, cred, false)
	if err != nil {
		return JoinResult{}, fmt.Errorf("join game: %w", err)
	}
	switch status {
	case fasthttp.StatusOK:
		c.logger.Info("gateway_join_game", zap.String("player_id", playerID), zap.String("game_id", gameID))
		return JoinResult{GameID: gameID}, nil
	case fasthttp.StatusForbidden:
		c.logger.Info("gateway_join_game", zap.String("player_id", playerID), zap.String("game_id", gameID), zap.Bool("already_joined", true))
		return JoinResult{GameID: gameID, AlreadyJoined: true}, nil
	default:
		return JoinResult{}, &APIError{Op: "join game", Status: status, Body: errorText(body)}
	}
}

// EndGame leaves gameID, ending the session for this player.
func (c *Client) EndGame(ctx context.Context, cred Credential, playerID, gameID string) error {
	if strings.TrimSpace(gameID) == "" {
		return ErrNoGameID
	}
	q := url.Values{}
	q.Set("playerID", playerID)
	q.Set("gameID", gameID)
	return c.expectOK(ctx, "end game", "/player/end-game", q, cred)
}

// EndAllGames leaves every game the player is part of.
func (c *Client) EndAllGames(ctx context.Context, cred Credential, playerID string) error {
	q := url.Values{}
	q.Set("playerID", playerID)
	return c.expectOK(ctx, "end all games", "/player/end-all-games", q, cred)
}

func (c *Client) expectOK(ctx context.Context, op, path string, q url.Values, cred Credential) error {
	status, body, err := c.do(ctx, fasthttp.MethodPost, path, q, cred, false)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if status != fasthttp.StatusOK {
		return &APIError{Op: op, Status: status, Body: errorText(body)}
	}
	c.logger.Info("gateway_"+strings.ReplaceAll(op, " ", "_"), zap.String("player_id", q.Get("playerID")), zap.String("game_id", q.Get("gameID")))
	return nil
}

// do performs one request. Only transport failures and retryable 5xx are
// retried, and only when retry is set.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, cred Credential, retry bool) (int, []byte, error) {
	uri := c.baseURL + path
	if len(q) > 0 {
		uri += "?" + q.Encode()
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(uri)
	req.Header.SetContentType("application/json")
	if cred != "" {
		req.Header.Set("authorization", string(cred))
	}

	attempts := 1
	if retry && c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
		} else {
			status := resp.StatusCode()
			if attempt == attempts || !shouldRetryStatus(status) {
				return status, append([]byte(nil), resp.Body()...), nil
			}
			lastErr = &APIError{Op: method + " " + path, Status: status, Body: truncate(string(resp.Body()), 512)}
		}
		if attempt == attempts {
			break
		}
		c.logger.Warn("gateway_retry", zap.String("path", path), zap.Int("attempt", attempt), zap.Error(lastErr))
		if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
			return 0, nil, lastErr
		}
		resp.Reset()
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return 0, nil, lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// errorText prefers the {"error": "..."} body the server uses for failures.
func errorText(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && strings.TrimSpace(e.Error) != "" {
		return e.Error
	}
	return truncate(string(body), 512)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
