package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/chesslink/pkg/chessdto"
)

const ttlCheckpoint = 24 * time.Hour

// Checkpoint is the last server-asserted state seen for a player's game. It
// is only a hint for resuming; the server state always wins.
type Checkpoint struct {
	PlayerID  string         `json:"player_id"`
	GameID    string         `json:"game_id"`
	Color     chessdto.Color `json:"color,omitempty"`
	Turn      chessdto.Color `json:"turn,omitempty"`
	Position  string         `json:"position,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Store keeps one checkpoint per player.
type Store interface {
	Save(ctx context.Context, cp Checkpoint) error
	// Load returns nil, nil when the player has no checkpoint.
	Load(ctx context.Context, playerID string) (*Checkpoint, error)
	Clear(ctx context.Context, playerID string) error
}

var ErrNoPlayer = errors.New("checkpoint: player id required")

type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client) *RedisStore { return &RedisStore{rdb: rdb, ttl: ttlCheckpoint} }

// Dial connects to REDIS_URL and pings it.
func Dial(ctx context.Context, redisURL string) (*RedisStore, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for checkpoint store")
	}
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStore(rdb), nil
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func key(playerID string) string { return "chesslink:checkpoint:" + strings.TrimSpace(playerID) }

func (s *RedisStore) Save(ctx context.Context, cp Checkpoint) error {
	if strings.TrimSpace(cp.PlayerID) == "" {
		return ErrNoPlayer
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key(cp.PlayerID), raw, s.ttl).Err()
}

func (s *RedisStore) Load(ctx context.Context, playerID string) (*Checkpoint, error) {
	raw, err := s.rdb.Get(ctx, key(playerID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint decode: %w", err)
	}
	return &cp, nil
}

func (s *RedisStore) Clear(ctx context.Context, playerID string) error {
	return s.rdb.Del(ctx, key(playerID)).Err()
}

// MemoryStore is used when no REDIS_URL is configured and in tests.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]Checkpoint
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{m: make(map[string]Checkpoint)} }

func (s *MemoryStore) Save(_ context.Context, cp Checkpoint) error {
	if strings.TrimSpace(cp.PlayerID) == "" {
		return ErrNoPlayer
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	s.m[strings.TrimSpace(cp.PlayerID)] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, playerID string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.m[strings.TrimSpace(playerID)]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (s *MemoryStore) Clear(_ context.Context, playerID string) error {
	s.mu.Lock()
	delete(s.m, strings.TrimSpace(playerID))
	s.mu.Unlock()
	return nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("redis db %q: %w", p, err)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}, nil
}
