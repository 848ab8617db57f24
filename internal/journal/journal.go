package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/park285/chesslink/pkg/chessdto"
)

// Side says whose move an entry records.
type Side string

const (
	SideLocal    Side = "local"
	SideOpponent Side = "opponent"
)

// Entry is one server-confirmed move and the position the server asserted
// after it.
type Entry struct {
	GameID     string
	PlayerID   string
	Side       Side
	Move       chessdto.Move
	FEN        string
	Attempts   int
	RecordedAt time.Time
}

// Journal is an append-only move log.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	List(ctx context.Context, gameID string) ([]Entry, error)
}

const schema = `CREATE TABLE IF NOT EXISTS chesslink_moves (
    id          BIGSERIAL PRIMARY KEY,
    game_id     TEXT NOT NULL,
    player_id   TEXT NOT NULL,
    side        TEXT NOT NULL,
    move_from   TEXT NOT NULL,
    move_to     TEXT NOT NULL,
    fen         TEXT NOT NULL,
    attempts    INTEGER NOT NULL DEFAULT 1,
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS chesslink_moves_game_idx ON chesslink_moves (game_id, id);`

type PostgresJournal struct {
	db *sql.DB
}

// Open connects to DATABASE_URL, pings it and makes sure the table exists.
func Open(ctx context.Context, databaseURL string) (*PostgresJournal, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	j := &PostgresJournal{db: db}
	if err := j.EnsureSchema(pctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func NewPostgresJournal(db *sql.DB) *PostgresJournal { return &PostgresJournal{db: db} }

func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("journal schema: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *PostgresJournal) Record(ctx context.Context, e Entry) error {
	if j == nil || j.db == nil {
		return nil
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	if e.Attempts < 1 {
		e.Attempts = 1
	}
	const q = `INSERT INTO chesslink_moves (game_id, player_id, side, move_from, move_to, fen, attempts, recorded_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := j.db.ExecContext(ctx, q,
		e.GameID, e.PlayerID, string(e.Side),
		e.Move.From, e.Move.To, e.FEN, e.Attempts, e.RecordedAt,
	)
	return err
}

func (j *PostgresJournal) List(ctx context.Context, gameID string) ([]Entry, error) {
	const q = `SELECT game_id, player_id, side, move_from, move_to, fen, attempts, recorded_at
        FROM chesslink_moves WHERE game_id = $1 ORDER BY id`
	rows, err := j.db.QueryContext(ctx, q, gameID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var side string
		if err := rows.Scan(&e.GameID, &e.PlayerID, &side, &e.Move.From, &e.Move.To, &e.FEN, &e.Attempts, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.Side = Side(side)
		out = append(out, e)
	}
	return out, rows.Err()
}

// MemoryJournal keeps entries in process; used without DATABASE_URL.
type MemoryJournal struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryJournal() *MemoryJournal { return &MemoryJournal{} }

func (j *MemoryJournal) Record(_ context.Context, e Entry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	if e.Attempts < 1 {
		e.Attempts = 1
	}
	j.mu.Lock()
	j.entries = append(j.entries, e)
	j.mu.Unlock()
	return nil
}

func (j *MemoryJournal) List(_ context.Context, gameID string) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []Entry
	for _, e := range j.entries {
		if e.GameID == gameID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Transcript renders entries as numbered move pairs, e.g. "1. e2e4 e7e5".
func Transcript(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i%2 == 0 {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%d.", i/2+1)
		}
		b.WriteByte(' ')
		b.WriteString(e.Move.String())
	}
	return b.String()
}
