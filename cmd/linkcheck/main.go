package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/park285/chesslink/internal/config"
	"github.com/park285/chesslink/internal/gateway"
	"github.com/park285/chesslink/internal/transport"
)

// linkcheck logs in and, when CHESSLINK_CHECK_GAME is set, joins that game,
// opens the session channel and prints the first message the server sends.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	gameID := os.Getenv("CHESSLINK_CHECK_GAME")

	client := gateway.NewClient(cfg.BaseURL, gateway.WithTimeout(8*time.Second))
	boot := gateway.NewBootstrapper(client, cfg.PlayerID, cfg.Password, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cred, err := boot.Login(ctx)
	if err != nil {
		log.Fatalf("login error: %v", err)
	}
	log.Printf("login ok: player=%s credential=%s", cfg.PlayerID, cred)

	if gameID == "" {
		log.Println("CHESSLINK_CHECK_GAME not set; skipping channel check")
		return
	}

	jctx, jcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer jcancel()
	res, err := client.JoinGame(jctx, cred, cfg.PlayerID, gameID)
	if err != nil {
		log.Fatalf("join error: %v", err)
	}
	log.Printf("join ok: game=%s already_joined=%v", res.GameID, res.AlreadyJoined)

	endpoint, err := transport.EndpointURL(cfg.WSURL, res.GameID, cfg.PlayerID)
	if err != nil {
		log.Fatalf("endpoint error: %v", err)
	}
	dialer := &transport.WebSocketDialer{DialTimeout: cfg.DialTimeout}
	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	tr, err := dialer.Open(cctx, endpoint, string(cred))
	if err != nil {
		log.Printf("channel connect error: %v", err)
		return
	}
	defer tr.Close()

	// Observe for a short window
	msg, err := tr.Receive(cctx)
	if err != nil {
		log.Printf("channel receive error: %v", err)
		return
	}
	fmt.Printf("channel msg type=%s %+v\n", msg.Type(), msg)
}
