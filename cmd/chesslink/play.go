package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/park285/chesslink/internal/gateway"
	"github.com/park285/chesslink/internal/session"
)

var (
	createAI         bool
	createDifficulty string
	createDepth      int
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new game and play it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := gateway.CreateOptions{AI: createAI, Depth: createDepth}
		if createDifficulty != "" {
			d, err := gateway.ParseDifficulty(createDifficulty)
			if err != nil {
				return err
			}
			opts.Difficulty = d
		}
		if !opts.AI && (opts.Difficulty != "" || opts.Depth > 0) {
			return errors.New("--difficulty and --depth need --ai")
		}
		if opts.Depth < 0 {
			return fmt.Errorf("--depth must be positive, got %d", opts.Depth)
		}

		announced := false
		var say func(string, map[string]any)
		created := session.NotifierFunc(func(_ context.Context, ev session.Event) {
			if ev.Kind != session.EventAttached || announced || say == nil {
				return
			}
			announced = true
			say("cli.game_created", map[string]any{"GameID": ev.Session.SessionID})
		})

		d, err := build(cmd, created)
		if err != nil {
			return err
		}
		defer d.Close()
		say = d.Presenter.Say

		err = d.Supervisor.Run(cmd.Context(), gateway.Intent{Mode: gateway.ModeCreate, Create: opts})
		return finish(d.Supervisor.GameID(), err)
	},
}

var joinCmd = &cobra.Command{
	Use:   "join <gameID>",
	Short: "Join an existing game and play it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gameID := trimArg(args)
		if gameID == "" {
			return gateway.ErrNoGameID
		}
		d, err := build(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		err = d.Supervisor.Run(cmd.Context(), gateway.Rejoin(gameID))
		return finish(gameID, err)
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Rejoin the last game this player was in",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := build(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		if !d.CheckpointsDurable() {
			d.Presenter.Say("cli.checkpoint_memory", nil)
		}
		cp, err := d.Checkpoints.Load(cmd.Context(), cfg.PlayerID)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if cp == nil || cp.GameID == "" {
			d.Presenter.Say("cli.no_checkpoint", map[string]any{"PlayerID": cfg.PlayerID})
			return nil
		}
		d.Presenter.Say("cli.resuming", map[string]any{"GameID": cp.GameID})

		err = d.Supervisor.Run(cmd.Context(), gateway.Rejoin(cp.GameID))
		return finish(cp.GameID, err)
	},
}

func init() {
	createCmd.Flags().BoolVar(&createAI, "ai", false, "play against the server AI")
	createCmd.Flags().StringVar(&createDifficulty, "difficulty", "", "AI difficulty: easy, medium or hard")
	createCmd.Flags().IntVar(&createDepth, "depth", 0, "AI search depth (overrides --difficulty)")
	createCmd.MarkFlagsMutuallyExclusive("difficulty", "depth")
}
