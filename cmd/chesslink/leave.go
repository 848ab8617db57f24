package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/chesslink/internal/journal"
	"github.com/park285/chesslink/internal/obslog"
)

var leaveAll bool

var leaveCmd = &cobra.Command{
	Use:   "leave [gameID]",
	Short: "End one game, or every game with --all",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gameID := trimArg(args)
		if gameID == "" && !leaveAll {
			return errors.New("give a game id or --all")
		}
		d, err := build(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		ctx := cmd.Context()
		cred, err := d.Boot.Login(ctx)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		if leaveAll {
			if err := d.Client.EndAllGames(ctx, cred, cfg.PlayerID); err != nil {
				return err
			}
			d.Presenter.Say("cli.left_all", nil)
		} else {
			if err := d.Client.EndGame(ctx, cred, cfg.PlayerID, gameID); err != nil {
				return err
			}
			d.Presenter.Say("cli.left_game", map[string]any{"GameID": gameID})
		}

		cp, err := d.Checkpoints.Load(ctx, cfg.PlayerID)
		if err != nil {
			obslog.L().Warn("checkpoint_load_failed", zap.Error(err))
			return nil
		}
		if cp != nil && (leaveAll || cp.GameID == gameID) {
			if err := d.Checkpoints.Clear(ctx, cfg.PlayerID); err != nil {
				obslog.L().Warn("checkpoint_clear_failed", zap.Error(err))
			}
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <gameID>",
	Short: "Print the confirmed moves journaled for a game",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := build(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		gameID := trimArg(args)
		if !d.JournalDurable() {
			d.Presenter.Say("cli.journal_memory", nil)
		}
		entries, err := d.Journal.List(cmd.Context(), gameID)
		if err != nil {
			return fmt.Errorf("list moves: %w", err)
		}
		if len(entries) == 0 {
			d.Presenter.Say("cli.no_history", map[string]any{"GameID": gameID})
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), journal.Transcript(entries))
		fmt.Fprintln(cmd.OutOrStdout(), entries[len(entries)-1].FEN)
		return nil
	},
}

func init() {
	leaveCmd.Flags().BoolVar(&leaveAll, "all", false, "end every game of this player")
}
