package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/chesslink/internal/clientbuilder"
	"github.com/park285/chesslink/internal/config"
	"github.com/park285/chesslink/internal/obslog"
	"github.com/park285/chesslink/internal/session"
)

var (
	// Global flags
	cfgFile  string
	playerID string

	// Set during PersistentPreRunE
	cfg *config.AppConfig
)

var rootCmd = &cobra.Command{
	Use:   "chesslink",
	Short: "Play a networked chess game from the terminal",
	Long: `chesslink logs in to a game server, creates or joins a game and then
follows the server's session channel: it shows every position the server
asserts, asks for your move when it is your turn and reconnects on its own
when the channel drops.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			if err := os.Setenv("CHESSLINK_CONFIG", cfgFile); err != nil {
				return err
			}
		}
		if playerID != "" {
			if err := os.Setenv("CHESSLINK_PLAYER_ID", playerID); err != nil {
				return err
			}
		}
		if err := obslog.InitFromEnv(); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = obslog.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "TOML config file (default $CHESSLINK_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&playerID, "player", "", "player id (default $CHESSLINK_PLAYER_ID)")

	rootCmd.AddCommand(createCmd, joinCmd, resumeCmd, leaveCmd, historyCmd)
}

// build wires dependencies against the command's stdin/stdout.
func build(cmd *cobra.Command, extra ...session.Notifier) (*clientbuilder.Deps, error) {
	term := clientbuilder.IO{In: cmd.InOrStdin(), Out: cmd.OutOrStdout()}
	return clientbuilder.New(cmd.Context(), cfg, term, obslog.L(), extra...)
}

// finish maps how a supervised session ended to the command result. Ctrl-C
// and end of input are normal exits.
func finish(gameID string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		obslog.L().Info("session_stopped", zap.String("game_id", gameID), zap.Error(err))
		return nil
	default:
		return err
	}
}

func trimArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSpace(args[0])
}
