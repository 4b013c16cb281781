package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-seat-hold/internal/auth"
	"github.com/iliyamo/cinema-seat-hold/internal/config"
	"github.com/iliyamo/cinema-seat-hold/internal/database"
	"github.com/iliyamo/cinema-seat-hold/internal/logging"
)

// app is shared by every subcommand once the root pre-run has loaded it.
type app struct {
	envFile string
	cfg     config.Config
	logger  *zap.Logger
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "seathold: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "seathold",
		Short:         "Seat hold and reservation server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.envFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Env, cfg.LogLevel)
			if err != nil {
				return err
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file read before the environment (ignored if missing)")

	root.AddCommand(newServeCommand(a), newSweepCommand(a), newMigrateCommand(a), newTokenCommand(a))
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func newMigrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create tables and indexes if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()
			db, err := database.Open(a.cfg.DB)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := database.Migrate(ctx, db, a.cfg.DB.Driver); err != nil {
				return err
			}
			a.logger.Info("schema up to date", zap.String("driver", a.cfg.DB.Driver))
			return nil
		},
	}
}

func newTokenCommand(a *app) *cobra.Command {
	var (
		userID string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			if role != auth.RoleAdmin && role != auth.RoleCustomer {
				return fmt.Errorf("--role must be %s or %s", auth.RoleAdmin, auth.RoleCustomer)
			}
			tok, err := auth.NewAccessToken(a.cfg.JWTSecret, userID, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id placed in the sub claim")
	cmd.Flags().StringVar(&role, "role", auth.RoleCustomer, "ADMIN or CUSTOMER")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
