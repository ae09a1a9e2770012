package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lp-hedge-bot/internal/app"
	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/logging"
)

func main() {
	root := &cobra.Command{
		Use:          "ops",
		Short:        "Operator commands for the LP hedge bot",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "config.yaml", "config file path")
	root.PersistentFlags().String("env", ".env", "optional env file with secrets")

	root.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print ledger, pool and lending state",
		RunE:  runStatus,
	})

	closeCmd := &cobra.Command{
		Use:   "close-all",
		Short: "Exit the position and repay all debt (stop the bot first)",
		RunE:  runCloseAll,
	}
	closeCmd.Flags().Bool("yes", false, "confirm on-chain transactions")
	root.AddCommand(closeCmd)

	root.AddCommand(&cobra.Command{
		Use:   "reset-breaker",
		Short: "Clear the circuit breaker flag so the bot resumes",
		Long:  "Clear the circuit breaker flag so the bot resumes.\n\n" + liveResetNote,
		RunE:  runResetBreaker,
	})
	root.AddCommand(&cobra.Command{
		Use:   "reset-standby",
		Short: "Clear the standby flag so the bot re-enters on the next cycle",
		Long:  "Clear the standby flag so the bot re-enters on the next cycle.\n\n" + liveResetNote,
		RunE:  runResetStandby,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

const liveResetNote = "Safe while the bot runs: ledger writes are conditional and the bot picks the change up on its next cycle."

func load(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	envFile, _ := cmd.Flags().GetString("env")
	if err := config.LoadEnv(envFile); err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logging.New(cfg.Log), nil
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, op *app.Operator) error) error {
	cfg, log, err := load(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer application.Close()
	return fn(ctx, application.Operator())
}

func withLedger(cmd *cobra.Command, fn func(ctx context.Context, op *app.Operator) error) error {
	cfg, log, err := load(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	op, closeStore, err := app.OpenLedger(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, op)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, op *app.Operator) error {
		st, err := op.Status(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), st.String())
		return nil
	})
}

func runCloseAll(cmd *cobra.Command, _ []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		return errors.New("close-all sends transactions; rerun with --yes")
	}
	return withApp(cmd, func(ctx context.Context, op *app.Operator) error {
		if err := op.CloseAll(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "position closed and debt repaid")
		return nil
	})
}

func runResetBreaker(cmd *cobra.Command, _ []string) error {
	return withLedger(cmd, func(ctx context.Context, op *app.Operator) error {
		if err := op.ResetBreaker(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "circuit breaker cleared")
		return nil
	})
}

func runResetStandby(cmd *cobra.Command, _ []string) error {
	return withLedger(cmd, func(ctx context.Context, op *app.Operator) error {
		if err := op.ResetStandby(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "standby cleared")
		return nil
	})
}
