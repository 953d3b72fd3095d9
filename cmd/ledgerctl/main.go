package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/richardliu001/points-ledger/internal/app"
	"github.com/richardliu001/points-ledger/internal/config"
	"github.com/richardliu001/points-ledger/internal/logger"
	"github.com/richardliu001/points-ledger/internal/model"
	httptransport "github.com/richardliu001/points-ledger/internal/transport/http"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagConfig      = "config"
	flagLogLevel    = "log-level"
	defaultConfig   = "internal/config/config.yaml"
	defaultLogLevel = "warn"
	configKeyPath   = "config"
	configKeyLevel  = "log_level"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ledgerctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Operator tooling for the points ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			viper.SetEnvPrefix("LEDGER")
			viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			viper.AutomaticEnv()
			if err := viper.BindPFlag(configKeyPath, cmd.Root().PersistentFlags().Lookup(flagConfig)); err != nil {
				return err
			}
			return viper.BindPFlag(configKeyLevel, cmd.Root().PersistentFlags().Lookup(flagLogLevel))
		},
	}
	cmd.PersistentFlags().String(flagConfig, defaultConfig, "path to the yaml config")
	cmd.PersistentFlags().String(flagLogLevel, defaultLogLevel, "log level")

	cmd.AddCommand(
		migrateCommand(),
		reconcileCommand(),
		ratesCommand(),
		setRateCommand(),
		tokenCommand(),
		settleCommand(),
		relayCommand(),
	)
	return cmd
}

// withApp loads config, opens the ledger and hands it to fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(viper.GetString(configKeyPath))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.NewLogger(viper.GetString(configKeyLevel))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCommand() *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update tables and seed configured rates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Migrate(); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				if seed {
					if err := a.SeedRates(ctx); err != nil {
						return fmt.Errorf("seed rates: %w", err)
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", true, "seed rates from ledger.seed_rates")
	return cmd
}

func reconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Compare every wallet with its ledger; exits 1 on mismatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				mismatches, err := a.Services.Admin.Reconcile(ctx)
				if err != nil {
					return err
				}
				if err := printJSON(cmd, mismatches); err != nil {
					return err
				}
				if len(mismatches) > 0 {
					return fmt.Errorf("%d wallet(s) out of balance", len(mismatches))
				}
				return nil
			})
		},
	}
}

func ratesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rates",
		Short: "List active exchange rates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				rates, err := a.Services.Rates.CurrentRates(ctx)
				if err != nil {
					return err
				}
				for _, r := range rates {
					fmt.Fprintln(cmd.OutOrStdout(), r.Display)
				}
				return nil
			})
		},
	}
}

func setRateCommand() *cobra.Command {
	var admin, reason string
	cmd := &cobra.Command{
		Use:   "set-rate CURRENCY RATE",
		Short: "Replace the active rate for a currency",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("rate: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				r, err := a.Services.Admin.SetRate(ctx, admin, model.Currency(strings.ToUpper(args[0])), rate, reason)
				if err != nil {
					return err
				}
				return printJSON(cmd, r)
			})
		},
	}
	cmd.Flags().StringVar(&admin, "admin", "", "admin id recorded on the rate")
	cmd.Flags().StringVar(&reason, "reason", "", "why the rate changes")
	_ = cmd.MarkFlagRequired("admin")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func tokenCommand() *cobra.Command {
	var role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token SUBJECT",
		Short: "Sign an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString(configKeyPath))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("auth.jwt_secret is not set")
			}
			switch role {
			case httptransport.RoleUser, httptransport.RoleService, httptransport.RoleAdmin:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			tok, err := httptransport.SignToken([]byte(cfg.Auth.JWTSecret), args[0], role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", httptransport.RoleUser, "user, service or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func settleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "settle",
		Short: "Run one settlement batch and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.SettlementWorker().ProcessBatch(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d job(s) processed\n", n)
				return nil
			})
		},
	}
}

func relayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Publish one batch of outbox events and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Relay().Flush(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "%d event(s) published\n", n)
				return err
			})
		},
	}
}
