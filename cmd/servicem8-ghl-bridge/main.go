package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/DanishBukhari/servicem8-ghl-integ/internal/config"
	"github.com/DanishBukhari/servicem8-ghl-integ/internal/polling"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile     string
	envFile     string
	resetLedger bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "servicem8-ghl-bridge",
		Short: "ServiceM8 and GoHighLevel synchronization bridge",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Run the contact and completion syncs once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncOnce(cmd.Context())
		},
	}
	syncCmd.Flags().BoolVar(&resetLedger, "reset-ledger", false, "Clear every processed identifier before syncing")

	setupFlags(rootCmd)
	rootCmd.AddCommand(syncCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before configuration")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (json, console)")
	cmd.PersistentFlags().String("ghl-api-generation", defaults.GetString("ghl.api_generation"), "GoHighLevel API generation (v1, v2)")
	cmd.PersistentFlags().String("tokens-file", defaults.GetString("tokens.file"), "OAuth credential file")
	cmd.PersistentFlags().String("ledger-backend", defaults.GetString("ledger.backend"), "Processed-identifier ledger backend (file, sqlite)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("ledger.database_path"), "SQLite ledger path")
	cmd.PersistentFlags().Bool("polling", defaults.GetBool("polling.enabled"), "Run the scheduled syncs")
	cmd.PersistentFlags().String("completion-trigger", defaults.GetString("completion.trigger"), "Completion trigger (payment, job)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
	bindFlag(cmd, "ghl.api_generation", "ghl-api-generation")
	bindFlag(cmd, "tokens.file", "tokens-file")
	bindFlag(cmd, "ledger.backend", "ledger-backend")
	bindFlag(cmd, "ledger.database_path", "database-path")
	bindFlag(cmd, "polling.enabled", "polling")
	bindFlag(cmd, "completion.trigger", "completion-trigger")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(signalCtx, appConfig)
	if err != nil {
		return err
	}
	defer app.Close()
	logger := app.logger

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if appConfig.Polling.Enabled {
		group.Go(func() error {
			app.scheduler.Start(groupCtx)
			return nil
		})
	} else {
		logger.Info("scheduled syncs disabled")
	}
	if app.tokens != nil {
		group.Go(func() error {
			app.tokens.Run(groupCtx, appConfig.Tokens.RefreshInterval, appConfig.Tokens.RefreshLeeway)
			return nil
		})
	}

	err = group.Wait()
	logger.Info("server stopped")
	return err
}

func runSyncOnce(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(signalCtx, appConfig)
	if err != nil {
		return err
	}
	defer app.Close()

	if resetLedger {
		if err := app.ledger.Reset(signalCtx); err != nil {
			return err
		}
		app.logger.Info("ledger reset")
	}

	var errs []error
	for _, task := range []string{polling.ContactSyncTask, polling.CompletionSyncTask} {
		if _, err := app.scheduler.Trigger(signalCtx, task); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
