package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LexFlowLabs/lexflow/backend/internal/accounts"
	"github.com/LexFlowLabs/lexflow/backend/internal/auth"
	"github.com/LexFlowLabs/lexflow/backend/internal/config"
	"github.com/LexFlowLabs/lexflow/backend/internal/database"
	"github.com/LexFlowLabs/lexflow/backend/internal/history"
	"github.com/LexFlowLabs/lexflow/backend/internal/logging"
	"github.com/LexFlowLabs/lexflow/backend/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lexflow-api",
		Short: "LexFlow legal-document assistant backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("bcrypt-cost", defaults.GetInt("auth.bcrypt_cost"), "bcrypt cost factor for password hashing")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Owner token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Owner token signing secret (empty trusts client-supplied owners)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.bcrypt_cost", "bcrypt-cost")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	accountsService, err := accounts.NewService(accounts.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: history.NewUUIDProvider(),
		BcryptCost: appConfig.BcryptCost,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	summaryStore, err := history.NewStore[history.SummaryRecord](history.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: history.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	qaStore, err := history.NewStore[history.QARecord](history.StoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: history.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	var ownerTokens server.OwnerTokenVerifier
	if appConfig.OwnerTokensEnabled() {
		ownerTokens = auth.NewOwnerTokenIssuer(auth.OwnerTokenConfig{
			SigningSecret: []byte(appConfig.OwnerTokenSecret),
			TokenTTL:      appConfig.OwnerTokenTTL,
		})
		logger.Info("owner token verification enabled")
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Accounts:    accountsService,
		Summaries:   summaryStore,
		QA:          qaStore,
		OwnerTokens: ownerTokens,
		Events:      server.NewHistoryDispatcher(),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
