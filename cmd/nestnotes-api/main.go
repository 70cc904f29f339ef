package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nestnotes/backend/internal/accounts"
	"github.com/nestnotes/backend/internal/auth"
	"github.com/nestnotes/backend/internal/config"
	"github.com/nestnotes/backend/internal/database"
	"github.com/nestnotes/backend/internal/family"
	"github.com/nestnotes/backend/internal/logging"
	"github.com/nestnotes/backend/internal/notes"
	"github.com/nestnotes/backend/internal/server"
	"github.com/nestnotes/backend/internal/users"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nestnotes-api",
		Short: "NestNotes family notes backend service",
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
	cmd.PersistentFlags().String("cors-origins", defaults.GetString("http.cors_origins"), "Comma separated allowed CORS origins (empty allows any)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().Int("bcrypt-cost", defaults.GetInt("auth.bcrypt_cost"), "bcrypt hashing cost")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Session token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.cors_origins", "cors-origins")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.bcrypt_cost", "bcrypt-cost")
	bindFlag(cmd, "log.level", "log-level")
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

	tokenIssuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "nestnotes-auth",
		Audience:      "nestnotes-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	familyService, err := family.NewService(family.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	usersService, err := users.NewService(users.ServiceConfig{
		Database:   db,
		IDProvider: accounts.NewUUIDProvider(),
		Hasher:     auth.NewPasswordHasher(appConfig.BcryptCost),
		Tokens:     tokenIssuer,
		Family:     familyService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		IDProvider: accounts.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	foldersService, err := notes.NewFolderService(notes.FolderServiceConfig{
		Database:   db,
		IDProvider: accounts.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Accounts:       accounts.NewStore(db),
		Users:          usersService,
		Family:         familyService,
		Notes:          notesService,
		Folders:        foldersService,
		Tokens:         tokenIssuer,
		AllowedOrigins: appConfig.CORSOrigins,
		Logger:         logger,
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
