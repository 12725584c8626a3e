// Package server assembles and runs the CredVault server: it wires the
// database, runs migrations, builds the services, and serves the HTTP API
// until the process receives a shutdown signal.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dsmirnov/credvault/internal/cryptox"
	"github.com/dsmirnov/credvault/internal/logging"
	"github.com/dsmirnov/credvault/internal/server/auth"
	"github.com/dsmirnov/credvault/internal/server/config"
	"github.com/dsmirnov/credvault/internal/server/httpapi"
	"github.com/dsmirnov/credvault/internal/server/password"
	"github.com/dsmirnov/credvault/internal/server/provider"
	"github.com/dsmirnov/credvault/internal/server/repositories/repomanager"
	"github.com/dsmirnov/credvault/internal/server/services"
)

type App struct {
	config *config.Config
	logger logging.Logger
	db     *sql.DB
	server *httpapi.Server
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	encryptionKey, err := cfg.EncryptionKey()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	cipher, err := cryptox.New(encryptionKey)
	if err != nil {
		db.Close()
		return nil, err
	}

	tokens := auth.NewTokenService([]byte(cfg.SigningSecret),
		cfg.AccessTokenValidityDuration, cfg.RefreshTokenValidityDuration)
	hasher := password.NewHasher(cfg.BcryptCost)
	factory := provider.NewS3Factory(cfg.S3Bucket, cfg.S3Region, cfg.S3BaseEndpoint)

	userService := services.NewUserService(db, rm, hasher, tokens)
	gate := services.NewCredentialGate(db, rm, cipher, factory)

	srv := httpapi.NewServer(cfg.EndpointAddrHTTP, logger, userService, gate, tokens)

	return &App{config: cfg, logger: logger, db: db, server: srv}, nil
}

// Run serves the HTTP API until ctx is cancelled or SIGINT/SIGTERM/SIGQUIT
// arrives, then closes the database.
func (app *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.initSignalHandler(cancel)

	app.logger.Info(ctx, "starting app")

	err := app.server.Run(ctx)

	if closeErr := app.db.Close(); closeErr != nil {
		app.logger.Error(ctx, "error closing db", "error", closeErr)
	}

	return err
}

func (app *App) initSignalHandler(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancel()
	}()
}
