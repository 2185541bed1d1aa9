package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/brightlabs/schoolsync/internal/auth"
	"github.com/brightlabs/schoolsync/internal/collab"
	"github.com/brightlabs/schoolsync/internal/config"
	"github.com/brightlabs/schoolsync/internal/database"
	"github.com/brightlabs/schoolsync/internal/documents"
	"github.com/brightlabs/schoolsync/internal/identity"
	"github.com/brightlabs/schoolsync/internal/logging"
	"github.com/brightlabs/schoolsync/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "schoolsync-api",
		Short: "SchoolSync admin backend service",
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
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().Int("lock-ttl-seconds", defaults.GetInt("collab.lock_ttl_seconds"), "Document lock TTL in seconds")
	cmd.PersistentFlags().Int("reaper-interval-seconds", defaults.GetInt("collab.reaper_interval_seconds"), "Expired lock sweep interval in seconds")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("collab.redis_address"), "Redis address for the lock store (empty for in-memory)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Access token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "collab.lock_ttl_seconds", "lock-ttl-seconds")
	bindFlag(cmd, "collab.reaper_interval_seconds", "reaper-interval-seconds")
	bindFlag(cmd, "collab.redis_address", "redis-address")
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

	tokenIssuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "schoolsync-auth",
		Audience:      "schoolsync-api",
		TokenTTL:      appConfig.TokenTTL,
	})

	identityService, err := identity.NewService(identity.ServiceConfig{Database: db})
	if err != nil {
		return err
	}

	documentsService, err := documents.NewService(documents.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := collab.NewMetrics()
	metrics.Register(registry)

	var lockStore collab.LockStore
	if appConfig.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddress})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		defer redisClient.Close()
		lockStore = collab.NewRedisLockStore(redisClient)
		logger.Info("lock store backed by redis", zap.String("address", appConfig.RedisAddress))
	} else {
		lockStore = collab.NewMemoryLockStore()
	}

	dispatcher := server.NewCollabDispatcher()

	lockManager, err := collab.NewLockManager(collab.LockManagerConfig{
		Store:          lockStore,
		Broadcaster:    dispatcher,
		TTL:            appConfig.LockTTL,
		ReaperInterval: appConfig.ReaperInterval,
		Logger:         logger,
		Metrics:        metrics,
	})
	if err != nil {
		return err
	}

	presenceManager := collab.NewPresenceManager(collab.PresenceManagerConfig{
		Broadcaster: dispatcher,
		Logger:      logger,
		Metrics:     metrics,
	})

	gateway, err := server.NewGateway(server.GatewayConfig{
		Locks:      lockManager,
		Presence:   presenceManager,
		Dispatcher: dispatcher,
		Tokens:     tokenIssuer,
		Principals: identityService,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:    tokenIssuer,
		Identity:  identityService,
		Documents: documentsService,
		Locks:     lockManager,
		Presence:  presenceManager,
		Gateway:   gateway,
		Registry:  registry,
		Logger:    logger,
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

	go lockManager.RunReaper(signalCtx)

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
