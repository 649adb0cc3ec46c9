package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/AI-codelabs/leadloopr-integrations/internal/adapter/cache"
	"github.com/AI-codelabs/leadloopr-integrations/internal/adapter/provider"
	"github.com/AI-codelabs/leadloopr-integrations/internal/config"
	httptransport "github.com/AI-codelabs/leadloopr-integrations/internal/http"
	"github.com/AI-codelabs/leadloopr-integrations/internal/http/handler"
	apimiddleware "github.com/AI-codelabs/leadloopr-integrations/internal/middleware"
	"github.com/AI-codelabs/leadloopr-integrations/internal/org"
	"github.com/AI-codelabs/leadloopr-integrations/internal/repository"
	"github.com/AI-codelabs/leadloopr-integrations/internal/server"
	"github.com/AI-codelabs/leadloopr-integrations/internal/service/dispatch"
	"github.com/AI-codelabs/leadloopr-integrations/internal/service/integration"
	"github.com/AI-codelabs/leadloopr-integrations/internal/service/token"
	"github.com/AI-codelabs/leadloopr-integrations/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newCredentialRepository,
			newLeadRepository,
			newOrgRepository,
			newRedisClient,
			newConnectStateStore,
			newAdapterRegistry,
			newRateLimiter,
			org.NewResolver,
			newTokenService,
			newIntegrationService,
			newDispatchService,
			handler.NewIntegrationHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newCredentialRepository(pool *pgxpool.Pool) repository.CredentialRepository {
	return repository.NewPostgresCredentialRepo(pool)
}

func newLeadRepository(pool *pgxpool.Pool) repository.LeadRepository {
	return repository.NewPostgresLeadRepo(pool)
}

func newOrgRepository(pool *pgxpool.Pool) repository.OrgRepository {
	return repository.NewPostgresOrgRepo(pool)
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newConnectStateStore(client redis.UniversalClient) repository.ConnectStateStore {
	return cacheadapter.NewRedisStateStore(client)
}

func newAdapterRegistry(cfg config.Config) *provider.Registry {
	exchangeClient := &http.Client{Timeout: cfg.ExchangeTimeout}

	return provider.NewRegistry(
		provider.NewGoogleAds(provider.GoogleAdsConfig{
			ClientID:       cfg.GoogleClientID,
			ClientSecret:   cfg.GoogleClientSecret,
			DeveloperToken: cfg.GoogleAdsDeveloperToken,
		}, exchangeClient),
		provider.NewGoogleAnalytics(provider.GoogleAnalyticsConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
		}, exchangeClient),
		provider.NewMetaAds(provider.MetaAdsConfig{
			AppID:     cfg.MetaAppID,
			AppSecret: cfg.MetaAppSecret,
		}, exchangeClient),
		provider.NewMicrosoftAds(provider.MicrosoftAdsConfig{
			ClientID:       cfg.MicrosoftClientID,
			ClientSecret:   cfg.MicrosoftClientSecret,
			DeveloperToken: cfg.MicrosoftDeveloperToken,
		}, exchangeClient),
	)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newTokenService(creds repository.CredentialRepository, adapters *provider.Registry, cfg config.Config, logger *zap.Logger) *token.Service {
	return token.NewService(creds, adapters, cfg.TokenExpirySkew, logger)
}

func newIntegrationService(
	creds repository.CredentialRepository,
	stateStore repository.ConnectStateStore,
	adapters *provider.Registry,
	tokens *token.Service,
	node *snowflake.Node,
	cfg config.Config,
	logger *zap.Logger,
) *integration.Service {
	return integration.NewService(creds, stateStore, adapters, tokens, node, cfg.TokenExpirySkew, logger)
}

func newDispatchService(
	leads repository.LeadRepository,
	creds repository.CredentialRepository,
	tokens *token.Service,
	adapters *provider.Registry,
	cfg config.Config,
	logger *zap.Logger,
) *dispatch.Service {
	return dispatch.NewService(leads, creds, tokens, adapters, &http.Client{Timeout: cfg.DispatchTimeout}, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
