package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nerrad567/forum-core/internal/api"
	"github.com/nerrad567/forum-core/internal/audit"
	"github.com/nerrad567/forum-core/internal/auth"
	"github.com/nerrad567/forum-core/internal/events"
	"github.com/nerrad567/forum-core/internal/infrastructure/config"
	"github.com/nerrad567/forum-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/forum-core/internal/infrastructure/logging"
	"github.com/nerrad567/forum-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/forum-core/internal/infrastructure/ratelimit"
)

func newServeCmd(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted",
		Long: `Runs the forum API. Pending migrations are applied first and an
ADMIN account is created when the user table is empty. MQTT, InfluxDB
and Redis are optional; each is skipped when disabled in the config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath())
		},
	}
}

// run is the serve logic, separated from cobra for testability.
func run(ctx context.Context, configPath string) error {
	bootLog := logging.Default()
	bootLog.Info("starting forum core", "version", version, "commit", commit, "build_date", date)

	cfg, log, err := bootstrap(configPath)
	if err != nil {
		return err
	}
	log.Info("configuration loaded", "path", configPath, "forum", cfg.Forum.ID)

	db, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	health := map[string]api.HealthChecker{"database": db}

	// Optional infrastructure. Each stays nil when disabled so the
	// interfaces below receive a true nil.
	mqttClient, err := connectMQTT(cfg.MQTT, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		health["mqtt"] = mqttClient
	}

	influxClient, err := connectInflux(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		health["influxdb"] = influxClient
	}

	rdb, err := connectRedis(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		health["redis"] = redisHealth{rdb}
	}

	// Security events: audit trail always, bus and metrics when present.
	auditRepo := audit.NewSQLiteRepository(db.DB)
	evDeps := events.Deps{Audit: auditRepo, Logger: log}
	if mqttClient != nil {
		evDeps.Bus = mqttClient
		evDeps.Topics = mqttClient.Topics()
	}
	if influxClient != nil {
		evDeps.Metrics = influxClient
	}
	dispatcher := events.New(evDeps)
	go dispatcher.Run(ctx)
	defer dispatcher.Close()

	hasher, err := auth.NewBcryptHasher(cfg.Security.Password.BcryptCost)
	if err != nil {
		return fmt.Errorf("creating password hasher: %w", err)
	}
	codec, err := auth.NewJWTCodec(auth.CodecConfig{
		Secret:   cfg.Security.JWT.Secret,
		Issuer:   cfg.Security.JWT.Issuer,
		Audience: cfg.Security.JWT.Audience,
		TTL:      cfg.Security.AccessTokenTTL(),
	})
	if err != nil {
		return fmt.Errorf("creating token codec: %w", err)
	}

	users := auth.NewUserRepository(db.DB)
	if err := seedAdmin(ctx, users, hasher, cfg.Forum.AdminEmail, log); err != nil {
		return err
	}

	sessions, err := auth.NewManager(auth.Deps{
		Users:  users,
		Tokens: auth.NewTokenRepository(db.DB),
		Hasher: hasher,
		Codec:  codec,
		Config: sessionConfig(cfg.Security),
		Events: dispatcher,
		Mailer: newLogMailer(cfg.Forum.BaseURL, log),
	})
	if err != nil {
		return fmt.Errorf("creating session manager: %w", err)
	}

	apiDeps := api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log,
		Sessions: sessions,
		Codec:    codec,
		Audit:    auditRepo,
		Health:   health,
		Version:  version,
	}
	if rdb != nil && cfg.Security.RateLimit.Enabled {
		apiDeps.Limiter = ratelimit.NewRedisLimiter(rdb, cfg.Security.RateLimit)
		log.Info("auth rate limiting enabled",
			"requests_per_minute", cfg.Security.RateLimit.RequestsPerMinute,
			"burst", cfg.Security.RateLimit.Burst,
		)
	}
	if mqttClient != nil {
		apiDeps.Presence = mqttClient
	}

	srv, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

func sessionConfig(sec config.SecurityConfig) auth.Config {
	cfg := auth.DefaultConfig()
	cfg.RefreshTokenTTL = sec.RefreshTokenTTL()
	cfg.MaxFailedLogins = sec.Lockout.MaxAttempts
	cfg.LockoutDuration = sec.LockoutDuration()
	return cfg
}

// seedAdmin creates the first ADMIN on an empty database. The generated
// password is logged exactly once.
func seedAdmin(ctx context.Context, users auth.CredentialStore, hasher auth.PasswordHasher, email string, log *logging.Logger) error {
	password, err := auth.SeedAdmin(ctx, users, hasher, email)
	if err != nil {
		return fmt.Errorf("seeding admin account: %w", err)
	}
	if password != "" {
		log.Warn("created initial admin account, change this password after first login",
			"email", email,
			"password", password,
		)
	}
	return nil
}

func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.Enabled {
		log.Info("MQTT disabled, security events and presence stay local")
		return nil, nil
	}
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client, nil
}

func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "org", cfg.Org, "bucket", cfg.Bucket)
	return client, nil
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logging.Logger) (*redis.Client, error) {
	rdb, err := ratelimit.Connect(ctx, cfg)
	if errors.Is(err, ratelimit.ErrDisabled) {
		log.Info("Redis disabled, auth endpoints are not rate limited")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}
	log.Info("Redis connected", "addr", cfg.Addr)
	return rdb, nil
}

// redisHealth adapts a Redis client to api.HealthChecker.
type redisHealth struct {
	client *redis.Client
}

func (h redisHealth) HealthCheck(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}
