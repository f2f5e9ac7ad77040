// SmartRack Core - authentication and token lifecycle service.
//
// This is the main entry point for the SmartRack Core API. It serves
// user and gateway authentication, refresh token rotation, the password
// reset flow and the gateway IoT endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	_ "github.com/nerrad567/smartrack-core/migrations"

	"github.com/nerrad567/smartrack-core/internal/api"
	"github.com/nerrad567/smartrack-core/internal/audit"
	"github.com/nerrad567/smartrack-core/internal/auth"
	"github.com/nerrad567/smartrack-core/internal/infrastructure/config"
	"github.com/nerrad567/smartrack-core/internal/infrastructure/database"
	"github.com/nerrad567/smartrack-core/internal/infrastructure/email"
	"github.com/nerrad567/smartrack-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/smartrack-core/internal/infrastructure/logging"
	"github.com/nerrad567/smartrack-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/smartrack-core/internal/infrastructure/ratelimit"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	rateLimitPrefix   = "smartrack:ratelimit:"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, blocks until ctx is cancelled and tears
// everything down in reverse order.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting SmartRack Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Secrets usually come from .env in development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	limiter, closeLimiter, err := buildLimiter(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLimiter()

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	sender, senderCloser, err := email.NewSender(cfg.Email, log.Logger)
	if err != nil {
		return fmt.Errorf("creating email sender: %w", err)
	}
	defer func() {
		if closeErr := senderCloser.Close(); closeErr != nil {
			log.Error("error closing email transport", "error", closeErr)
		}
	}()
	mailer, err := email.NewMailer(sender, cfg.Email.From)
	if err != nil {
		return fmt.Errorf("creating mailer: %w", err)
	}
	log.Info("email transport ready", "transport", cfg.Email.Transport)

	codec, err := auth.NewCodec(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer)
	if err != nil {
		return fmt.Errorf("creating token codec: %w", err)
	}

	svc, err := auth.NewService(auth.Deps{
		Config: auth.Config{
			MaxRefreshTokens:     cfg.Auth.MaxRefreshTokens,
			RefreshTokenLifetime: cfg.RefreshTokenLifetime(),
			ResetRequestValidity: cfg.ResetRequestValidity(),
			FrontendResetLink:    cfg.Auth.FrontendResetLink,
		},
		Codec: codec,
		Hasher: auth.NewArgon2Hasher(auth.Argon2Params{
			Time:    cfg.Security.Password.Time,
			Memory:  cfg.Security.Password.Memory,
			Threads: cfg.Security.Password.Threads,
		}),
		Users:         auth.NewUserRepository(db.DB),
		Organizations: auth.NewOrganizationRepository(db.DB),
		Tokens:        auth.NewTokenLedger(db.DB),
		ResetRequests: auth.NewResetRequestRepository(db.DB),
		Gateways:      auth.NewGatewayRepository(db.DB),
		Mailer:        mailer,
		Logger:        log.Logger,
	})
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}

	if _, err := auth.SeedSysAdmin(ctx, svc, cfg.Auth.BootstrapAdminEmail, log.Logger); err != nil {
		return fmt.Errorf("seeding sys admin: %w", err)
	}

	deps := api.Deps{
		Config:    cfg.API,
		Auth:      cfg.Auth,
		Logger:    log,
		Service:   svc,
		AuditRepo: audit.NewSQLiteRepository(db.DB),
		Limiter:   limiter,
		DB:        db.DB,
		Version:   version,
	}
	// Assigned only when present so the interfaces never hold typed nils.
	if mqttClient != nil {
		deps.Events = mqttClient
	}
	if influxClient != nil {
		deps.Telemetry = influxClient
	}

	apiServer, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// buildLimiter returns the configured rate limiter, or nil when rate
// limiting is off. The returned close function is never nil.
func buildLimiter(ctx context.Context, cfg *config.Config, log *logging.Logger) (ratelimit.Limiter, func(), error) {
	rl := cfg.Security.RateLimit
	if !rl.Enabled {
		log.Info("rate limiting disabled")
		return nil, func() {}, nil
	}

	if rl.Backend != "redis" {
		log.Info("rate limiting enabled", "backend", "memory", "per_minute", rl.RequestsPerMinute)
		return ratelimit.NewMemory(rl.RequestsPerMinute, rl.Burst), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
	}
	log.Info("rate limiting enabled", "backend", "redis", "addr", cfg.Redis.Addr, "per_minute", rl.RequestsPerMinute)

	closeFn := func() {
		log.Info("closing Redis connection")
		if err := client.Close(); err != nil {
			log.Error("error closing Redis", "error", err)
		}
	}
	return ratelimit.NewRedis(client, rateLimitPrefix, rl.RequestsPerMinute, rl.Burst), closeFn, nil
}

func getConfigPath() string {
	if path := os.Getenv("SMARTRACK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every connected component responds.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
