package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/devicehub-core/internal/access"
	"github.com/nerrad567/devicehub-core/internal/api"
	"github.com/nerrad567/devicehub-core/internal/audit"
	"github.com/nerrad567/devicehub-core/internal/auth"
	"github.com/nerrad567/devicehub-core/internal/device"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/config"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/database"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/logging"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/redis"
	"github.com/nerrad567/devicehub-core/internal/notify"
	"github.com/nerrad567/devicehub-core/internal/ratelimit"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// run is the serve logic, separated from the command for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting devicehub",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	path := getConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", path, "environment", cfg.Environment)
	if cfg.UsingDevSecrets {
		log.Warn("using built-in development JWT secrets; never run like this in production")
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	accounts := auth.NewAccountRepository(db.DB)
	if err := seedSuperUser(ctx, cfg, accounts, log); err != nil {
		return err
	}

	// MQTT is optional: without it commands return 503 and reset links
	// are only logged.
	var (
		mqttClient *mqtt.Client
		publisher  api.CommandPublisher
		notifier   notify.Notifier = notify.NewLogNotifier(log.Component("notify"))
	)
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		publisher = mqttClient
		notifier = notify.NewMQTTNotifier(mqttClient, cfg.Recovery.NotifyTopic, mqttClient.QoS())
	} else {
		log.Info("MQTT disabled")
	}

	var events api.EventRecorder
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err, "failures", influxClient.WriteFailures())
		})
		events = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	limiter, redisClient, err := buildLimiter(ctx, cfg, log)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() {
			log.Info("closing Redis connection")
			if closeErr := redisClient.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
	}

	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:  cfg.Security.JWT.AccessSecret,
		RefreshSecret: cfg.Security.JWT.RefreshSecret,
		AccessTTL:     cfg.AccessTokenTTL(),
		RefreshTTL:    cfg.RefreshTokenTTL(),
		Issuer:        cfg.Security.JWT.Issuer,
		SuperUserRole: auth.Role(cfg.Security.JWT.SuperUserRole),
	})
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}

	passwords := auth.NewPasswordVerifier(accounts, auth.PasswordPolicy{
		MinLength:    cfg.Security.Password.MinLength,
		RequireMixed: cfg.Security.Password.RequireMixed,
	}, cfg.Security.Password.HashConcurrency)
	passwords.SetLogger(log.Component("password"))

	recovery := auth.NewRecoveryFlow(auth.RecoveryDeps{
		Resolver:        auth.NewResolver(accounts),
		Accounts:        accounts,
		Tokens:          auth.NewRecoveryRepository(db.DB),
		Passwords:       passwords,
		Notifier:        notifier,
		Logger:          log.Component("recovery"),
		FrontendBaseURL: cfg.Recovery.FrontendBaseURL,
		TokenTTL:        cfg.RecoveryTokenTTL(),
	})

	server, err := api.New(api.Deps{
		Config:        cfg.API,
		Security:      cfg.Security,
		Logger:        log,
		Accounts:      accounts,
		Passwords:     passwords,
		Tokens:        tokens,
		Recovery:      recovery,
		Access:        access.NewController(accounts, log.Component("access")),
		Devices:       device.NewSQLiteRepository(db.DB),
		Limiter:       limiter,
		AuditRepo:     audit.NewSQLiteRepository(db.DB),
		DB:            db,
		MQTT:          publisher,
		Events:        events,
		SweepInterval: time.Duration(cfg.Recovery.SweepInterval) * time.Second,
		DevMode:       cfg.IsDevelopment(),
		Version:       version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient, redisClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// seedSuperUser creates the bootstrap SuperUser on an empty store. A
// generated password is printed once to stderr and never logged.
func seedSuperUser(ctx context.Context, cfg *config.Config, accounts auth.AccountRepository, log *logging.Logger) error {
	generated, err := auth.SeedSuperUser(ctx, accounts, auth.SeedParams{
		Email:         cfg.Seed.SuperUserEmail,
		NumeroCliente: cfg.Seed.SuperUserNumber,
		Password:      cfg.Seed.SuperUserPassword,
	}, log.Component("seed"))
	if err != nil {
		return fmt.Errorf("seeding super user: %w", err)
	}
	if generated != "" {
		fmt.Fprintf(os.Stderr, "\nInitial super user password for %s: %s\nChange it after first login.\n\n",
			cfg.Seed.SuperUserEmail, generated)
	}
	return nil
}

// buildLimiter returns nil when rate limiting is disabled. The Redis
// client is returned so the caller can close it.
func buildLimiter(ctx context.Context, cfg *config.Config, log *logging.Logger) (*ratelimit.Limiter, *redis.Client, error) {
	rl := cfg.Security.RateLimit
	if !rl.Enabled {
		log.Warn("per-role rate limiting disabled")
		return nil, nil, nil
	}

	limits := ratelimit.Limits{
		SuperUser: rl.SuperUser,
		Company:   rl.Company,
		Client:    rl.Client,
		Default:   rl.Default,
	}

	var (
		counter     ratelimit.Counter
		redisClient *redis.Client
	)
	switch rl.Backend {
	case "redis":
		var err error
		redisClient, err = redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		counter = ratelimit.NewRedisCounter(redisClient.Client, cfg.Redis.Prefix)
		log.Info("rate limiter using Redis", "addr", redisClient.Addr())
	default:
		counter = ratelimit.NewMemoryCounter()
		log.Info("rate limiter using process memory")
	}

	return ratelimit.NewLimiter(counter, limits, cfg.RateLimitWindow(), log.Component("ratelimit")), redisClient, nil
}

func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, redisClient *redis.Client) error {
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

	if redisClient != nil {
		if err := redisClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	return nil
}
