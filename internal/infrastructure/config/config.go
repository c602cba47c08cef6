package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Deployment environments.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Development-only signing secrets. They are substituted when the matching
// secret is empty and the environment is development; Validate rejects them
// everywhere else.
const (
	devAccessSecret  = "devicehub-dev-access-secret-do-not-use-in-prod"
	devRefreshSecret = "devicehub-dev-refresh-secret-do-not-use-in-prod"
)

// minJWTSecretLength is the minimum accepted length for signing secrets.
const minJWTSecretLength = 32

// Config is devicehub.yaml. Load fills it from defaults, then the file,
// then DEVICEHUB_* environment variables.
type Config struct {
	Environment string         `yaml:"environment"`
	Database    DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	MQTT        MQTTConfig     `yaml:"mqtt"`
	API         APIConfig      `yaml:"api"`
	InfluxDB    InfluxDBConfig `yaml:"influxdb"`
	Logging     LoggingConfig  `yaml:"logging"`
	Security    SecurityConfig `yaml:"security"`
	Recovery    RecoveryConfig `yaml:"recovery"`
	Seed        SeedConfig     `yaml:"seed"`

	// UsingDevSecrets is set by Load when development fallback secrets were substituted.
	UsingDevSecrets bool `yaml:"-"`
}

// DatabaseConfig is the credential store file.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// RedisConfig contains the shared counter store connection settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// MQTTConfig is the device command bus. Disabled means commands return 503.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig locates the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig holds broker credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds the reconnect back-off, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig is the HTTP listener.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig enables HTTPS on the API listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig lists what browsers may send. An empty origin list allows any origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// InfluxDBConfig is the event series sink. Disabled means no auth_events.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig selects level, format (json, text) and output (stdout, stderr).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains token, password and throttling settings.
type SecurityConfig struct {
	JWT           JWTConfig           `yaml:"jwt"`
	Password      PasswordConfig      `yaml:"password"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	LoginThrottle LoginThrottleConfig `yaml:"login_throttle"`
}

// JWTConfig contains signing secrets and lifetimes (minutes) for both token classes.
type JWTConfig struct {
	AccessSecret    string `yaml:"access_secret"`
	RefreshSecret   string `yaml:"refresh_secret"`
	AccessTokenTTL  int    `yaml:"access_token_ttl"`
	RefreshTokenTTL int    `yaml:"refresh_token_ttl"`
	Issuer          string `yaml:"issuer"`

	// SuperUserRole is the role label put in tokens issued to super users
	// ("superadmin" or "admin").
	SuperUserRole string `yaml:"superuser_role"`
}

// PasswordConfig contains password policy settings.
type PasswordConfig struct {
	MinLength    int  `yaml:"min_length"`
	RequireMixed bool `yaml:"require_mixed"`

	// HashConcurrency bounds how many password hashes run at once.
	HashConcurrency int `yaml:"hash_concurrency"`
}

// RateLimitConfig contains the per-role fixed-window request limits.
type RateLimitConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Backend   string `yaml:"backend"` // memory, redis
	Window    int    `yaml:"window"`  // seconds
	SuperUser int    `yaml:"superuser"`
	Company   int    `yaml:"company"`
	Client    int    `yaml:"client"`
	Default   int    `yaml:"default"`
}

// LoginThrottleConfig limits unauthenticated auth requests per client IP.
type LoginThrottleConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// RecoveryConfig contains password recovery settings.
type RecoveryConfig struct {
	FrontendBaseURL string `yaml:"frontend_base_url"`
	TokenTTL        int    `yaml:"token_ttl"`      // minutes
	SweepInterval   int    `yaml:"sweep_interval"` // seconds
	NotifyTopic     string `yaml:"notify_topic"`
}

// SeedConfig describes the bootstrap super user created on an empty store.
type SeedConfig struct {
	SuperUserEmail    string `yaml:"superuser_email"`
	SuperUserNumber   string `yaml:"superuser_number"`
	SuperUserPassword string `yaml:"superuser_password"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//  4. Development fallback secrets (development only)
//
// Environment variables follow the pattern DEVICEHUB_SECTION_KEY,
// for example DEVICEHUB_DATABASE_PATH or DEVICEHUB_JWT_ACCESS_SECRET.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.applyDevFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig holds the values used for keys absent from the file.
func defaultConfig() *Config {
	return &Config{
		Environment: EnvProduction,
		Database: DatabaseConfig{
			Path:        "./data/devicehub.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "devicehub",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "devicehub-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL:  24 * 60,
				RefreshTokenTTL: 7 * 24 * 60,
				Issuer:          "devicehub",
				SuperUserRole:   "superadmin",
			},
			Password: PasswordConfig{
				MinLength:       8,
				HashConcurrency: 4,
			},
			RateLimit: RateLimitConfig{
				Enabled:   true,
				Backend:   "memory",
				Window:    60,
				SuperUser: 1000,
				Company:   500,
				Client:    100,
				Default:   100,
			},
			LoginThrottle: LoginThrottleConfig{
				Enabled:           true,
				RequestsPerSecond: 1,
				Burst:             10,
			},
		},
		Recovery: RecoveryConfig{
			TokenTTL:      10,
			SweepInterval: 300,
			NotifyTopic:   "devicehub/notify/email",
		},
	}
}

// envOverrides binds DEVICEHUB_* variables to string settings. Secrets and
// the reset link base are expected here in production rather than in YAML.
func envOverrides(cfg *Config) map[string]*string {
	return map[string]*string{
		"DEVICEHUB_ENV":                     &cfg.Environment,
		"DEVICEHUB_DATABASE_PATH":           &cfg.Database.Path,
		"DEVICEHUB_REDIS_ADDR":              &cfg.Redis.Addr,
		"DEVICEHUB_REDIS_PASSWORD":          &cfg.Redis.Password,
		"DEVICEHUB_MQTT_HOST":               &cfg.MQTT.Broker.Host,
		"DEVICEHUB_MQTT_USERNAME":           &cfg.MQTT.Auth.Username,
		"DEVICEHUB_MQTT_PASSWORD":           &cfg.MQTT.Auth.Password,
		"DEVICEHUB_API_HOST":                &cfg.API.Host,
		"DEVICEHUB_INFLUXDB_TOKEN":          &cfg.InfluxDB.Token,
		"DEVICEHUB_JWT_ACCESS_SECRET":       &cfg.Security.JWT.AccessSecret,
		"DEVICEHUB_JWT_REFRESH_SECRET":      &cfg.Security.JWT.RefreshSecret,
		"DEVICEHUB_FRONTEND_BASE_URL":       &cfg.Recovery.FrontendBaseURL,
		"DEVICEHUB_SEED_SUPERUSER_PASSWORD": &cfg.Seed.SuperUserPassword,
	}
}

// applyEnvOverrides copies every non-empty bound variable into cfg.
func applyEnvOverrides(cfg *Config) {
	for name, field := range envOverrides(cfg) {
		if v := os.Getenv(name); v != "" {
			*field = v
		}
	}
}

// applyDevFallbacks substitutes built-in secrets and the local frontend URL
// when running in development and the values were not provided.
func (c *Config) applyDevFallbacks() {
	if !c.IsDevelopment() {
		return
	}
	if c.Security.JWT.AccessSecret == "" {
		c.Security.JWT.AccessSecret = devAccessSecret
		c.UsingDevSecrets = true
	}
	if c.Security.JWT.RefreshSecret == "" {
		c.Security.JWT.RefreshSecret = devRefreshSecret
		c.UsingDevSecrets = true
	}
	if c.Recovery.FrontendBaseURL == "" {
		c.Recovery.FrontendBaseURL = "http://localhost:5173"
	}
}

// IsDevelopment reports whether the service runs in local development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, EnvDevelopment)
}

// Validate reports every problem at once, joined into a single error.
func (c *Config) Validate() error { //nolint:gocognit,gocyclo // flat list of independent checks
	var errs []string

	switch strings.ToLower(c.Environment) {
	case EnvDevelopment, EnvProduction:
	default:
		errs = append(errs, "environment must be development or production")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	errs = append(errs, c.validateSecrets()...)

	switch c.Security.JWT.SuperUserRole {
	case "superadmin", "admin":
	default:
		errs = append(errs, "security.jwt.superuser_role must be superadmin or admin")
	}
	if c.Security.JWT.AccessTokenTTL <= 0 || c.Security.JWT.RefreshTokenTTL <= 0 {
		errs = append(errs, "security.jwt token TTLs must be positive")
	}

	if c.Security.Password.MinLength < 8 {
		errs = append(errs, "security.password.min_length must be at least 8")
	}

	rl := c.Security.RateLimit
	if rl.Enabled {
		if rl.Window <= 0 {
			errs = append(errs, "security.rate_limit.window must be positive")
		}
		if rl.SuperUser <= 0 || rl.Company <= 0 || rl.Client <= 0 || rl.Default <= 0 {
			errs = append(errs, "security.rate_limit limits must be positive")
		}
		switch rl.Backend {
		case "memory":
		case "redis":
			if !c.Redis.Enabled {
				errs = append(errs, "security.rate_limit.backend redis requires redis.enabled")
			}
		default:
			errs = append(errs, "security.rate_limit.backend must be memory or redis")
		}
	}

	if c.Recovery.FrontendBaseURL == "" {
		errs = append(errs, "recovery.frontend_base_url is required (set DEVICEHUB_FRONTEND_BASE_URL)")
	} else if u, err := url.Parse(c.Recovery.FrontendBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "recovery.frontend_base_url must be an absolute URL")
	}
	if c.Recovery.TokenTTL <= 0 {
		errs = append(errs, "recovery.token_ttl must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateSecrets enforces key separation between the two token classes and
// keeps development secrets out of production.
func (c *Config) validateSecrets() []string {
	var errs []string
	jwt := c.Security.JWT

	if jwt.AccessSecret == "" {
		errs = append(errs, "security.jwt.access_secret is required (set DEVICEHUB_JWT_ACCESS_SECRET)")
	} else if len(jwt.AccessSecret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.access_secret must be at least 32 characters")
	}

	if jwt.RefreshSecret == "" {
		errs = append(errs, "security.jwt.refresh_secret is required (set DEVICEHUB_JWT_REFRESH_SECRET)")
	} else if len(jwt.RefreshSecret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.refresh_secret must be at least 32 characters")
	}

	if jwt.AccessSecret != "" && jwt.AccessSecret == jwt.RefreshSecret {
		errs = append(errs, "security.jwt access and refresh secrets must differ")
	}

	if !c.IsDevelopment() && (jwt.AccessSecret == devAccessSecret || jwt.RefreshSecret == devRefreshSecret) {
		errs = append(errs, "development signing secrets cannot be used outside development")
	}

	return errs
}

// AccessTokenTTL returns the access token lifetime.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// RefreshTokenTTL returns the refresh token lifetime.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.RefreshTokenTTL) * time.Minute
}

// RecoveryTokenTTL returns the recovery token lifetime.
func (c *Config) RecoveryTokenTTL() time.Duration {
	return time.Duration(c.Recovery.TokenTTL) * time.Minute
}

// RateLimitWindow returns the fixed rate-limit window.
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.Security.RateLimit.Window) * time.Second
}

// ReadTimeout is api.timeouts.read.
func (c APIConfig) ReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// WriteTimeout is api.timeouts.write.
func (c APIConfig) WriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// IdleTimeout is api.timeouts.idle.
func (c APIConfig) IdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
