// Package api provides the devicehub HTTP API.
//
// It exposes the authentication endpoints (login, logout, me, password
// change, recovery and token refresh), the device endpoints guarded by the
// access controller and the per-role rate limiter, the SuperUser audit
// trail, and the operational /health and /metrics endpoints.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/devicehub-core/internal/access"
	"github.com/nerrad567/devicehub-core/internal/audit"
	"github.com/nerrad567/devicehub-core/internal/auth"
	"github.com/nerrad567/devicehub-core/internal/device"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/config"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/logging"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/devicehub-core/internal/ratelimit"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// defaultSweepInterval is used when Deps.SweepInterval is unset.
const defaultSweepInterval = 5 * time.Minute

// HealthChecker is implemented by the database and broker clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CommandPublisher sends device commands over the message bus.
type CommandPublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	QoS() byte
}

// ackSubscriber is implemented by publishers that can also receive
// command acknowledgements.
type ackSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// EventRecorder writes authentication and command events to a time series
// store. *influxdb.Client satisfies it, including when nil.
type EventRecorder interface {
	WriteAuthEvent(event, role, outcome, accountID string)
	WriteDeviceCommand(deviceID, command, role string)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Security config.SecurityConfig
	Logger   *logging.Logger

	Accounts  auth.AccountRepository
	Passwords *auth.PasswordVerifier
	Tokens    *auth.TokenIssuer
	Recovery  *auth.RecoveryFlow

	// Access is the device access controller. The server installs its own
	// deny hook on it to feed metrics and the audit trail.
	Access  *access.Controller
	Devices device.Repository

	// Limiter is optional; nil disables per-role rate limiting.
	Limiter *ratelimit.Limiter

	// AuditRepo is optional; nil disables the audit trail.
	AuditRepo audit.Repository

	// DB is optional and only used by /health.
	DB HealthChecker

	// MQTT is optional; device commands return 503 without it.
	MQTT CommandPublisher

	// Events is optional.
	Events EventRecorder

	SweepInterval time.Duration
	DevMode       bool
	Version       string
}

// Server is the devicehub HTTP API server.
type Server struct {
	cfg    config.APIConfig
	secCfg config.SecurityConfig
	logger *logging.Logger

	accounts  auth.AccountRepository
	resolver  *auth.Resolver
	passwords *auth.PasswordVerifier
	tokens    *auth.TokenIssuer
	recovery  *auth.RecoveryFlow
	access    *access.Controller
	devices   device.Repository
	limiter   *ratelimit.Limiter
	throttle  *ipThrottle
	auditRepo audit.Repository
	auditCh   chan *audit.Entry
	db        HealthChecker
	mqtt      CommandPublisher
	events    EventRecorder
	metrics   *Metrics

	sweepInterval time.Duration
	devMode       bool
	version       string
	startTime     time.Time

	server *http.Server
	cancel context.CancelFunc // cancels background goroutines on Close()
	wg     sync.WaitGroup
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Accounts == nil:
		return nil, fmt.Errorf("account repository is required")
	case deps.Passwords == nil:
		return nil, fmt.Errorf("password verifier is required")
	case deps.Tokens == nil:
		return nil, fmt.Errorf("token issuer is required")
	case deps.Recovery == nil:
		return nil, fmt.Errorf("recovery flow is required")
	case deps.Access == nil:
		return nil, fmt.Errorf("access controller is required")
	case deps.Devices == nil:
		return nil, fmt.Errorf("device repository is required")
	}

	s := &Server{
		cfg:           deps.Config,
		secCfg:        deps.Security,
		logger:        deps.Logger,
		accounts:      deps.Accounts,
		resolver:      auth.NewResolver(deps.Accounts),
		passwords:     deps.Passwords,
		tokens:        deps.Tokens,
		recovery:      deps.Recovery,
		access:        deps.Access,
		devices:       deps.Devices,
		limiter:       deps.Limiter,
		auditRepo:     deps.AuditRepo,
		db:            deps.DB,
		mqtt:          deps.MQTT,
		events:        deps.Events,
		metrics:       NewMetrics(),
		sweepInterval: deps.SweepInterval,
		devMode:       deps.DevMode,
		version:       deps.Version,
		startTime:     time.Now(),
	}

	if s.events == nil {
		s.events = noopEvents{}
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = defaultSweepInterval
	}
	if deps.AuditRepo != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}
	if lt := deps.Security.LoginThrottle; lt.Enabled {
		s.throttle = newIPThrottle(lt.RequestsPerSecond, lt.Burst)
	}
	if s.limiter != nil {
		s.limiter.SetOnError(func(error) { s.metrics.rateLimitErrors.Inc() })
	}
	s.access.SetDenyHook(s.onDenied)

	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the audit writer, the recovery token sweeper and the IP
// throttle janitor, subscribes to device command acknowledgements when
// the bus supports it, and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.auditCh != nil {
		s.goBackground(func() { s.drainAuditLog(srvCtx) })
	}
	s.goBackground(func() { s.sweepRecoveryTokens(srvCtx) })
	if s.throttle != nil {
		s.goBackground(func() { s.throttle.janitor(srvCtx) })
	}

	if err := s.subscribeCommandAcks(); err != nil {
		s.logger.Warn("failed to subscribe to device acknowledgements", "error", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

func (s *Server) goBackground(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Close gracefully shuts down the API server, waiting up to
// gracefulShutdownTimeout for in-flight requests, then stops the
// background goroutines after the audit queue is drained.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}

// sweepRecoveryTokens deletes expired recovery tokens until ctx is cancelled.
func (s *Server) sweepRecoveryTokens(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.recovery.Sweep(ctx)
			if err != nil {
				s.logger.Error("recovery token sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("expired recovery tokens deleted", "count", n)
			}
		}
	}
}

// subscribeCommandAcks counts device acknowledgements when the command
// publisher can subscribe.
func (s *Server) subscribeCommandAcks() error {
	sub, ok := s.mqtt.(ackSubscriber)
	if !ok || s.mqtt == nil {
		return nil
	}
	return sub.Subscribe(mqtt.Topics{}.AllDeviceAcks(), s.mqtt.QoS(), func(topic string, _ []byte) error {
		deviceID := mqtt.DeviceIDFromTopic(topic)
		if deviceID == "" {
			return fmt.Errorf("unexpected ack topic %q", topic)
		}
		s.metrics.commandAcks.Inc()
		s.logger.Debug("device acknowledged command", "device_id", deviceID)
		return nil
	})
}

type noopEvents struct{}

func (noopEvents) WriteAuthEvent(string, string, string, string) {}
func (noopEvents) WriteDeviceCommand(string, string, string)     {}
