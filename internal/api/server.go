package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/smartrack-core/internal/audit"
	"github.com/nerrad567/smartrack-core/internal/auth"
	"github.com/nerrad567/smartrack-core/internal/infrastructure/config"
	"github.com/nerrad567/smartrack-core/internal/infrastructure/logging"
	"github.com/nerrad567/smartrack-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/smartrack-core/internal/infrastructure/ratelimit"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// GatewayEvents publishes gateway presence and node stock to the message bus.
// *mqtt.Client implements it.
type GatewayEvents interface {
	PublishGatewayEvent(ev mqtt.GatewayEvent) error
	ClearGatewayEvent(gatewayID int64) error
	PublishNodeStock(serial string, reports []mqtt.StockReport) error
	IsConnected() bool
}

// Telemetry stores gateway and node time series. *influxdb.Client implements it.
type Telemetry interface {
	WriteGatewayConnection(gatewayID int64, serial string, at time.Time)
	WriteNodeStatus(gatewayID int64, nodeSerial string, batteryPercent int, at time.Time)
	WriteNodeStock(gatewayID int64, nodeSerial string, slotIndex int, stockPercent float64, at time.Time)
}

// Deps holds the dependencies required by the API server. Limiter,
// Events, Telemetry, AuditRepo and DB are optional.
type Deps struct {
	Config    config.APIConfig
	Auth      config.AuthConfig
	Logger    *logging.Logger
	Service   *auth.Service
	AuditRepo audit.Repository
	Limiter   ratelimit.Limiter
	Events    GatewayEvents
	Telemetry Telemetry
	DB        *sql.DB
	Version   string
	Now       func() time.Time
}

// Server is the HTTP API server for SmartRack Core.
type Server struct {
	cfg       config.APIConfig
	authCfg   config.AuthConfig
	logger    *logging.Logger
	svc       *auth.Service
	verifier  auth.TokenVerifier
	auditRepo audit.Repository
	auditCh   chan *audit.AuditLog
	limiter   ratelimit.Limiter
	events    GatewayEvents
	telemetry Telemetry
	db        *sql.DB
	metrics   *metrics
	version   string
	now       func() time.Time

	server *http.Server
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a new API server. The server is not started until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("auth service is required")
	}

	s := &Server{
		cfg:       deps.Config,
		authCfg:   deps.Auth,
		logger:    deps.Logger,
		svc:       deps.Service,
		verifier:  deps.Service.Codec(),
		auditRepo: deps.AuditRepo,
		limiter:   deps.Limiter,
		events:    deps.Events,
		telemetry: deps.Telemetry,
		db:        deps.DB,
		metrics:   newMetrics(),
		version:   deps.Version,
		now:       deps.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}
	return s, nil
}

// Start launches the audit writer and the HTTP listener in the background.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if s.auditCh != nil {
			s.drainAuditLog(srvCtx)
		}
	}()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", s.server.Addr, "cert", s.cfg.TLS.CertFile)
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

// Close stops accepting requests, waits for in-flight ones and flushes
// queued audit entries.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	// Stop the audit writer only after handlers have finished enqueueing.
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server has been started.
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
