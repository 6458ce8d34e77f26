package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weasel/comparator/internal/comparator"
	"github.com/weasel/comparator/internal/platform"
	"github.com/weasel/comparator/pkg/log"
	"github.com/weasel/comparator/pkg/metrics"
	"github.com/weasel/comparator/pkg/middleware"
	"go.uber.org/zap"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
)

var (
	metricMiddleware = metrics.NewMiddleware("status_server")
	registerOnce     sync.Once
)

// ServiceStatus is the view of the comparator service exposed by the server.
type ServiceStatus interface {
	State() comparator.State
	Stats() (uint, float64)
}

// Connectivity reports the outcome of the latest platform call.
type Connectivity interface {
	GetStatus() platform.Status
}

/*
Server serves 3 endpoints:
- /health returns 503 once the service is terminated
- /api/v1/status returns the state and statistics of the service
- /metrics exposes prometheus metrics
*/
type Server struct {
	address      string
	service      ServiceStatus
	connectivity Connectivity
}

// New returns a status server. connectivity may be nil.
func New(address string, service ServiceStatus, connectivity Connectivity) *Server {
	return &Server{
		address:      address,
		service:      service,
		connectivity: connectivity,
	}
}

func (s *Server) Router() http.Handler {
	registerOnce.Do(func() {
		for _, c := range metricMiddleware.Collectors() {
			prometheus.MustRegister(c)
		}
	})

	router := chi.NewRouter()
	router.Use(
		metricMiddleware.Handler,
		middleware.RequestID,
		log.Logger(zap.L(), "status_server"),
		chiMiddleware.Recoverer,
	)

	router.Get("/health", s.health)
	router.Get("/api/v1/status", s.status)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return router
}

// Run serves until ctx is cancelled, then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := http.Server{Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		zap.S().Named("status_server").Infof("shutdown signal received: %s", ctx.Err())
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()

		srv.SetKeepAlivesEnabled(false)
		_ = srv.Shutdown(ctxTimeout)
		zap.S().Named("status_server").Info("status server terminated")
	}()

	zap.S().Named("status_server").Infof("listening on %s...", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}
