// Package debugsvc contains the debug HTTP API of the broker: Prometheus
// metrics, pprof, and the health check.
package debugsvc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/pprofutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config is the debug HTTP service configuration.
type Config struct {
	// Logger is used to log the operation of the service.  It must not be
	// nil.
	Logger *slog.Logger

	// Registry is the Prometheus registry served at /metrics.  It must not be
	// nil.
	Registry *prometheus.Registry

	// Addr is the address the listener binds to.
	Addr string
}

// Service is the debug HTTP service of the broker.
type Service struct {
	logger *slog.Logger
	srv    *http.Server
}

// readHdrTimeout is the header read timeout of the debug listener.  The
// other timeouts stay unset, since pprof profile requests legitimately take
// minutes.
const readHdrTimeout = 10 * time.Second

// New returns a new properly initialized *Service.
func New(c *Config) (svc *Service) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health-check", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("OK"))
	})

	pprofutil.RoutePprof(mux)

	return &Service{
		logger: c.Logger,
		srv: &http.Server{
			Addr:              c.Addr,
			Handler:           mux,
			ReadHeaderTimeout: readHdrTimeout,
		},
	}
}

// Start starts the debug listener.  It does not wait for the listener to
// actually go online.
func (svc *Service) Start(ctx context.Context) (err error) {
	go func() {
		srvErr := svc.srv.ListenAndServe()
		if srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
			panic(srvErr)
		}
	}()

	svc.logger.InfoContext(ctx, "debug api is started", "addr", svc.srv.Addr)

	return nil
}

// Shutdown gracefully shuts the debug listener down.
func (svc *Service) Shutdown(ctx context.Context) (err error) {
	err = svc.srv.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutting down debug api: %w", err)
	}

	return nil
}
