package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"golang.org/x/sys/unix"
)

// service is a long-running part of the broker that can be shut down.
type service interface {
	Shutdown(ctx context.Context) (err error)
}

// signalHandler processes incoming signals and shuts services down.
type signalHandler struct {
	logger *slog.Logger
	signal chan os.Signal

	// services are shut down in order before the process exits.
	services []service

	// closers are closed after the services are shut down.
	closers []io.Closer
}

// newSignalHandler returns a new *signalHandler.
func newSignalHandler(logger *slog.Logger) (h *signalHandler) {
	h = &signalHandler{
		logger: logger,
		signal: make(chan os.Signal, 1),
	}

	signal.Notify(h.signal, unix.SIGINT, unix.SIGQUIT, unix.SIGTERM)

	return h
}

// add adds a service to the signal handler.
func (h *signalHandler) add(s service) {
	h.services = append(h.services, s)
}

// addClose adds a closer to the signal handler.  Closers run after all
// services are shut down.
func (h *signalHandler) addClose(c io.Closer) {
	h.closers = append(h.closers, c)
}

// Exit status constants.
const (
	statusSuccess = 0
	statusError   = 1
)

// shutdownTimeout is the time given to the services to shut down gracefully.
const shutdownTimeout = 30 * time.Second

// handle blocks and processes OS signals.  status is [statusSuccess] on a
// clean shutdown and [statusError] otherwise.
func (h *signalHandler) handle(ctx context.Context) (status int) {
	for sig := range h.signal {
		h.logger.InfoContext(ctx, "received signal", "signal", sig.String())

		switch sig {
		case unix.SIGINT, unix.SIGQUIT, unix.SIGTERM:
			return h.shutdown(ctx)
		}
	}

	return statusSuccess
}

// shutdown shuts down all registered services and closers.
func (h *signalHandler) shutdown(ctx context.Context) (status int) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	status = statusSuccess

	for _, s := range h.services {
		err := s.Shutdown(ctx)
		if err != nil {
			h.logger.ErrorContext(ctx, "shutting down service", slogutil.KeyError, err)
			status = statusError
		}
	}

	for _, c := range h.closers {
		err := c.Close()
		if err != nil {
			h.logger.ErrorContext(ctx, "closing", slogutil.KeyError, err)
			status = statusError
		}
	}

	return status
}
