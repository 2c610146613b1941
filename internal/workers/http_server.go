package workers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

type httpServer struct {
	server          *http.Server
	logger          *zap.Logger
	shutdownTimeout time.Duration
}

func NewHTTPServer(addr string, handler http.Handler, logger *zap.Logger, shutdownTimeout time.Duration) Worker {
	return &httpServer{
		server:          &http.Server{Addr: addr, Handler: handler},
		logger:          logger,
		shutdownTimeout: shutdownTimeout,
	}
}

func (h *httpServer) Name() string { return "http_server" }

func (h *httpServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("starting http server", zap.String("addr", h.server.Addr))
		if err := h.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		h.logger.Info("shutting down http server")
		return h.server.Shutdown(shutdownCtx)
	}
}
