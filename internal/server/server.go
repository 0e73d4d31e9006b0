package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sjawhar/popquiz/internal/observe"
)

// Deps are the collaborators the HTTP layer talks to.
type Deps struct {
	Hub      *Hub
	Ingest   Ingestor
	Context  ContextBuilder
	Quiz     QuizGenerator
	Sessions SessionLister
	Metrics  *observe.Metrics
	Logger   *slog.Logger

	// MaxUploadBytes caps a single audio request body. Multipart overhead
	// counts towards it.
	MaxUploadBytes int64
}

func Handler(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = discardLogger()
	}
	if d.Metrics == nil {
		d.Metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	registerWSRoute(mux, d.Hub, d.Metrics, d.Logger)
	registerAPIRoutes(mux, d)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(d.Metrics, d.Logger)(mux)
}

// Serve listens on addr until ctx is done, then drains in-flight requests.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
