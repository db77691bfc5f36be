package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/orgplans-backend/pkg/logger"
)

const shutdownGrace = 5 * time.Second

// WorkerServer exposes a worker's registry over HTTP next to a liveness probe.
type WorkerServer struct {
	srv  *http.Server
	logg *logger.Logger
}

func NewWorkerServer(addr string, gatherer prometheus.Gatherer, logg *logger.Logger) *WorkerServer {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if logg == nil {
		logg = logger.Nop()
	}
	return &WorkerServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logg: logg,
	}
}

// Handler is exposed for tests.
func (s *WorkerServer) Handler() http.Handler { return s.srv.Handler }

// Run listens until ctx ends, then drains in-flight scrapes.
func (s *WorkerServer) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	s.logg.Info(s.logg.WithField(ctx, "metrics_addr", ln.Addr().String()), "worker metrics listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
