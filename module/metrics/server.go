package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nightshard/shardnode/module/component"
	"github.com/nightshard/shardnode/module/irrecoverable"
)

const shutdownTimeout = 5 * time.Second

// Server is the http server that will be serving the /metrics request for prometheus
type Server struct {
	*component.ComponentManager
	log    zerolog.Logger
	server *http.Server
}

// NewServer creates a new server listening on the given address, responding
// only to the `/metrics` endpoint with the metrics of the given gatherer.
func NewServer(log zerolog.Logger, addr string, gatherer prometheus.Gatherer) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s := &Server{
		log:    log.With().Str("component", "metrics_server").Logger(),
		server: &http.Server{Addr: addr, Handler: mux},
	}
	s.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(s.serve).
		Build()
	return s
}

func (s *Server) serve(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	go func() {
		err := s.server.ListenAndServe()
		// http.ErrServerClosed is returned when Shutdown is called
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Err(err).Msg("metrics server failed")
		}
	}()
	s.log.Info().Str("address", s.server.Addr).Msg("metrics server started")
	ready()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("metrics server shutdown")
	}
}
