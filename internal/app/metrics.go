package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dmitrijs2005/sfpubsub/internal/logging"
	"github.com/dmitrijs2005/sfpubsub/internal/metrics"
)

type metricsServer struct {
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// startMetricsServer registers the pubsub collectors on a fresh registry
// and serves it on addr at /metrics.
func startMetricsServer(ctx context.Context, addr string, logger logging.Logger) (*metricsServer, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	m := &metricsServer{
		srv:      &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
		done:     make(chan struct{}),
	}

	logger.Info(ctx, "serving metrics", "addr", ln.Addr().String())
	go func() {
		defer close(m.done)
		if err := m.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "metrics server", "error", err)
		}
	}()
	return m, nil
}

func (m *metricsServer) addr() string { return m.listener.Addr().String() }

func (m *metricsServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = m.srv.Shutdown(ctx)
	<-m.done
}
