// ABOUTME: Shared process wiring for the client and server commands
// ABOUTME: Builds the event sinks and the optional Prometheus listener from config
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/speechlink/speechlink-go/internal/config"
	"github.com/speechlink/speechlink-go/internal/metrics"
	"github.com/speechlink/speechlink-go/pkg/events"
)

// EventSinks returns the log sink plus a NATS sink when enabled. The
// returned func drains the NATS connection.
func EventSinks(cfg *config.Config, name string, log *logrus.Entry) (events.Multi, func(), error) {
	sinks := events.Multi{events.NewLogSink(log.WithField("component", "events"))}
	if !cfg.NATS.Enabled {
		return sinks, func() {}, nil
	}

	nc, err := events.DialNATS(cfg.NATS.URL, name, cfg.NATS.Attempts, cfg.NATS.RetryWait, log)
	if err != nil {
		return nil, nil, err
	}
	sinks = append(sinks, events.NewNATSSink(nc, cfg.NATS.SubjectPrefix, log))
	return sinks, func() {
		if err := nc.Drain(); err != nil {
			log.WithError(err).Warn("Failed to drain NATS connection")
		}
	}, nil
}

// ServeMetrics exposes m on cfg.Addr until the returned func is called
func ServeMetrics(cfg config.MetricsConfig, m *metrics.Metrics, log *logrus.Entry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.WithField("addr", cfg.Addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("Metrics listener failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
