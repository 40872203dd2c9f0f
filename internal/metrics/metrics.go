// Package metrics exposes session counters and gauges for Prometheus.
//
// Series:
//   - trader_transitions_total{action}  machine transitions and order events
//   - trader_orders_total{kind,side}    orders reported by open/reentry/reversal
//   - trader_rejections_total           orders rejected by the gateway
//   - trader_ticks_total                bars evaluated
//   - trader_position                   signed position after the last tick
//   - trader_fast_ma, trader_slow_ma    moving averages of the last tick
//   - trader_trend                      1 up, -1 down
//   - trader_halted                     1 while the machine refuses to act
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"trend-trader/internal/models"
)

// Collector turns machine events and market observations into metrics.
// It implements trading.EventSink and trading.MarketObserver.
type Collector struct {
	registry *prometheus.Registry

	transitions *prometheus.CounterVec
	orders      *prometheus.CounterVec
	rejections  prometheus.Counter
	ticks       prometheus.Counter
	position    prometheus.Gauge
	fastMA      prometheus.Gauge
	slowMA      prometheus.Gauge
	trend       prometheus.Gauge
	halted      prometheus.Gauge
}

// NewCollector registers the session metrics on a fresh registry.
func NewCollector(inst models.Instrument) *Collector {
	labels := prometheus.Labels{"instrument": inst.Key()}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "trader_transitions_total",
			Help:        "Transitions and order events emitted by the machine",
			ConstLabels: labels,
		}, []string{"action"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "trader_orders_total",
			Help:        "Entry orders transmitted",
			ConstLabels: labels,
		}, []string{"reason", "side"}),
		rejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "trader_rejections_total",
			Help:        "Orders rejected by the gateway",
			ConstLabels: labels,
		}),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "trader_ticks_total",
			Help:        "Bars evaluated with a full trend window",
			ConstLabels: labels,
		}),
		position: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "trader_position",
			Help:        "Signed position quantity",
			ConstLabels: labels,
		}),
		fastMA: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "trader_fast_ma",
			Help:        "Fast moving average, rounded to tick",
			ConstLabels: labels,
		}),
		slowMA: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "trader_slow_ma",
			Help:        "Slow moving average, rounded to tick",
			ConstLabels: labels,
		}),
		trend: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "trader_trend",
			Help:        "Trend direction (1 up, -1 down)",
			ConstLabels: labels,
		}),
		halted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "trader_halted",
			Help:        "1 while the session is halted awaiting reconciliation",
			ConstLabels: labels,
		}),
	}

	c.registry.MustRegister(c.transitions, c.orders, c.rejections, c.ticks)
	c.registry.MustRegister(c.position, c.fastMA, c.slowMA, c.trend, c.halted)
	return c
}

// Registry returns the registry holding the session metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Record implements trading.EventSink.
func (c *Collector) Record(ev models.Event) {
	c.transitions.WithLabelValues(string(ev.Action)).Inc()

	switch ev.Action {
	case models.ActionOpen, models.ActionReentry, models.ActionReversal:
		c.orders.WithLabelValues(string(ev.Action), string(ev.Side)).Inc()
	case models.ActionReject:
		c.rejections.Inc()
	case models.ActionHalt:
		c.halted.Set(1)
	case models.ActionReconcile:
		c.halted.Set(0)
	}
	c.position.Set(float64(ev.Position))
}

// ObserveMarket implements trading.MarketObserver.
func (c *Collector) ObserveMarket(bar models.Bar, trend models.TrendState, position int) {
	c.ticks.Inc()
	c.fastMA.Set(trend.FastMA)
	c.slowMA.Set(trend.SlowMA)
	c.position.Set(float64(position))
	if trend.Direction == models.Up {
		c.trend.Set(1)
	} else {
		c.trend.Set(-1)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics until its context is cancelled.
type Server struct {
	srv    *http.Server
	mux    *http.ServeMux
	logger zerolog.Logger
}

// NewServer creates a metrics server on listen (host:port). A nil health
// handler answers /healthz with a plain 200.
func NewServer(listen string, c *Collector, health http.Handler, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	if health == nil {
		health = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
	}
	mux.Handle("/healthz", health)
	return &Server{
		mux: mux,
		srv: &http.Server{
			Addr:              listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Handle registers an additional route. Call before Run.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Run blocks serving requests and shuts down when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("Serving metrics")
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
