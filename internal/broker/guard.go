package broker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	apperrors "trend-trader/internal/errors"
	"trend-trader/internal/models"
	"trend-trader/internal/resilience"
	"trend-trader/pkg/utils"
)

// GuardedGateway wraps a Gateway with a circuit breaker and per-call
// timeout. Once the breaker opens every call fails with
// ErrGatewayDisconnected, which halts the execution machine.
type GuardedGateway struct {
	inner   Gateway
	breaker *resilience.Breaker
	timeout time.Duration
	retry   utils.RetryConfig
	logger  zerolog.Logger
}

// GuardConfig holds configuration for the gateway guard.
type GuardConfig struct {
	Breaker     resilience.Config
	CallTimeout time.Duration
	// ConnectRetry governs Connect only. Order calls are never retried.
	ConnectRetry utils.RetryConfig
}

// NewGuardedGateway creates a guarded gateway.
func NewGuardedGateway(inner Gateway, cfg GuardConfig, logger zerolog.Logger) *GuardedGateway {
	if cfg.ConnectRetry.MaxAttempts == 0 {
		cfg.ConnectRetry = utils.DefaultRetryConfig()
	}
	b := resilience.New("gateway", cfg.Breaker)
	b.IsFailure = countsAgainstGateway
	b.OnStateChange = func(name string, from, to resilience.State) {
		logger.Warn().Str("breaker", name).Str("from", string(from)).Str("to", string(to)).Msg("Gateway circuit changed state")
	}
	return &GuardedGateway{
		inner:   inner,
		breaker: b,
		timeout: cfg.CallTimeout,
		retry:   cfg.ConnectRetry,
		logger:  logger,
	}
}

// countsAgainstGateway excludes business rejections from breaker failures.
func countsAgainstGateway(err error) bool {
	return !errors.Is(err, apperrors.ErrOrderRejected) && !errors.Is(err, apperrors.ErrOrderNotFound)
}

// Breaker exposes the underlying circuit breaker.
func (g *GuardedGateway) Breaker() *resilience.Breaker {
	return g.breaker
}

// Connect connects the inner gateway with retry and closes the breaker.
func (g *GuardedGateway) Connect(ctx context.Context) error {
	err := utils.Retry(ctx, g.retry, func() error {
		cctx, cancel := g.callContext(ctx)
		defer cancel()
		return g.inner.Connect(cctx)
	})
	if err != nil {
		return apperrors.NewGatewayError("connect", "connecting gateway", errors.Join(apperrors.ErrGatewayDisconnected, err))
	}
	g.breaker.Reset()
	return nil
}

// PlaceOrder places an order through the breaker.
func (g *GuardedGateway) PlaceOrder(ctx context.Context, inst models.Instrument, req models.OrderRequest) (string, error) {
	return guard(g, ctx, "place", func(ctx context.Context) (string, error) {
		return g.inner.PlaceOrder(ctx, inst, req)
	})
}

// CancelOrder cancels an order through the breaker.
func (g *GuardedGateway) CancelOrder(ctx context.Context, orderID string) error {
	_, err := guard(g, ctx, "cancel", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, g.inner.CancelOrder(ctx, orderID)
	})
	return err
}

// OpenOrders lists working orders through the breaker.
func (g *GuardedGateway) OpenOrders(ctx context.Context) ([]models.OrderState, error) {
	return guard(g, ctx, "open orders", g.inner.OpenOrders)
}

// Position queries the net position through the breaker.
func (g *GuardedGateway) Position(ctx context.Context, inst models.Instrument) (int, error) {
	return guard(g, ctx, "position", func(ctx context.Context) (int, error) {
		return g.inner.Position(ctx, inst)
	})
}

// Updates returns the inner gateway's update channel.
func (g *GuardedGateway) Updates() <-chan models.OrderUpdate {
	return g.inner.Updates()
}

// Close closes the inner gateway.
func (g *GuardedGateway) Close() error {
	return g.inner.Close()
}

// OnBar forwards bars to simulating gateways.
func (g *GuardedGateway) OnBar(bar models.Bar) {
	if obs, ok := g.inner.(BarObserver); ok {
		obs.OnBar(bar)
	}
}

func (g *GuardedGateway) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func guard[T any](g *GuardedGateway, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := g.callContext(ctx)
	defer cancel()

	v, err := resilience.Call(g.breaker, cctx, fn)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, resilience.ErrOpen):
		return v, apperrors.NewGatewayError(op, "circuit open", apperrors.ErrGatewayDisconnected)
	case errors.Is(err, apperrors.ErrGatewayDisconnected):
		return v, err
	case countsAgainstGateway(err) && g.breaker.State() == resilience.StateOpen:
		return v, apperrors.NewGatewayError(op, "too many consecutive failures", errors.Join(apperrors.ErrGatewayDisconnected, err))
	}
	return v, err
}
