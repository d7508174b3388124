package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

type GuardOptions struct {
	// RatePerSecond of zero disables client-side throttling.
	RatePerSecond float64
	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
	// MaxFailures consecutive failures open the breaker.
	MaxFailures uint32
	Logger      *slog.Logger
}

// Guarded throttles calls to an embedding provider and stops calling it while it keeps failing.
type Guarded struct {
	inner   EmbeddingProvider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewGuarded(name string, inner EmbeddingProvider, opts GuardOptions) *Guarded {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	g := &Guarded{inner: inner}
	if opts.RatePerSecond > 0 {
		burst := int(opts.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	maxFailures := opts.MaxFailures
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedding provider breaker state changed", "provider", name, "from", from.String(), "to", to.String())
		},
	})
	return g
}

func (g *Guarded) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, ProviderInfo{}, err
		}
	}
	var info ProviderInfo
	out, err := g.breaker.Execute(func() (interface{}, error) {
		vectors, i, err := g.inner.Embed(ctx, req)
		info = i
		return vectors, err
	})
	if err != nil {
		return nil, info, err
	}
	return out.([][]float32), info, nil
}

func (g *Guarded) State() gobreaker.State {
	return g.breaker.State()
}
