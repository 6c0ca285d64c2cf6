package gateway

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerSettings tunes the circuit breaker around the gateway.
type BreakerSettings struct {
	Threshold int
	Timeout   time.Duration
}

// BreakerGateway wraps a Gateway with a circuit breaker so a misbehaving
// provider fails fast instead of stalling every worker.
type BreakerGateway struct {
	inner    Gateway
	creates  *gobreaker.CircuitBreaker[string]
	fetches  *gobreaker.CircuitBreaker[*Intent]
}

// WithBreaker decorates gw with a circuit breaker.
func WithBreaker(gw Gateway, s BreakerSettings) *BreakerGateway {
	if s.Threshold <= 0 {
		s.Threshold = 10
	}
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
	settings := gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 10,
		Interval:    60 * time.Second,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= uint32(s.Threshold) && failureRatio >= 0.6
		},
		// Permanent refusals are business outcomes, not provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
	}
	return &BreakerGateway{
		inner:   gw,
		creates: gobreaker.NewCircuitBreaker[string](settings),
		fetches: gobreaker.NewCircuitBreaker[*Intent](settings),
	}
}

func (b *BreakerGateway) CreateDebitIntent(ctx context.Context, req DebitIntentRequest) (string, error) {
	return b.creates.Execute(func() (string, error) {
		return b.inner.CreateDebitIntent(ctx, req)
	})
}

func (b *BreakerGateway) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	return b.fetches.Execute(func() (*Intent, error) {
		return b.inner.GetIntent(ctx, intentID)
	})
}

func (b *BreakerGateway) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	return b.creates.Execute(func() (string, error) {
		return b.inner.CreateTransfer(ctx, req)
	})
}
