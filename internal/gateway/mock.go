package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockGateway simulates the external provider for local runs and tests.
// It remembers issued intents so GetIntent and idempotency keys behave like
// the real thing.
type MockGateway struct {
	mu            sync.Mutex
	intents       map[string]*Intent
	byIdempotency map[string]string

	failureRate   float64 // 0.0 to 1.0, permanent refusals
	transientRate float64 // 0.0 to 1.0, transient errors
	latency       time.Duration
}

type MockOption func(*MockGateway)

func WithFailureRate(rate float64) MockOption {
	return func(g *MockGateway) { g.failureRate = rate }
}

func WithTransientRate(rate float64) MockOption {
	return func(g *MockGateway) { g.transientRate = rate }
}

func WithLatency(d time.Duration) MockOption {
	return func(g *MockGateway) { g.latency = d }
}

func NewMockGateway(opts ...MockOption) *MockGateway {
	g := &MockGateway{
		intents:       make(map[string]*Intent),
		byIdempotency: make(map[string]string),
		latency:       100 * time.Millisecond,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *MockGateway) CreateDebitIntent(ctx context.Context, req DebitIntentRequest) (string, error) {
	if err := g.sleep(ctx); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Idempotent replay returns the original intent.
	if req.IdempotencyKey != "" {
		if id, ok := g.byIdempotency[req.IdempotencyKey]; ok {
			return id, nil
		}
	}

	if rand.Float64() < g.transientRate {
		return "", &Error{Code: "network_error", Message: "simulated transient failure", Permanent: false}
	}
	if rand.Float64() < g.failureRate {
		return "", &Error{Code: "mandate_invalid", Message: "simulated mandate refusal", Permanent: true}
	}

	id := fmt.Sprintf("di_%s", uuid.New().String()[:8])
	g.intents[id] = &Intent{
		ID:       id,
		Status:   IntentPending,
		Amount:   req.Amount,
		Metadata: req.Metadata,
	}
	if req.IdempotencyKey != "" {
		g.byIdempotency[req.IdempotencyKey] = id
	}
	return id, nil
}

func (g *MockGateway) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	if err := g.sleep(ctx); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[intentID]
	if !ok {
		return nil, &Error{Code: "not_found", Message: "unknown intent " + intentID, Permanent: true}
	}
	cp := *in
	return &cp, nil
}

func (g *MockGateway) CreateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	if err := g.sleep(ctx); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if req.IdempotencyKey != "" {
		if id, ok := g.byIdempotency[req.IdempotencyKey]; ok {
			return id, nil
		}
	}
	if rand.Float64() < g.transientRate {
		return "", &Error{Code: "network_error", Message: "simulated transient failure", Permanent: false}
	}

	id := fmt.Sprintf("tr_%s", uuid.New().String()[:8])
	if req.IdempotencyKey != "" {
		g.byIdempotency[req.IdempotencyKey] = id
	}
	return id, nil
}

// ResolveIntent flips a pending intent, simulating the async confirmation.
// Test helper.
func (g *MockGateway) ResolveIntent(intentID string, status IntentStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if in, ok := g.intents[intentID]; ok {
		in.Status = status
	}
}

func (g *MockGateway) sleep(ctx context.Context) error {
	if g.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(g.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
