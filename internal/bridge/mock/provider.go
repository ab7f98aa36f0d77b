package mock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/acme/call-task-engine/internal/config"
)

// Provider simulates the call-execution collaborator.
type Provider struct {
	successRate float64
	latency     time.Duration
	rng         *rand.Rand
}

// NewProvider constructs a mock provider.
func NewProvider(cfg config.CallBridgeConfig) *Provider {
	latency := cfg.RequestTimeout / 4
	if latency <= 0 {
		latency = 250 * time.Millisecond
	}
	return &Provider{
		successRate: 0.9,
		latency:     latency,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// InitiateCall simulates the synchronous initiation acknowledgement.
func (p *Provider) InitiateCall(ctx context.Context, agentID uuid.UUID, phone string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(p.rng.Int63n(int64(p.latency) + 1))):
	}

	if p.rng.Float64() <= p.successRate {
		return nil
	}
	return fmt.Errorf("mock bridge: initiation rejected for agent %s", agentID)
}
