package meter

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/thronix/ai-meter/internal/provider"
)

// Caller wraps the paid provider in a circuit breaker so a flapping upstream
// fails fast instead of burning request timeouts.
type Caller struct {
	p  provider.Provider
	cb *gobreaker.CircuitBreaker
}

func NewCaller(p provider.Provider) *Caller {
	settings := gobreaker.Settings{
		Name:        p.Name(),
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Caller{
		p:  p,
		cb: gobreaker.NewCircuitBreaker(settings),
	}
}

// Supports reports whether the provider serves the given model. An empty
// supported-models list means the provider accepts anything.
func (c *Caller) Supports(model string) bool {
	models := c.p.SupportedModels()
	if len(models) == 0 {
		return true
	}
	for _, m := range models {
		if m == model {
			return true
		}
	}
	return false
}

func (c *Caller) Execute(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.p.Complete(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*provider.Response), nil
}

func (c *Caller) ProviderName() string {
	return c.p.Name()
}
