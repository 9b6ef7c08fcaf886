package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/sony/gobreaker/v2"
)

type BreakerSettings struct {
	Timeout          time.Duration // per call
	OpenTimeout      time.Duration // how long the breaker stays open
	FailureThreshold uint32        // consecutive failures before opening
}

// GuardedLookup puts a call timeout and a circuit breaker in front of another Lookup.
type GuardedLookup struct {
	next    Lookup
	timeout time.Duration
	cb      *gobreaker.CircuitBreaker[*domain.Product]
}

func NewGuardedLookup(next Lookup, s BreakerSettings, logger *slog.Logger) *GuardedLookup {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	threshold := s.FailureThreshold
	cb := gobreaker.NewCircuitBreaker[*domain.Product](gobreaker.Settings{
		Name:    "catalog",
		Timeout: s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A missing product is an answer, not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &GuardedLookup{next: next, timeout: s.Timeout, cb: cb}
}

func (g *GuardedLookup) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	p, err := g.cb.Execute(func() (*domain.Product, error) {
		callCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		return g.next.GetProduct(callCtx, id)
	})
	if err != nil && domain.Kind(err) == nil {
		// breaker rejections and call timeouts are transient
		return nil, domain.Persistence(fmt.Sprintf("catalog lookup %d", id), err)
	}
	return p, err
}
