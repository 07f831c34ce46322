package gdalprocess

import (
	"context"
	"errors"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/nci/satgate/metrics"
	"github.com/nci/satgate/utils"
)

const (
	DefaultBreakerMaxFailures = 5
	DefaultBreakerTimeout     = 30 * time.Second
)

// BreakerPool holds one circuit breaker per source host, created on first
// use.
type BreakerPool struct {
	mu          sync.Mutex
	breakers    map[string]*gobreaker.CircuitBreaker[struct{}]
	maxFailures uint32
	timeout     time.Duration
}

func NewBreakerPool(maxFailures uint32, timeout time.Duration) *BreakerPool {
	if maxFailures == 0 {
		maxFailures = DefaultBreakerMaxFailures
	}
	if timeout <= 0 {
		timeout = DefaultBreakerTimeout
	}
	return &BreakerPool{
		breakers:    make(map[string]*gobreaker.CircuitBreaker[struct{}]),
		maxFailures: maxFailures,
		timeout:     timeout,
	}
}

func (p *BreakerPool) get(host string) *gobreaker.CircuitBreaker[struct{}] {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cb, found := p.breakers[host]; found {
		return cb
	}
	maxFailures := p.maxFailures
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "raster:" + host,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     p.timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful:  hostHealthy,
		OnStateChange: metrics.RecordBreakerState,
	})
	p.breakers[host] = cb
	return cb
}

// hostHealthy separates failures of the host from answers about the
// request itself: an empty window or a missing band says nothing about
// the host.
func hostHealthy(err error) bool {
	return err == nil ||
		utils.IsOutOfBounds(err) ||
		utils.IsBandNotFound(err) ||
		utils.IsReprojection(err) ||
		errors.Is(err, context.Canceled)
}

// Do runs fn through the breaker of host. An open breaker fails fast.
func (p *BreakerPool) Do(host string, fn func() error) error {
	_, err := p.get(host).Execute(func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (p *BreakerPool) State(host string) gobreaker.State {
	return p.get(host).State()
}
