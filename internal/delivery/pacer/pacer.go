// Package pacer spaces outbound deliveries per channel.
package pacer

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/vietddude/govwatch/internal/core/domain"
)

// Limit is the token bucket applied to one channel.
type Limit struct {
	PerSecond float64
	Burst     int
}

// DefaultLimit is one message per second with no burst.
var DefaultLimit = Limit{PerSecond: 1, Burst: 1}

// Pacer holds one limiter per channel kind. Channels without an explicit
// limit share the default parameters but get their own bucket.
type Pacer struct {
	mu       sync.Mutex
	def      Limit
	limits   map[domain.ChannelKind]Limit
	limiters map[domain.ChannelKind]*rate.Limiter
}

// New creates a pacer. A zero default falls back to DefaultLimit.
func New(def Limit, overrides map[domain.ChannelKind]Limit) *Pacer {
	if def.PerSecond <= 0 {
		def = DefaultLimit
	}
	if def.Burst < 1 {
		def.Burst = 1
	}
	return &Pacer{
		def:      def,
		limits:   overrides,
		limiters: make(map[domain.ChannelKind]*rate.Limiter),
	}
}

func (p *Pacer) limiter(ch domain.ChannelKind) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.limiters[ch]; ok {
		return l
	}
	lim, ok := p.limits[ch]
	if !ok || lim.PerSecond <= 0 {
		lim = p.def
	}
	if lim.Burst < 1 {
		lim.Burst = 1
	}
	l := rate.NewLimiter(rate.Limit(lim.PerSecond), lim.Burst)
	p.limiters[ch] = l
	return l
}

// Wait blocks until ch may send one message or ctx is done.
func (p *Pacer) Wait(ctx context.Context, ch domain.ChannelKind) error {
	if err := p.limiter(ch).Wait(ctx); err != nil {
		return fmt.Errorf("failed to wait for %s pacing: %w", ch, err)
	}
	return nil
}

// Allow reports whether ch may send right now without waiting.
func (p *Pacer) Allow(ch domain.ChannelKind) bool {
	return p.limiter(ch).Allow()
}
