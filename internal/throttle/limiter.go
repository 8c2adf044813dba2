// Package throttle paces repository fetches per connection and bin.
package throttle

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dlclark/regexp2"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/lcf-connectors/internal/metrics"
	"github.com/JakeFAU/lcf-connectors/internal/store"
)

// Config holds the fallback applied to bins no throttle spec matches.
type Config struct {
	// DefaultRPM is fetches per minute; zero or less means unlimited.
	DefaultRPM float64
	Burst      int
}

type binKey struct {
	connection string
	bin        string
}

type compiledSpec struct {
	re   *regexp2.Regexp
	rate float64
}

// Limiter holds one token bucket per (connection, bin).
type Limiter struct {
	mu       sync.Mutex
	limiters map[binKey]*rate.Limiter
	specs    map[string][]compiledSpec
	cfg      Config
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Limiter{
		limiters: make(map[binKey]*rate.Limiter),
		specs:    make(map[string][]compiledSpec),
		cfg:      cfg,
	}
}

// Reconfigure installs the throttle specs of a connection and drops its
// cached limiters.
func (l *Limiter) Reconfigure(connection string, specs []store.ThrottleSpec) error {
	compiled := make([]compiledSpec, 0, len(specs))
	for _, s := range specs {
		re, err := regexp2.Compile(s.Match, regexp2.None)
		if err != nil {
			return fmt.Errorf("throttle match %q: %w", s.Match, err)
		}
		compiled = append(compiled, compiledSpec{re: re, rate: s.Rate})
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.specs[connection] = compiled
	for k := range l.limiters {
		if k.connection == connection {
			delete(l.limiters, k)
		}
	}
	return nil
}

// RateFor returns the fetches per minute allowed for bin: the minimum over
// the matching specs, else the default. math.Inf(1) means unlimited.
func (l *Limiter) RateFor(connection, bin string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rateForLocked(connection, bin)
}

func (l *Limiter) rateForLocked(connection, bin string) float64 {
	best := math.Inf(1)
	matched := false
	for _, s := range l.specs[connection] {
		ok, err := s.re.MatchString(bin)
		if err != nil || !ok {
			continue
		}
		matched = true
		if s.rate < best {
			best = s.rate
		}
	}
	if !matched && l.cfg.DefaultRPM > 0 {
		best = l.cfg.DefaultRPM
	}
	return best
}

func (l *Limiter) limiter(connection, bin string) *rate.Limiter {
	key := binKey{connection: connection, bin: bin}
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[key]; ok {
		return lim
	}
	rpm := l.rateForLocked(connection, bin)
	limit := rate.Inf
	if !math.IsInf(rpm, 1) {
		limit = rate.Limit(rpm / 60)
	}
	lim := rate.NewLimiter(limit, l.cfg.Burst)
	l.limiters[key] = lim
	return lim
}

// Wait blocks until a fetch from bin is allowed, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, connection, bin string) error {
	lim := l.limiter(connection, bin)
	start := time.Now()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveThrottleDelay(connection, d)
	}
	return nil
}
