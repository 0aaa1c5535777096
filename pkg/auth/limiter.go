package auth

import (
	"sync"

	"golang.org/x/time/rate"
)

// limiterPool keeps one token-bucket limiter per caller. Keys are the
// presented admin API key, or the client IP for unauthenticated routes,
// so one noisy caller cannot starve the others.
type limiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg SecConfig
}

const (
	defaultRPS   = 5
	defaultBurst = 10
)

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.cfg.RPS
	if rps <= 0 {
		rps = defaultRPS
	}
	burst := p.cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

// Allow reports whether the caller identified by key may proceed.
func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}
