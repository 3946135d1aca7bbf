package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Policy describes the admission budget for one route.
type Policy struct {
	Rate  rate.Limit
	Burst int
}

// PerWindow builds a policy allowing n requests per window, with the whole
// budget available as an initial burst.
func PerWindow(n int, window time.Duration) Policy {
	return Policy{
		Rate:  rate.Every(window / time.Duration(n)),
		Burst: n,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter gates requests per client address per route. Each (route, address)
// pair gets its own token bucket; idle buckets are pruned by a background
// janitor so the map stays bounded.
type Limiter struct {
	fallback Policy

	mu       sync.Mutex
	routes   map[string]Policy
	visitors map[string]*visitor

	idleAfter time.Duration

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a limiter whose unconfigured routes use the fallback policy.
func New(fallback Policy) *Limiter {
	l := &Limiter{
		fallback:  fallback,
		routes:    make(map[string]Policy),
		visitors:  make(map[string]*visitor),
		idleAfter: 3 * time.Minute,
		done:      make(chan struct{}),
	}

	l.wg.Add(1)
	go l.janitor()

	return l
}

// SetPolicy installs the budget for a route. Must be called before serving.
func (l *Limiter) SetPolicy(route string, policy Policy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.routes[route] = policy
}

// Allow reports whether the client may execute the route's handler now.
func (l *Limiter) Allow(route, addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	policy, ok := l.routes[route]
	if !ok {
		policy = l.fallback
	}

	key := route + "|" + addr
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(policy.Rate, policy.Burst)}
		l.visitors[key] = v
	}
	v.lastSeen = time.Now()

	return v.limiter.Allow()
}

// Close stops the janitor.
func (l *Limiter) Close() {
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
}

func (l *Limiter) janitor() {
	defer l.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.prune()
		case <-l.done:
			return
		}
	}
}

func (l *Limiter) prune() {
	cutoff := time.Now().Add(-l.idleAfter)

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
		}
	}
}
