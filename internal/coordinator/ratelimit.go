package coordinator

import (
	"sync"
	"time"

	"github.com/park285/kriegspiel-server/pkg/kriegdto"
	"golang.org/x/time/rate"
)

type rule struct {
	every time.Duration
	burst int
}

// defaultRules doubles as the list of known inbound events.
func defaultRules() map[string]rule {
	return map[string]rule{
		kriegdto.EventMakeMove:         {every: time.Second / 2, burst: 2},
		kriegdto.EventCreateSession:    {every: time.Minute / 5, burst: 5},
		kriegdto.EventCreateBotSession: {every: time.Minute / 5, burst: 5},
		kriegdto.EventJoinSession:      {every: time.Minute / 10, burst: 10},
		kriegdto.EventJoinQueue:        {every: time.Minute / 10, burst: 10},
		kriegdto.EventLeaveSession:     {every: time.Minute / 20, burst: 20},
		kriegdto.EventLeaveQueue:       {every: time.Minute / 20, burst: 20},
		kriegdto.EventPing:             {every: time.Second, burst: 60},
	}
}

// limiter keeps one token bucket per connection per event.
type limiter struct {
	rules map[string]rule
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]map[string]*rate.Limiter
}

func newLimiter(rules map[string]rule, now func() time.Time) *limiter {
	return &limiter{rules: rules, now: now, buckets: make(map[string]map[string]*rate.Limiter)}
}

func (l *limiter) allow(conn, event string) bool {
	r, ok := l.rules[event]
	if !ok {
		return true
	}
	l.mu.Lock()
	per, ok := l.buckets[conn]
	if !ok {
		per = make(map[string]*rate.Limiter)
		l.buckets[conn] = per
	}
	b, ok := per[event]
	if !ok {
		b = rate.NewLimiter(rate.Every(r.every), r.burst)
		per[event] = b
	}
	l.mu.Unlock()
	return b.AllowN(l.now(), 1)
}

func (l *limiter) forget(conn string) {
	l.mu.Lock()
	delete(l.buckets, conn)
	l.mu.Unlock()
}
