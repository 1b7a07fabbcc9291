package main

import (
	"sync"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

const maxTrackedClients = 10000

// rateLimit caps the request rate per client on the ingest API.
// Clients are keyed by remote IP.
type rateLimit struct {
	perSec float64
	burst  int

	mu      sync.Mutex
	clients map[string]*rate.Limiter
}

func newRateLimit(perSec float64) *rateLimit {
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return &rateLimit{
		perSec:  perSec,
		burst:   burst,
		clients: make(map[string]*rate.Limiter),
	}
}

func (r *rateLimit) limiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lim, ok := r.clients[key]; ok {
		return lim
	}
	if len(r.clients) >= maxTrackedClients {
		// Reset rather than track per-entry staleness.
		r.clients = make(map[string]*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Limit(r.perSec), r.burst)
	r.clients[key] = lim
	return lim
}

func (r *rateLimit) middleware(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !r.limiter(ctx.RemoteIP().String()).Allow() {
			ctx.SetStatusCode(429)
			ctx.SetContentType("application/json")
			_, _ = ctx.WriteString(`{"error":"rate_limit_exceeded","message":"too many requests"}`)
			return
		}
		next(ctx)
	}
}
