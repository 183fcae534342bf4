package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"
	"golang.org/x/time/rate"

	"github.com/eugenenazirov/packs-optimizer/internal/metrics"
)

// limiter admits a request or reports how long the caller should back off.
type limiter interface {
	Reserve() (ok bool, retryAfter time.Duration)
}

// tokenBucket is the process-wide limiter shared by all clients.
type tokenBucket struct {
	bucket *rate.Limiter
}

func newTokenBucket(ratePerSecond float64, burst int) *tokenBucket {
	if ratePerSecond <= 0 {
		ratePerSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &tokenBucket{bucket: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Reserve takes a token when one is available now. Otherwise the reservation
// is returned to the bucket and the wait until the next token is reported.
func (b *tokenBucket) Reserve() (bool, time.Duration) {
	if b == nil || b.bucket == nil {
		return true, 0
	}
	res := b.bucket.Reserve()
	if !res.OK() {
		return false, time.Second
	}
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

func globalRateLimit(l limiter, next http.Handler) http.Handler {
	if l == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retryAfter := l.Reserve()
		if ok {
			next.ServeHTTP(w, r)
			return
		}
		metrics.RateLimitedTotal.WithLabelValues("global").Inc()
		w.Header().Set("Retry-After", retryAfterSeconds(retryAfter))
		writeError(w, http.StatusTooManyRequests, codeRateLimited, "Too many requests", "rate limit exceeded, please retry shortly")
	})
}

// clientRateLimit caps each client IP at requests per sliding window.
func clientRateLimit(requests int, window time.Duration) func(http.Handler) http.Handler {
	return httprate.Limit(
		requests,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			metrics.RateLimitedTotal.WithLabelValues("client").Inc()
			w.Header().Set("Retry-After", retryAfterSeconds(window))
			writeError(w, http.StatusTooManyRequests, codeRateLimited, "Too many requests", "client rate limit exceeded, please retry later")
		}),
	)
}

// retryAfterSeconds rounds d up to whole seconds, never below one.
func retryAfterSeconds(d time.Duration) string {
	return strconv.Itoa(max(1, int(math.Ceil(d.Seconds()))))
}
