package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relayhook/relayhook/internal/pkg"
)

// IPRateLimit creates an IP-based rate limiter for the public ingress
// endpoints (/email/inbound, /email/inbound/s3). There is no per-tenant
// scoping in this pipeline, so the only sensible key is the caller's address.
// rps is the maximum requests per window allowed per IP address.
func IPRateLimit(rdb *redis.Client, rps int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rdb == nil {
				next.ServeHTTP(w, r)
				return
			}

			ip := r.RemoteAddr
			if fwd := r.Header.Get("X-Real-IP"); fwd != "" {
				ip = fwd
			}

			if window == 0 {
				window = time.Minute
			}

			key := fmt.Sprintf("ratelimit:ip:%s:%s:%d", r.URL.Path, ip, time.Now().Unix()/int64(window.Seconds()))

			pipe := rdb.Pipeline()
			incr := pipe.Incr(r.Context(), key)
			pipe.Expire(r.Context(), key, window*2)
			_, err := pipe.Exec(r.Context())
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			count := incr.Val()

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rps))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(0, rps-int(count))))

			if int(count) > rps {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				pkg.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
