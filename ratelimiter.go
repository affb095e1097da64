// Copyright 2019 Aporeto Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package armet

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/karlseguin/ccache/v2"
	"golang.org/x/time/rate"
)

const rateLimiterTTL = 10 * time.Minute

type basicRateLimiter struct {
	cache *ccache.Cache
	rps   rate.Limit
	burst int
}

// NewRateLimiter returns a new RateLimiter allowing rps requests per
// second per client IP, with the given burst.
func NewRateLimiter(rps float64, burst int) RateLimiter {

	if burst < 1 {
		burst = 1
	}

	return &basicRateLimiter{
		cache: ccache.New(ccache.Configure().MaxSize(10000)),
		rps:   rate.Limit(rps),
		burst: burst,
	}
}

func (r *basicRateLimiter) requestIP(req *http.Request) (string, error) {

	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		ip, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(ip), nil
	}

	ip, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return "", err
	}

	return ip, nil
}

func (r *basicRateLimiter) limiter(ip string) *rate.Limiter {

	item, _ := r.cache.Fetch(ip, rateLimiterTTL, func() (any, error) {
		return rate.NewLimiter(r.rps, r.burst), nil
	})

	return item.Value().(*rate.Limiter)
}

// RateLimit returns true if the request must be rejected.
func (r *basicRateLimiter) RateLimit(req *http.Request) (bool, error) {

	ip, err := r.requestIP(req)
	if err != nil {
		return false, err
	}

	return !r.limiter(ip).Allow(), nil
}

type rateLimiterWithBan struct {
	banCache *ccache.Cache
	banTime  time.Duration

	basicRateLimiter
}

// NewRateLimiterWithBan returns a new RateLimiter that bans a client IP
// for banTime once it has been limited.
func NewRateLimiterWithBan(rps float64, burst int, banTime time.Duration) RateLimiter {

	return &rateLimiterWithBan{
		banCache:         ccache.New(ccache.Configure().MaxSize(10000)),
		banTime:          banTime,
		basicRateLimiter: *NewRateLimiter(rps, burst).(*basicRateLimiter),
	}
}

func (r *rateLimiterWithBan) RateLimit(req *http.Request) (bool, error) {

	ip, err := r.requestIP(req)
	if err != nil {
		return false, err
	}

	if item := r.banCache.Get(ip); item != nil && !item.Expired() {
		return true, nil
	}

	limited, err := r.basicRateLimiter.RateLimit(req)
	if err != nil {
		return false, err
	}

	if limited {
		r.banCache.Set(ip, true, r.banTime)
	}

	return limited, nil
}
