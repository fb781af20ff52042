package proxy

import (
	"net/url"
	"sync/atomic"

	"github.com/rampartproxy/rampart/internal/config"
)

// Balancer picks the upstream for one request. Implementations must be safe
// for concurrent use; the balancer is the only mutable state a proxy route
// carries between requests.
type Balancer interface {
	Next() *url.URL
}

// NewBalancer builds the balancer for a validated proxy config. The
// validator guarantees at least one upstream and that round_robin is set
// whenever more than one upstream is declared without an explicit policy.
func NewBalancer(pc *config.ProxyConfig) Balancer {
	if pc.Policy == config.LBRoundRobin {
		return &roundRobin{upstreams: pc.Upstreams}
	}
	return single{upstream: pc.Upstreams[0]}
}

// single is direct passthrough to one upstream.
type single struct {
	upstream *url.URL
}

func (s single) Next() *url.URL { return s.upstream }

// roundRobin hands out upstreams in declaration order. The cursor only ever
// increments, so no two calls observe the same pre-increment value and N
// calls spread across len(upstreams) targets within one of each other.
type roundRobin struct {
	upstreams []*url.URL
	cursor    atomic.Uint64
}

func (r *roundRobin) Next() *url.URL {
	n := r.cursor.Add(1) - 1
	return r.upstreams[n%uint64(len(r.upstreams))]
}
