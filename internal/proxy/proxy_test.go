package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rampartproxy/rampart/internal/config"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func proxyConfig(t *testing.T, upstreams ...string) *config.ProxyConfig {
	t.Helper()
	pc := &config.ProxyConfig{
		RequestTimeout:    5 * time.Second,
		ConnectionTimeout: 2 * time.Second,
	}
	for _, raw := range upstreams {
		pc.Upstreams = append(pc.Upstreams, mustURL(t, raw))
	}
	if len(pc.Upstreams) > 1 {
		pc.Policy = config.LBRoundRobin
	}
	return pc
}

func TestRoundRobin_SequentialOrder(t *testing.T) {
	pc := proxyConfig(t, "http://u1:9000", "http://u2:9000", "http://u3:9000")
	b := NewBalancer(pc)

	want := []string{"u1:9000", "u2:9000", "u3:9000", "u1:9000", "u2:9000", "u3:9000"}
	for i, host := range want {
		if got := b.Next().Host; got != host {
			t.Fatalf("call %d: got %s, want %s", i, got, host)
		}
	}
}

func TestRoundRobin_ConcurrentFairness(t *testing.T) {
	pc := proxyConfig(t, "http://u1:9000", "http://u2:9000", "http://u3:9000")
	b := NewBalancer(pc)

	const workers = 8
	const perWorker = 300
	total := workers * perWorker

	counts := make([]map[string]int, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		counts[w] = map[string]int{}
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				counts[w][b.Next().Host]++
			}
		}(w)
	}
	wg.Wait()

	merged := map[string]int{}
	for _, m := range counts {
		for host, n := range m {
			merged[host] += n
		}
	}
	if len(merged) != 3 {
		t.Fatalf("upstream spread: %#v", merged)
	}
	share := total / 3
	for host, n := range merged {
		if n < share-1 || n > share+1 {
			t.Errorf("upstream %s selected %d times, want %d±1", host, n, share)
		}
	}
}

func TestSingleUpstream_Passthrough(t *testing.T) {
	pc := proxyConfig(t, "http://only:9000")
	b := NewBalancer(pc)
	for i := 0; i < 5; i++ {
		if got := b.Next().Host; got != "only:9000" {
			t.Fatalf("call %d: got %s", i, got)
		}
	}
}

func TestServeHTTP_ForwardsToUpstream(t *testing.T) {
	var gotPath, gotXFF, gotXFHost, gotHost string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotXFF = r.Header.Get("X-Forwarded-For")
		gotXFHost = r.Header.Get("X-Forwarded-Host")
		gotHost = r.Host
		w.Header().Set("X-Upstream", "yes")
		fmt.Fprint(w, "upstream body")
	}))
	defer upstream.Close()

	pc := proxyConfig(t, upstream.URL)
	h := New(pc, Options{})

	req := httptest.NewRequest(http.MethodGet, "http://front.example/api/users?q=1", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if rec.Body.String() != "upstream body" {
		t.Fatalf("body: %q", rec.Body.String())
	}
	if rec.Header().Get("X-Upstream") != "yes" {
		t.Fatal("upstream response header not forwarded")
	}
	if gotPath != "/api/users" {
		t.Fatalf("upstream path: %q", gotPath)
	}
	if gotXFF != "192.0.2.7" {
		t.Fatalf("x-forwarded-for: %q", gotXFF)
	}
	if gotXFHost != "front.example" {
		t.Fatalf("x-forwarded-host: %q", gotXFHost)
	}
	if gotHost == "front.example" {
		t.Fatal("host header should be rewritten to the upstream")
	}
}

func TestServeHTTP_UnreachableUpstreamIs502(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := upstream.URL
	upstream.Close() // nothing listens here anymore

	pc := proxyConfig(t, target)
	h := New(pc, Options{})

	req := httptest.NewRequest(http.MethodGet, "http://front.example/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status: got %d, want 502", rec.Code)
	}
}

func TestServeHTTP_SlowUpstreamIs504(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	pc := proxyConfig(t, upstream.URL)
	pc.RequestTimeout = 100 * time.Millisecond
	h := New(pc, Options{})

	req := httptest.NewRequest(http.MethodGet, "http://front.example/slow", nil)
	rec := httptest.NewRecorder()

	start := time.Now()
	h.ServeHTTP(rec, req)
	elapsed := time.Since(start)

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status: got %d, want 504", rec.Code)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
}

// timeoutTransport stands in for a transport whose dial never completed.
type timeoutTransport struct {
	err error
}

func (t *timeoutTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, t.err
}

func TestServeHTTP_DialTimeoutIs504(t *testing.T) {
	dialErr := &url.Error{
		Op:  "Get",
		URL: "http://203.0.113.1:81/",
		Err: &net.OpError{Op: "dial", Net: "tcp", Err: os.ErrDeadlineExceeded},
	}

	pc := proxyConfig(t, "http://203.0.113.1:81")
	pc.ConnectionTimeout = 1 * time.Second
	h := New(pc, Options{
		WrapTransport: func(http.RoundTripper) http.RoundTripper {
			return &timeoutTransport{err: dialErr}
		},
	})

	req := httptest.NewRequest(http.MethodGet, "http://front.example/", nil)
	rec := httptest.NewRecorder()

	start := time.Now()
	h.ServeHTTP(rec, req)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("dial timeout not surfaced promptly, took %s", elapsed)
	}
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status: got %d, want 504", rec.Code)
	}
}

func TestIsTimeout(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"context deadline", context.DeadlineExceeded, true},
		{"dial i/o timeout", &net.OpError{Op: "dial", Net: "tcp", Err: os.ErrDeadlineExceeded}, true},
		{"wrapped dial timeout", &url.Error{Op: "Get", URL: "http://u:1/", Err: &net.OpError{Op: "dial", Net: "tcp", Err: os.ErrDeadlineExceeded}}, true},
		{"connection refused", errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), false},
	}
	for _, tc := range cases {
		if got := isTimeout(tc.err); got != tc.want {
			t.Errorf("%s: isTimeout = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestServeHTTP_StripsHopByHopHeaders(t *testing.T) {
	var sawKeepAlive, sawMarked bool
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawKeepAlive = r.Header["Keep-Alive"]
		_, sawMarked = r.Header["X-Drop-Me"]
	}))
	defer upstream.Close()

	pc := proxyConfig(t, upstream.URL)
	h := New(pc, Options{})

	req := httptest.NewRequest(http.MethodGet, "http://front.example/", nil)
	req.Header.Set("Keep-Alive", "timeout=5")
	req.Header.Set("Connection", "X-Drop-Me")
	req.Header.Set("X-Drop-Me", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if sawKeepAlive {
		t.Error("Keep-Alive forwarded to upstream")
	}
	if sawMarked {
		t.Error("Connection-named header forwarded to upstream")
	}
}

func TestJoinSlash(t *testing.T) {
	cases := []struct{ a, b, want string }{
		{"", "/x", "/x"},
		{"/base", "/x", "/base/x"},
		{"/base/", "/x", "/base/x"},
		{"/base", "x", "/base/x"},
	}
	for _, tc := range cases {
		if got := joinSlash(tc.a, tc.b); got != tc.want {
			t.Errorf("joinSlash(%q, %q) = %q, want %q", tc.a, tc.b, got, tc.want)
		}
	}
}
