// Package proxy forwards matched requests to configured upstreams. Each
// proxy route owns its balancer and transport; connection and request
// timeouts come from the route's config and a breach of either surfaces as
// 504. A failed upstream is never retried against an alternate.
package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/rampartproxy/rampart/internal/config"
)

// Options carries dispatcher-provided collaborators.
type Options struct {
	Logger *slog.Logger
	// WrapTransport decorates the upstream round tripper, e.g. with trace
	// propagation. Nil means no decoration.
	WrapTransport func(http.RoundTripper) http.RoundTripper
}

// Handler proxies requests for one route.
type Handler struct {
	balancer       Balancer
	transport      http.RoundTripper
	requestTimeout time.Duration
	logger         *slog.Logger
}

var _ http.Handler = (*Handler)(nil)

func New(pc *config.ProxyConfig, opts Options) *Handler {
	transport := newTransport(pc.ConnectionTimeout)
	var rt http.RoundTripper = transport
	if opts.WrapTransport != nil {
		rt = opts.WrapTransport(transport)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Handler{
		balancer:       NewBalancer(pc),
		transport:      rt,
		requestTimeout: pc.RequestTimeout,
		logger:         logger,
	}
}

func newTransport(connectionTimeout time.Duration) *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   connectionTimeout,
			KeepAlive: 60 * time.Second,
		}).DialContext,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connectionTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := h.balancer.Next()

	up := new(url.URL)
	*up = *target
	up.Path = joinSlash(target.Path, r.URL.Path)
	up.RawQuery = r.URL.RawQuery
	up.Fragment = ""

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	hdr := cloneHeader(r.Header)
	dropHopByHop(hdr)
	addXFF(hdr, r.RemoteAddr)
	setXFProto(hdr, r)
	setXFHost(hdr, r.Host)

	reqUp, err := http.NewRequestWithContext(ctx, r.Method, up.String(), r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	reqUp.Header = hdr
	reqUp.Host = target.Host

	resUp, err := h.transport.RoundTrip(reqUp)
	if err != nil {
		// A client that went away gets nothing; the write would fail
		// anyway.
		if r.Context().Err() == context.Canceled {
			return
		}
		status := http.StatusBadGateway
		if isTimeout(err) {
			status = http.StatusGatewayTimeout
		}
		h.logger.Warn("upstream request failed",
			"upstream", target.String(),
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	defer resUp.Body.Close()

	dropHopByHop(resUp.Header)
	copyHeaders(w.Header(), resUp.Header)
	w.WriteHeader(resUp.StatusCode)
	if _, err := io.Copy(w, resUp.Body); err != nil {
		h.logger.Debug("upstream body copy aborted",
			"upstream", target.String(),
			"error", err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vv := range h {
		cc := make([]string, len(vv))
		copy(cc, vv)
		out[k] = cc
	}
	return out
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst.Del(k)
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func joinSlash(a, b string) string {
	as := strings.HasSuffix(a, "/")
	bs := strings.HasPrefix(b, "/")
	switch {
	case as && bs:
		return a + b[1:]
	case !as && !bs:
		return a + "/" + b
	default:
		return a + b
	}
}

var hopByHop = map[string]struct{}{
	"Connection":          {},
	"Proxy-Connection":    {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"TE":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func dropHopByHop(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, k := range strings.Split(f, ",") {
			k = textproto.TrimString(k)
			if k != "" {
				h.Del(k)
			}
		}
	}
	for k := range hopByHop {
		h.Del(k)
	}
}

func addXFF(h http.Header, remoteAddr string) {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || ip == "" {
		return
	}
	const key = "X-Forwarded-For"
	if prior := h.Get(key); prior != "" {
		h.Set(key, prior+", "+ip)
	} else {
		h.Set(key, ip)
	}
}

func setXFHost(h http.Header, host string) {
	h.Set("X-Forwarded-Host", host)
}

func setXFProto(h http.Header, r *http.Request) {
	if r.TLS != nil {
		h.Set("X-Forwarded-Proto", "https")
	} else {
		h.Set("X-Forwarded-Proto", "http")
	}
}
