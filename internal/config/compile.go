package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Compiled is the immutable routing model built from a validated AST.
// After Compile returns it is read-only; per-request mutable state (load
// balancer cursors, rate limit windows) lives in the dispatcher, keyed by
// route, not here.
type Compiled struct {
	Server ServerConfig
	Hosts  []CompiledVirtualHost
}

// ServerConfig carries process-wide settings from the optional top-level
// server block, with defaults applied.
type ServerConfig struct {
	Listen         string
	MetricsEnabled bool
	Tracing        TracingConfig
}

type TracingConfig struct {
	Enabled   bool
	Collector string
	Insecure  bool
}

// CompiledVirtualHost serves one or more host names. Host names are
// normalized to lower case with any port stripped.
type CompiledVirtualHost struct {
	Hosts  []string
	Routes []CompiledRoute
}

type CompiledRoute struct {
	Pattern     PathPattern
	Handler     HandlerConfig
	Middlewares []MiddlewareConfig
}

// PathPattern is either an exact literal or a prefix wildcard. A pattern
// ending in "/*" matches any path that begins with the prefix up to and
// including the slash, so "/a/*" matches "/a/" and "/a/b" but not "/a".
type PathPattern struct {
	Raw      string
	Prefix   string
	Wildcard bool
}

func newPathPattern(raw string) PathPattern {
	if strings.HasSuffix(raw, "/*") {
		return PathPattern{Raw: raw, Prefix: raw[:len(raw)-1], Wildcard: true}
	}
	return PathPattern{Raw: raw}
}

func (p PathPattern) Match(path string) bool {
	if p.Wildcard {
		return strings.HasPrefix(path, p.Prefix)
	}
	return path == p.Raw
}

func (p PathPattern) String() string { return p.Raw }

// HandlerKind tags the closed set of handler variants. The dispatcher
// switches exhaustively on it.
type HandlerKind int

const (
	HandlerFile HandlerKind = iota
	HandlerDirectory
	HandlerRespond
	HandlerRedirect
	HandlerProxy
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerFile:
		return "file"
	case HandlerDirectory:
		return "directory"
	case HandlerRespond:
		return "respond"
	case HandlerRedirect:
		return "redirect"
	case HandlerProxy:
		return "proxy"
	default:
		return fmt.Sprintf("HandlerKind(%d)", int(k))
	}
}

// HandlerConfig is the validated form of one handler statement. Only the
// fields for the tagged Kind are meaningful.
type HandlerConfig struct {
	Kind HandlerKind

	// HandlerFile, HandlerDirectory
	Path string

	// HandlerRespond
	RespondStatus int
	RespondBody   string

	// HandlerRedirect
	RedirectTo     string
	RedirectStatus int

	// HandlerProxy
	Proxy *ProxyConfig
}

// LBPolicy is the upstream selection policy.
type LBPolicy int

const (
	// LBNone is direct passthrough to the single configured upstream.
	LBNone LBPolicy = iota
	LBRoundRobin
)

func (p LBPolicy) String() string {
	if p == LBRoundRobin {
		return "round_robin"
	}
	return "none"
}

type ProxyConfig struct {
	Upstreams []*url.URL
	Policy    LBPolicy

	RequestTimeout    time.Duration
	ConnectionTimeout time.Duration
}

const (
	defaultListen            = ":8080"
	defaultRequestTimeout    = 30 * time.Second
	defaultConnectionTimeout = 10 * time.Second
	defaultRedirectStatus    = 302
	defaultRespondStatus     = 200
)

// MiddlewareKind tags the closed set of middleware variants.
type MiddlewareKind int

const (
	MiddlewareCORS MiddlewareKind = iota
	MiddlewareGzip
	MiddlewareLogging
	MiddlewareRateLimit
)

func (k MiddlewareKind) String() string {
	switch k {
	case MiddlewareCORS:
		return "cors"
	case MiddlewareGzip:
		return "gzip"
	case MiddlewareLogging:
		return "logging"
	case MiddlewareRateLimit:
		return "rate_limit"
	default:
		return fmt.Sprintf("MiddlewareKind(%d)", int(k))
	}
}

type MiddlewareConfig struct {
	Kind MiddlewareKind

	// RateLimit is the per-window request budget for MiddlewareRateLimit.
	RateLimit int
}

type compiler struct {
	errs []ValidationError
}

func (c *compiler) errorf(pos position, construct, format string, args ...any) {
	c.errs = append(c.errs, ValidationError{
		Message:   fmt.Sprintf(format, args...),
		Pos:       pos.String(),
		Construct: construct,
	})
}

// Compile validates the AST and builds the routing model. All detectable
// semantic errors are collected; the model is usable only when the result
// reports OK.
func Compile(cfg *Config) (*Compiled, ValidationResult) {
	c := &compiler{}

	out := &Compiled{
		Server: ServerConfig{Listen: defaultListen},
	}
	if cfg == nil {
		return nil, ValidationResult{Errors: []ValidationError{{Message: "empty config"}}}
	}

	c.compileServer(cfg.Server, &out.Server)

	if len(cfg.VirtualHosts) == 0 {
		c.errs = append(c.errs, ValidationError{Message: "config declares no virtual hosts"})
	}

	seenHosts := map[string]string{}
	for _, vh := range cfg.VirtualHosts {
		out.Hosts = append(out.Hosts, c.compileVirtualHost(vh, seenHosts))
	}

	if len(c.errs) > 0 {
		return nil, ValidationResult{Errors: c.errs}
	}
	return out, ValidationResult{OK: true}
}

func (c *compiler) compileServer(b *ServerBlock, out *ServerConfig) {
	if b == nil {
		return
	}
	if b.ListenSet {
		if b.Listen == "" {
			c.errs = append(c.errs, ValidationError{Message: "listen address must not be empty", Construct: "server"})
		} else {
			out.Listen = b.Listen
		}
	}
	if b.MetricsSet {
		switch b.Metrics {
		case "on":
			out.MetricsEnabled = true
		case "off":
		default:
			c.errs = append(c.errs, ValidationError{
				Message:   fmt.Sprintf("metrics must be \"on\" or \"off\", got %q", b.Metrics),
				Construct: "server",
			})
		}
	}
	if b.Tracing != nil {
		c.compileTracing(b.Tracing, &out.Tracing)
	}
}

func (c *compiler) compileTracing(b *TracingBlock, out *TracingConfig) {
	if b.EnabledSet {
		switch b.Enabled {
		case "true", "on":
			out.Enabled = true
		case "false", "off":
		default:
			c.errs = append(c.errs, ValidationError{
				Message:   fmt.Sprintf("tracing enabled must be \"true\" or \"false\", got %q", b.Enabled),
				Construct: "server tracing",
			})
		}
	}
	if b.CollectorSet {
		u, err := url.Parse(b.Collector)
		if err != nil || !u.IsAbs() || u.Host == "" {
			c.errs = append(c.errs, ValidationError{
				Message:   fmt.Sprintf("tracing collector %q is not an absolute URL", b.Collector),
				Construct: "server tracing",
			})
		} else {
			out.Collector = b.Collector
		}
	}
	if b.InsecureSet {
		switch b.Insecure {
		case "true", "on":
			out.Insecure = true
		case "false", "off":
		default:
			c.errs = append(c.errs, ValidationError{
				Message:   fmt.Sprintf("tracing insecure must be \"true\" or \"false\", got %q", b.Insecure),
				Construct: "server tracing",
			})
		}
	}
	if out.Enabled && out.Collector == "" {
		c.errs = append(c.errs, ValidationError{
			Message:   "tracing enabled without a collector URL",
			Construct: "server tracing",
		})
	}
}

func (c *compiler) compileVirtualHost(vh VirtualHost, seenHosts map[string]string) CompiledVirtualHost {
	out := CompiledVirtualHost{}

	for _, raw := range vh.Hosts {
		name := NormalizeHost(raw)
		if name == "" {
			c.errorf(vh.Pos, "host", "host name %q is empty after normalization", raw)
			continue
		}
		if prev, ok := seenHosts[name]; ok {
			c.errorf(vh.Pos, fmt.Sprintf("host %q", raw), "duplicate host name (already declared at %s)", prev)
			continue
		}
		seenHosts[name] = vh.Pos.String()
		out.Hosts = append(out.Hosts, name)
	}

	if len(vh.Routes) == 0 {
		c.errorf(vh.Pos, fmt.Sprintf("host %q", firstHost(vh)), "virtual host declares no routes")
	}

	seenPatterns := map[string]string{}
	for _, route := range vh.Routes {
		prev, dup := seenPatterns[route.Path]
		if dup {
			c.errorf(route.Pos, fmt.Sprintf("route %q", route.Path), "duplicate route pattern (already declared at %s)", prev)
		} else {
			seenPatterns[route.Path] = route.Pos.String()
		}

		// Duplicates still get their body checked so one pass reports
		// everything.
		cr, ok := c.compileRoute(route)
		if !ok || dup {
			continue
		}
		out.Routes = append(out.Routes, cr)
	}
	return out
}

func firstHost(vh VirtualHost) string {
	if len(vh.Hosts) > 0 {
		return vh.Hosts[0]
	}
	return "?"
}

func (c *compiler) compileRoute(route Route) (CompiledRoute, bool) {
	construct := fmt.Sprintf("route %q", route.Path)
	out := CompiledRoute{Pattern: newPathPattern(route.Path)}

	switch len(route.Handlers) {
	case 0:
		c.errorf(route.Pos, construct, "route declares no handler")
		return CompiledRoute{}, false
	case 1:
	default:
		c.errorf(route.Handlers[1].Pos, construct,
			"route declares %d handlers, want exactly one", len(route.Handlers))
		return CompiledRoute{}, false
	}

	h, ok := c.compileHandler(route.Handlers[0], construct)
	if !ok {
		return CompiledRoute{}, false
	}
	out.Handler = h

	for _, mw := range route.Middlewares {
		m, mok := c.compileMiddleware(mw, construct)
		if mok {
			out.Middlewares = append(out.Middlewares, m)
		}
	}
	return out, true
}

func (c *compiler) compileHandler(decl HandlerDecl, construct string) (HandlerConfig, bool) {
	switch decl.Kind {
	case "file":
		if len(decl.Args) != 1 {
			c.errorf(decl.Pos, construct, "file takes exactly one path argument, got %d", len(decl.Args))
			return HandlerConfig{}, false
		}
		return HandlerConfig{Kind: HandlerFile, Path: decl.Args[0].Text}, true

	case "directory":
		if len(decl.Args) != 1 {
			c.errorf(decl.Pos, construct, "directory takes exactly one path argument, got %d", len(decl.Args))
			return HandlerConfig{}, false
		}
		return HandlerConfig{Kind: HandlerDirectory, Path: decl.Args[0].Text}, true

	case "respond":
		return c.compileRespond(decl, construct)

	case "redirect":
		return c.compileRedirect(decl, construct)

	case "proxy":
		return c.compileProxy(decl, construct)

	default:
		c.errorf(decl.Pos, construct, "unknown handler %q", decl.Kind)
		return HandlerConfig{}, false
	}
}

// compileRespond accepts `respond [STATUS] [BODY]` and, for compatibility,
// the reversed `respond BODY STATUS`. A lone string argument is a body with
// status 200.
func (c *compiler) compileRespond(decl HandlerDecl, construct string) (HandlerConfig, bool) {
	out := HandlerConfig{Kind: HandlerRespond, RespondStatus: defaultRespondStatus}

	status := func(arg Arg) bool {
		n, err := strconv.Atoi(arg.Text)
		if err != nil || n < 100 || n > 599 {
			c.errorf(arg.Pos, construct, "respond status %q must be an integer in 100..599", arg.Text)
			return false
		}
		out.RespondStatus = n
		return true
	}

	switch len(decl.Args) {
	case 0:
		return out, true
	case 1:
		arg := decl.Args[0]
		if arg.Number {
			return out, status(arg)
		}
		out.RespondBody = arg.Text
		return out, true
	case 2:
		a, b := decl.Args[0], decl.Args[1]
		switch {
		case a.Number && !b.Number:
			out.RespondBody = b.Text
			return out, status(a)
		case !a.Number && b.Number:
			out.RespondBody = a.Text
			return out, status(b)
		default:
			c.errorf(decl.Pos, construct, "respond takes a status and an optional body")
			return HandlerConfig{}, false
		}
	default:
		c.errorf(decl.Pos, construct, "respond takes at most two arguments, got %d", len(decl.Args))
		return HandlerConfig{}, false
	}
}

func (c *compiler) compileRedirect(decl HandlerDecl, construct string) (HandlerConfig, bool) {
	out := HandlerConfig{Kind: HandlerRedirect, RedirectStatus: defaultRedirectStatus}

	switch len(decl.Args) {
	case 1:
		out.RedirectTo = decl.Args[0].Text
	case 2:
		out.RedirectTo = decl.Args[0].Text
		arg := decl.Args[1]
		n, err := strconv.Atoi(arg.Text)
		if err != nil || n < 300 || n > 399 {
			c.errorf(arg.Pos, construct, "redirect status %q must be a 3xx code", arg.Text)
			return HandlerConfig{}, false
		}
		out.RedirectStatus = n
	default:
		c.errorf(decl.Pos, construct, "redirect takes a target and an optional 3xx status, got %d arguments", len(decl.Args))
		return HandlerConfig{}, false
	}
	if out.RedirectTo == "" {
		c.errorf(decl.Pos, construct, "redirect target must not be empty")
		return HandlerConfig{}, false
	}
	return out, true
}

func (c *compiler) compileProxy(decl HandlerDecl, construct string) (HandlerConfig, bool) {
	pc := &ProxyConfig{
		RequestTimeout:    defaultRequestTimeout,
		ConnectionTimeout: defaultConnectionTimeout,
	}

	var rawUpstreams []Arg
	policy := ""
	policySet := false

	if decl.Proxy != nil {
		block := decl.Proxy
		rawUpstreams = block.Upstreams
		if block.LBPolicySet {
			policy = block.LBPolicy.Text
			policySet = true
		}
		if block.RequestTimeoutSet {
			if d, ok := c.timeoutSeconds(block.RequestTimeout, "request_timeout", construct); ok {
				pc.RequestTimeout = d
			} else {
				return HandlerConfig{}, false
			}
		}
		if block.ConnectionTimeoutSet {
			if d, ok := c.timeoutSeconds(block.ConnectionTimeout, "connection_timeout", construct); ok {
				pc.ConnectionTimeout = d
			} else {
				return HandlerConfig{}, false
			}
		}
	} else {
		rawUpstreams = decl.Args
	}

	if len(rawUpstreams) == 0 {
		c.errorf(decl.Pos, construct, "proxy requires at least one upstream URL")
		return HandlerConfig{}, false
	}

	ok := true
	for _, arg := range rawUpstreams {
		u, err := url.Parse(arg.Text)
		if err != nil || !u.IsAbs() || u.Host == "" {
			c.errorf(arg.Pos, construct, "upstream %q is not an absolute URL", arg.Text)
			ok = false
			continue
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			c.errorf(arg.Pos, construct, "upstream %q must use http or https, got %q", arg.Text, u.Scheme)
			ok = false
			continue
		}
		pc.Upstreams = append(pc.Upstreams, u)
	}
	if !ok {
		return HandlerConfig{}, false
	}

	switch policy {
	case "":
		if len(pc.Upstreams) > 1 {
			pc.Policy = LBRoundRobin
		}
	case "round_robin":
		pc.Policy = LBRoundRobin
	default:
		pos := decl.Pos
		if policySet {
			pos = decl.Proxy.LBPolicy.Pos
		}
		c.errorf(pos, construct, "unknown lb_policy %q (want \"round_robin\")", policy)
		return HandlerConfig{}, false
	}

	return HandlerConfig{Kind: HandlerProxy, Proxy: pc}, true
}

func (c *compiler) timeoutSeconds(arg Arg, directive, construct string) (time.Duration, bool) {
	n, err := strconv.Atoi(arg.Text)
	if err != nil || n <= 0 {
		c.errorf(arg.Pos, construct, "%s %q must be a positive integer (seconds)", directive, arg.Text)
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

func (c *compiler) compileMiddleware(decl MiddlewareDecl, construct string) (MiddlewareConfig, bool) {
	switch decl.Kind {
	case "cors", "gzip", "logging":
		if len(decl.Args) != 0 {
			c.errorf(decl.Pos, construct, "%s takes no arguments, got %d", decl.Kind, len(decl.Args))
			return MiddlewareConfig{}, false
		}
		kind := map[string]MiddlewareKind{
			"cors": MiddlewareCORS, "gzip": MiddlewareGzip, "logging": MiddlewareLogging,
		}[decl.Kind]
		return MiddlewareConfig{Kind: kind}, true

	case "rate_limit":
		if len(decl.Args) != 1 {
			c.errorf(decl.Pos, construct, "rate_limit takes exactly one argument, got %d", len(decl.Args))
			return MiddlewareConfig{}, false
		}
		n, err := strconv.Atoi(decl.Args[0].Text)
		if err != nil || n <= 0 {
			c.errorf(decl.Args[0].Pos, construct, "rate_limit %q must be a positive integer", decl.Args[0].Text)
			return MiddlewareConfig{}, false
		}
		return MiddlewareConfig{Kind: MiddlewareRateLimit, RateLimit: n}, true

	default:
		c.errorf(decl.Pos, construct, "unknown middleware %q", decl.Kind)
		return MiddlewareConfig{}, false
	}
}

// NormalizeHost lowercases a host name and strips any trailing port, so
// request Host headers like "Example.COM:8080" compare against config host
// names consistently.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	// Bracketed IPv6 literals keep their brackets; only a port after the
	// closing bracket is stripped.
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end >= 0 {
			host = host[:end+1]
		}
	} else if i := strings.LastIndexByte(host, ':'); i >= 0 && strings.Count(host, ":") == 1 {
		host = host[:i]
	}
	return strings.ToLower(host)
}
