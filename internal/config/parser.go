package config

import (
	"errors"
	"fmt"
	"strings"
)

// SyntaxError is a malformed-configuration error with source position.
// Either Msg or the Expected/Found pair is populated.
type SyntaxError struct {
	Msg      string
	Expected string
	Found    string
	Pos      position
}

func (e *SyntaxError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("config parse error at %s: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("config parse error at %s: expected %s, found %s", e.Pos, e.Expected, e.Found)
}

var handlerKeywords = map[string]bool{
	"file":      true,
	"directory": true,
	"respond":   true,
	"redirect":  true,
	"proxy":     true,
}

var middlewareKeywords = map[string]bool{
	"cors":       true,
	"gzip":       true,
	"logging":    true,
	"rate_limit": true,
}

func isStatementKeyword(word string) bool {
	return word == "route" || handlerKeywords[word] || middlewareKeywords[word]
}

type parser struct {
	lex     *lexer
	peeked  token
	hasPeek bool

	// errs collects recoverable syntax errors found inside route bodies.
	// Any entry fails the parse overall, but collection lets one pass
	// surface several problems.
	errs []error
}

func newParser(src string) *parser {
	return &parser{lex: newLexer(src)}
}

func (p *parser) parse() (*Config, error) {
	cfg := &Config{}

	var sawStmt bool
	for {
		tok := p.peek()
		if tok.kind == tokEOF {
			break
		}
		if tok.kind == tokComment {
			p.next()
			if !sawStmt {
				cfg.Preamble = append(cfg.Preamble, tok.text)
			}
			continue
		}

		sawStmt = true
		switch tok.kind {
		case tokIdent, tokString, tokNumber:
			if tok.kind == tokIdent && tok.text == "server" {
				p.next()
				if p.peek().kind == tokLBrace {
					if cfg.Server != nil {
						return nil, p.errAt(tok.pos, "duplicate server block")
					}
					b, err := p.parseServerBlock()
					if err != nil {
						return nil, err
					}
					cfg.Server = b
					continue
				}
				// Not a block: treat "server" as the first host name.
				vh, err := p.parseVirtualHost(tok)
				if err != nil {
					return nil, err
				}
				cfg.VirtualHosts = append(cfg.VirtualHosts, vh)
				continue
			}
			p.next()
			vh, err := p.parseVirtualHost(tok)
			if err != nil {
				return nil, err
			}
			cfg.VirtualHosts = append(cfg.VirtualHosts, vh)
		default:
			return nil, p.errExpected(tok, "host name")
		}
	}

	if !sawStmt {
		return nil, nil
	}
	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	return cfg, nil
}

// parseVirtualHost parses `host [host...] { route* }`. The first host token
// has already been consumed and is passed in.
func (p *parser) parseVirtualHost(first token) (VirtualHost, error) {
	vh := VirtualHost{Pos: first.pos}

	addHost := func(tok token) error {
		name := strings.TrimSuffix(tok.text, ",")
		if name == "" || strings.HasPrefix(name, "/") {
			return p.errAt(tok.pos, "expected host name, found %q", tok.text)
		}
		vh.Hosts = append(vh.Hosts, name)
		vh.HostsQuoted = append(vh.HostsQuoted, tok.kind == tokString)
		return nil
	}
	if err := addHost(first); err != nil {
		return VirtualHost{}, err
	}

	for {
		tok := p.peek()
		switch tok.kind {
		case tokIdent, tokString, tokNumber:
			p.next()
			if err := addHost(tok); err != nil {
				return VirtualHost{}, err
			}
		case tokLBrace:
			p.next()
			routes, err := p.parseVirtualHostBody(vh.Hosts[0])
			if err != nil {
				return VirtualHost{}, err
			}
			vh.Routes = routes
			return vh, nil
		default:
			return VirtualHost{}, p.errExpected(tok, fmt.Sprintf("'{' after host list for %q", vh.Hosts[0]))
		}
	}
}

func (p *parser) parseVirtualHostBody(host string) ([]Route, error) {
	var routes []Route
	for {
		tok := p.peek()
		switch {
		case tok.kind == tokRBrace:
			p.next()
			return routes, nil
		case tok.kind == tokEOF:
			return nil, p.errAt(tok.pos, "unexpected end of input in host %q (missing '}')", host)
		case tok.kind == tokComment:
			p.next()
		case tok.kind == tokIdent && tok.text == "route":
			p.next()
			route, err := p.parseRoute()
			if err != nil {
				return nil, err
			}
			routes = append(routes, route)
		default:
			return nil, p.errExpected(tok, fmt.Sprintf("'route' or '}' in host %q", host))
		}
	}
}

// parseRoute parses `PATH { stmt+ }` after the `route` keyword. Statement
// errors inside the body are collected and parsing resumes at the next
// statement boundary, so several problems surface in one pass.
func (p *parser) parseRoute() (Route, error) {
	pathTok := p.next()
	var path string
	pathQuoted := false
	switch pathTok.kind {
	case tokString:
		path = pathTok.text
		pathQuoted = true
	case tokIdent:
		path = pathTok.text
	default:
		return Route{}, p.errExpected(pathTok, "route path")
	}
	if !strings.HasPrefix(path, "/") {
		return Route{}, p.errAt(pathTok.pos, "route path %q must start with '/'", path)
	}
	if tok := p.next(); tok.kind != tokLBrace {
		return Route{}, p.errExpected(tok, fmt.Sprintf("'{' after route %q", path))
	}

	route := Route{Path: path, PathQuoted: pathQuoted, Pos: pathTok.pos}

	for {
		tok := p.peek()
		switch {
		case tok.kind == tokRBrace:
			p.next()
			return route, nil
		case tok.kind == tokEOF:
			return Route{}, p.errAt(tok.pos, "unexpected end of input in route %q (missing '}')", path)
		case tok.kind == tokComment:
			p.next()
		case tok.kind == tokIdent && handlerKeywords[tok.text]:
			p.next()
			decl, err := p.parseHandlerStmt(tok)
			if err != nil {
				p.recordAndSkip(err)
				continue
			}
			route.Handlers = append(route.Handlers, decl)
		case tok.kind == tokIdent && middlewareKeywords[tok.text]:
			p.next()
			route.Middlewares = append(route.Middlewares, MiddlewareDecl{
				Kind: tok.text,
				Pos:  tok.pos,
				Args: p.parseArgs(),
			})
		default:
			p.recordAndSkip(p.errExpected(tok, "handler or middleware statement"))
		}
	}
}

func (p *parser) parseHandlerStmt(kw token) (HandlerDecl, error) {
	decl := HandlerDecl{Kind: kw.text, Pos: kw.pos}

	if p.peek().kind == tokLBrace {
		if kw.text != "proxy" {
			// Forward-compatible: only proxy defines block keys today.
			err := p.errAt(p.peek().pos, "handler %q does not take a block", kw.text)
			p.skipBlock()
			return HandlerDecl{}, err
		}
		block, err := p.parseProxyBlock()
		if err != nil {
			return HandlerDecl{}, err
		}
		decl.Proxy = block
		return decl, nil
	}

	decl.Args = p.parseArgs()
	return decl, nil
}

// parseArgs consumes the bare arguments following a handler or middleware
// keyword: strings, numbers, and identifiers that are not themselves
// statement keywords.
func (p *parser) parseArgs() []Arg {
	var args []Arg
	for {
		tok := p.peek()
		switch tok.kind {
		case tokString:
			p.next()
			args = append(args, Arg{Text: tok.text, Quoted: true, Pos: tok.pos})
		case tokNumber:
			p.next()
			args = append(args, Arg{Text: tok.text, Number: true, Pos: tok.pos})
		case tokIdent:
			if isStatementKeyword(tok.text) {
				return args
			}
			p.next()
			args = append(args, Arg{Text: tok.text, Pos: tok.pos})
		default:
			return args
		}
	}
}

func (p *parser) parseProxyBlock() (*ProxyBlock, error) {
	open := p.next() // consume '{'
	out := &ProxyBlock{}

	for {
		tok := p.peek()
		switch tok.kind {
		case tokRBrace:
			p.next()
			return out, nil
		case tokEOF:
			return nil, p.errAt(open.pos, "unexpected end of input in proxy block (missing '}')")
		case tokComment:
			p.next()
			continue
		}

		dirTok := p.next()
		if dirTok.kind != tokIdent {
			err := p.errExpected(dirTok, "proxy directive")
			p.skipToBlockEnd()
			return nil, err
		}
		switch dirTok.text {
		case "upstreams":
			vals := p.parseArgs()
			if len(vals) == 0 && len(out.Upstreams) == 0 {
				// Leave Upstreams empty; the validator reports it with
				// this position attached.
				continue
			}
			out.Upstreams = append(out.Upstreams, vals...)
		case "lb_policy":
			if out.LBPolicySet {
				err := p.errAt(dirTok.pos, "duplicate proxy lb_policy")
				p.skipToBlockEnd()
				return nil, err
			}
			v, err := p.parseValue("lb_policy")
			if err != nil {
				p.skipToBlockEnd()
				return nil, err
			}
			out.LBPolicy = v
			out.LBPolicySet = true
		case "request_timeout":
			if out.RequestTimeoutSet {
				err := p.errAt(dirTok.pos, "duplicate proxy request_timeout")
				p.skipToBlockEnd()
				return nil, err
			}
			v, err := p.parseValue("request_timeout")
			if err != nil {
				p.skipToBlockEnd()
				return nil, err
			}
			out.RequestTimeout = v
			out.RequestTimeoutSet = true
		case "connection_timeout":
			if out.ConnectionTimeoutSet {
				err := p.errAt(dirTok.pos, "duplicate proxy connection_timeout")
				p.skipToBlockEnd()
				return nil, err
			}
			v, err := p.parseValue("connection_timeout")
			if err != nil {
				p.skipToBlockEnd()
				return nil, err
			}
			out.ConnectionTimeout = v
			out.ConnectionTimeoutSet = true
		default:
			err := p.errAt(dirTok.pos, "unknown proxy directive %q", dirTok.text)
			p.skipToBlockEnd()
			return nil, err
		}
	}
}

func (p *parser) parseServerBlock() (*ServerBlock, error) {
	p.next() // consume '{'
	out := &ServerBlock{}

	for {
		tok := p.peek()
		switch tok.kind {
		case tokRBrace:
			p.next()
			return out, nil
		case tokEOF:
			return nil, p.errAt(tok.pos, "unexpected end of input in server block (missing '}')")
		case tokComment:
			p.next()
			continue
		}

		dirTok := p.next()
		if dirTok.kind != tokIdent {
			return nil, p.errExpected(dirTok, "server directive")
		}
		switch dirTok.text {
		case "listen":
			if out.ListenSet {
				return nil, p.errAt(dirTok.pos, "duplicate server listen")
			}
			v, err := p.parseValue("listen")
			if err != nil {
				return nil, err
			}
			out.Listen = v.Text
			out.ListenQuoted = v.Quoted
			out.ListenSet = true
		case "metrics":
			if out.MetricsSet {
				return nil, p.errAt(dirTok.pos, "duplicate server metrics")
			}
			v, err := p.parseValue("metrics")
			if err != nil {
				return nil, err
			}
			out.Metrics = v.Text
			out.MetricsQuoted = v.Quoted
			out.MetricsSet = true
		case "tracing":
			if out.Tracing != nil {
				return nil, p.errAt(dirTok.pos, "duplicate server tracing block")
			}
			b, err := p.parseTracingBlock()
			if err != nil {
				return nil, err
			}
			out.Tracing = b
		default:
			return nil, p.errAt(dirTok.pos, "unknown server directive %q", dirTok.text)
		}
	}
}

func (p *parser) parseTracingBlock() (*TracingBlock, error) {
	if tok := p.next(); tok.kind != tokLBrace {
		return nil, p.errExpected(tok, "'{' after tracing")
	}
	out := &TracingBlock{}

	for {
		tok := p.peek()
		switch tok.kind {
		case tokRBrace:
			p.next()
			return out, nil
		case tokEOF:
			return nil, p.errAt(tok.pos, "unexpected end of input in tracing block (missing '}')")
		case tokComment:
			p.next()
			continue
		}

		dirTok := p.next()
		if dirTok.kind != tokIdent {
			return nil, p.errExpected(dirTok, "tracing directive")
		}
		switch dirTok.text {
		case "enabled":
			if out.EnabledSet {
				return nil, p.errAt(dirTok.pos, "duplicate tracing enabled")
			}
			v, err := p.parseValue("enabled")
			if err != nil {
				return nil, err
			}
			out.Enabled = v.Text
			out.EnabledQuoted = v.Quoted
			out.EnabledSet = true
		case "collector":
			if out.CollectorSet {
				return nil, p.errAt(dirTok.pos, "duplicate tracing collector")
			}
			v, err := p.parseValue("collector")
			if err != nil {
				return nil, err
			}
			out.Collector = v.Text
			out.CollectorQuoted = v.Quoted
			out.CollectorSet = true
		case "insecure":
			if out.InsecureSet {
				return nil, p.errAt(dirTok.pos, "duplicate tracing insecure")
			}
			v, err := p.parseValue("insecure")
			if err != nil {
				return nil, err
			}
			out.Insecure = v.Text
			out.InsecureQuoted = v.Quoted
			out.InsecureSet = true
		default:
			return nil, p.errAt(dirTok.pos, "unknown tracing directive %q", dirTok.text)
		}
	}
}

func (p *parser) parseValue(directive string) (Arg, error) {
	tok := p.next()
	switch tok.kind {
	case tokString:
		return Arg{Text: tok.text, Quoted: true, Pos: tok.pos}, nil
	case tokNumber:
		return Arg{Text: tok.text, Number: true, Pos: tok.pos}, nil
	case tokIdent:
		return Arg{Text: tok.text, Pos: tok.pos}, nil
	default:
		return Arg{}, p.errExpected(tok, fmt.Sprintf("value after %s", directive))
	}
}

// recordAndSkip stores a recoverable statement error and advances to the
// next statement boundary inside the current route body.
func (p *parser) recordAndSkip(err error) {
	p.errs = append(p.errs, err)
	for {
		tok := p.peek()
		if tok.kind == tokEOF || tok.kind == tokRBrace {
			return
		}
		if tok.kind == tokIdent && isStatementKeyword(tok.text) {
			return
		}
		if tok.kind == tokLBrace {
			p.skipBlock()
			continue
		}
		p.next()
	}
}

// skipBlock consumes a balanced `{ ... }` starting at the current '{'.
func (p *parser) skipBlock() {
	if p.peek().kind != tokLBrace {
		return
	}
	p.next()
	depth := 1
	for depth > 0 {
		tok := p.next()
		switch tok.kind {
		case tokLBrace:
			depth++
		case tokRBrace:
			depth--
		case tokEOF:
			return
		}
	}
}

// skipToBlockEnd consumes the remainder of an already-open block, up to and
// including its closing '}'.
func (p *parser) skipToBlockEnd() {
	depth := 1
	for depth > 0 {
		tok := p.next()
		switch tok.kind {
		case tokLBrace:
			depth++
		case tokRBrace:
			depth--
		case tokEOF:
			return
		}
	}
}

func (p *parser) peek() token {
	if p.hasPeek {
		return p.peeked
	}
	p.peeked = p.lex.nextToken()
	p.hasPeek = true
	return p.peeked
}

func (p *parser) next() token {
	if p.hasPeek {
		p.hasPeek = false
		return p.peeked
	}
	return p.lex.nextToken()
}

func (p *parser) errExpected(found token, expected string) *SyntaxError {
	foundText := found.kind.String()
	switch found.kind {
	case tokIdent, tokNumber:
		foundText = fmt.Sprintf("%q", found.text)
	case tokString:
		foundText = fmt.Sprintf("string %q", found.text)
	case tokInvalid:
		foundText = found.text
	}
	return &SyntaxError{Expected: expected, Found: foundText, Pos: found.pos}
}

func (p *parser) errAt(pos position, format string, args ...any) *SyntaxError {
	return &SyntaxError{Msg: fmt.Sprintf(format, args...), Pos: pos}
}
