package config

import (
	"bytes"
	"fmt"
	"strings"
)

func format(cfg *Config) ([]byte, error) {
	var b bytes.Buffer

	for _, c := range cfg.Preamble {
		line := strings.TrimRight(c, "\r\n")
		if line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	hasBody := cfg.Server != nil || len(cfg.VirtualHosts) > 0
	if len(cfg.Preamble) > 0 && hasBody {
		b.WriteByte('\n')
	}

	if cfg.Server != nil {
		writeServerBlock(&b, cfg.Server)
		if len(cfg.VirtualHosts) > 0 {
			b.WriteByte('\n')
		}
	}

	for i, vh := range cfg.VirtualHosts {
		writeVirtualHostBlock(&b, vh)
		if i != len(cfg.VirtualHosts)-1 {
			b.WriteByte('\n')
		}
	}

	return b.Bytes(), nil
}

func writeServerBlock(b *bytes.Buffer, s *ServerBlock) {
	b.WriteString("server {\n")
	if s.ListenSet {
		fmt.Fprintf(b, "  listen %s\n", formatValue(s.Listen, s.ListenQuoted))
	}
	if s.MetricsSet {
		fmt.Fprintf(b, "  metrics %s\n", formatValue(s.Metrics, s.MetricsQuoted))
	}
	if s.Tracing != nil {
		writeTracingBlock(b, s.Tracing)
	}
	b.WriteString("}\n")
}

func writeTracingBlock(b *bytes.Buffer, t *TracingBlock) {
	b.WriteString("  tracing {\n")
	if t.EnabledSet {
		fmt.Fprintf(b, "    enabled %s\n", formatValue(t.Enabled, t.EnabledQuoted))
	}
	if t.CollectorSet {
		fmt.Fprintf(b, "    collector %s\n", formatValue(t.Collector, t.CollectorQuoted))
	}
	if t.InsecureSet {
		fmt.Fprintf(b, "    insecure %s\n", formatValue(t.Insecure, t.InsecureQuoted))
	}
	b.WriteString("  }\n")
}

func writeVirtualHostBlock(b *bytes.Buffer, vh VirtualHost) {
	for i, host := range vh.Hosts {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(formatValue(host, quotedAt(vh.HostsQuoted, i)))
	}
	b.WriteString(" {\n")
	for i, route := range vh.Routes {
		writeRouteBlock(b, route)
		if i != len(vh.Routes)-1 {
			b.WriteByte('\n')
		}
	}
	b.WriteString("}\n")
}

func writeRouteBlock(b *bytes.Buffer, r Route) {
	fmt.Fprintf(b, "  route %s {\n", formatPath(r.Path, r.PathQuoted))
	for _, h := range r.Handlers {
		writeHandlerStmt(b, h)
	}
	for _, m := range r.Middlewares {
		b.WriteString("    ")
		b.WriteString(m.Kind)
		writeArgs(b, m.Args)
		b.WriteByte('\n')
	}
	b.WriteString("  }\n")
}

func writeHandlerStmt(b *bytes.Buffer, h HandlerDecl) {
	if h.Proxy != nil {
		writeProxyBlock(b, h.Proxy)
		return
	}
	b.WriteString("    ")
	b.WriteString(h.Kind)
	writeArgs(b, h.Args)
	b.WriteByte('\n')
}

func writeProxyBlock(b *bytes.Buffer, p *ProxyBlock) {
	b.WriteString("    proxy {\n")
	if len(p.Upstreams) > 0 {
		b.WriteString("      upstreams")
		writeArgs(b, p.Upstreams)
		b.WriteByte('\n')
	}
	if p.LBPolicySet {
		fmt.Fprintf(b, "      lb_policy %s\n", formatArg(p.LBPolicy))
	}
	if p.RequestTimeoutSet {
		fmt.Fprintf(b, "      request_timeout %s\n", formatArg(p.RequestTimeout))
	}
	if p.ConnectionTimeoutSet {
		fmt.Fprintf(b, "      connection_timeout %s\n", formatArg(p.ConnectionTimeout))
	}
	b.WriteString("    }\n")
}

func writeArgs(b *bytes.Buffer, args []Arg) {
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(formatArg(a))
	}
}

func formatArg(a Arg) string {
	if a.Number {
		return a.Text
	}
	return formatValue(a.Text, a.Quoted)
}

func formatPath(path string, quoted bool) string {
	if !quoted && isUnquotedPathSafe(path) {
		return path
	}
	return quoteString(path)
}

func formatValue(val string, quoted bool) string {
	if quoted {
		return quoteString(val)
	}
	if isUnquotedValueSafe(val) {
		return val
	}
	return quoteString(val)
}

func isUnquotedPathSafe(path string) bool {
	if path == "" || !strings.HasPrefix(path, "/") {
		return false
	}
	for _, r := range path {
		switch r {
		case ' ', '\t', '\n', '\r', '{', '}', '"', '#':
			return false
		}
	}
	return true
}

func isUnquotedValueSafe(val string) bool {
	if val == "" {
		return false
	}
	for _, r := range val {
		switch r {
		case ' ', '\t', '\n', '\r', '{', '}', '"', '#':
			return false
		}
	}
	return true
}

func quotedAt(flags []bool, idx int) bool {
	if idx < 0 || idx >= len(flags) {
		return false
	}
	return flags[idx]
}

func quoteString(s string) string {
	var out strings.Builder
	out.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			out.WriteString(`\\`)
		case '"':
			out.WriteString(`\"`)
		case '\n':
			out.WriteString(`\n`)
		case '\t':
			out.WriteString(`\t`)
		case '\r':
			out.WriteString(`\r`)
		default:
			out.WriteRune(r)
		}
	}
	out.WriteByte('"')
	return out.String()
}
