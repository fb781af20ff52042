package config

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParseFormat_PreservesPreamble(t *testing.T) {
	in := []byte(`# Rampartfile
# edge config for example.com

example.com {
  route / {
    file "/srv/www/index.html"
  }
}
`)

	cfg, err := Parse(in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	out, err := Format(cfg)
	if err != nil {
		t.Fatalf("format: %v", err)
	}

	got := string(out)
	if !strings.Contains(got, "# Rampartfile") || !strings.Contains(got, "# edge config for example.com") {
		t.Fatalf("expected preamble to be preserved, got:\n%s", got)
	}
	if !strings.Contains(got, "example.com {") {
		t.Fatalf("expected host block, got:\n%s", got)
	}
	if !strings.Contains(got, `file "/srv/www/index.html"`) {
		t.Fatalf("expected file handler, got:\n%s", got)
	}
}

func TestParse_MultipleHostsAndCommas(t *testing.T) {
	in := []byte(`example.com, www.example.com {
  route / { respond 200 "ok" }
}
`)

	cfg, err := Parse(in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.VirtualHosts) != 1 {
		t.Fatalf("virtual hosts: got %d", len(cfg.VirtualHosts))
	}
	vh := cfg.VirtualHosts[0]
	if len(vh.Hosts) != 2 || vh.Hosts[0] != "example.com" || vh.Hosts[1] != "www.example.com" {
		t.Fatalf("hosts: %#v", vh.Hosts)
	}
}

func TestParse_SyntaxErrorHasPosition(t *testing.T) {
	in := []byte(`example.com {
  route nope {
    respond 200
  }
}
`)

	_, err := Parse(in)
	if err == nil {
		t.Fatal("expected parse error")
	}
	var se *SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SyntaxError, got %T: %v", err, err)
	}
	if se.Pos.line != 2 {
		t.Fatalf("error line: got %d, want 2", se.Pos.line)
	}
	if !strings.Contains(err.Error(), "must start with '/'") {
		t.Fatalf("error text: %v", err)
	}
}

func TestParse_CollectsMultipleStatementErrors(t *testing.T) {
	in := []byte(`example.com {
  route /a {
    bogus_one
    respond 200
    bogus_two
  }
}
`)

	_, err := Parse(in)
	if err == nil {
		t.Fatal("expected parse error")
	}
	msg := err.Error()
	if !strings.Contains(msg, `"bogus_one"`) || !strings.Contains(msg, `"bogus_two"`) {
		t.Fatalf("expected both statement errors, got: %v", err)
	}
}

func TestParse_ProxySimpleAndBlockForms(t *testing.T) {
	in := []byte(`example.com {
  route /simple {
    proxy http://backend:9000
  }
  route /pool {
    proxy {
      upstreams http://b1:9000 http://b2:9000
      lb_policy round_robin
      request_timeout 5
      connection_timeout 1
    }
  }
}
`)

	cfg, err := Parse(in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	routes := cfg.VirtualHosts[0].Routes
	if len(routes) != 2 {
		t.Fatalf("routes: got %d", len(routes))
	}

	simple := routes[0].Handlers[0]
	if simple.Proxy != nil || len(simple.Args) != 1 || simple.Args[0].Text != "http://backend:9000" {
		t.Fatalf("simple form: %#v", simple)
	}

	block := routes[1].Handlers[0]
	if block.Proxy == nil {
		t.Fatalf("block form: %#v", block)
	}
	if len(block.Proxy.Upstreams) != 2 {
		t.Fatalf("upstreams: %#v", block.Proxy.Upstreams)
	}
	if !block.Proxy.LBPolicySet || block.Proxy.LBPolicy.Text != "round_robin" {
		t.Fatalf("lb_policy: %#v", block.Proxy.LBPolicy)
	}
	if !block.Proxy.RequestTimeoutSet || block.Proxy.RequestTimeout.Text != "5" {
		t.Fatalf("request_timeout: %#v", block.Proxy.RequestTimeout)
	}
	if !block.Proxy.ConnectionTimeoutSet || block.Proxy.ConnectionTimeout.Text != "1" {
		t.Fatalf("connection_timeout: %#v", block.Proxy.ConnectionTimeout)
	}
}

func TestParse_BlockFormRejectedForOtherHandlers(t *testing.T) {
	in := []byte(`example.com {
  route / {
    file { path "/x" }
  }
}
`)

	_, err := Parse(in)
	if err == nil || !strings.Contains(err.Error(), `handler "file" does not take a block`) {
		t.Fatalf("expected block form rejection, got: %v", err)
	}
}

func TestParse_ServerBlock(t *testing.T) {
	in := []byte(`server {
  listen ":9090"
  metrics on
  tracing {
    enabled true
    collector "http://otel:4318"
    insecure true
  }
}

example.com {
  route / { respond 200 }
}
`)

	cfg, err := Parse(in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server == nil {
		t.Fatal("expected server block")
	}
	if cfg.Server.Listen != ":9090" || cfg.Server.Metrics != "on" {
		t.Fatalf("server block: %#v", cfg.Server)
	}
	if cfg.Server.Tracing == nil || cfg.Server.Tracing.Collector != "http://otel:4318" {
		t.Fatalf("tracing block: %#v", cfg.Server.Tracing)
	}
}

func TestParse_HostNamedServer(t *testing.T) {
	// "server" without a following brace is an ordinary host name.
	in := []byte(`server internal.example.com {
  route / { respond 204 }
}
`)

	cfg, err := Parse(in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server != nil {
		t.Fatalf("unexpected server block: %#v", cfg.Server)
	}
	hosts := cfg.VirtualHosts[0].Hosts
	if len(hosts) != 2 || hosts[0] != "server" || hosts[1] != "internal.example.com" {
		t.Fatalf("hosts: %#v", hosts)
	}
}

func TestParse_UnterminatedBlock(t *testing.T) {
	in := []byte(`example.com {
  route / {
    respond 200
`)

	_, err := Parse(in)
	if err == nil || !strings.Contains(err.Error(), "unexpected end of input") {
		t.Fatalf("expected unterminated block error, got: %v", err)
	}
}

func TestParse_EmptyInput(t *testing.T) {
	if _, err := Parse(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
	if _, err := Parse([]byte("# only a comment\n")); err == nil {
		t.Fatal("expected error for comment-only input")
	}
}

func TestFormat_Idempotent(t *testing.T) {
	in := []byte(`# header

server { listen ":8088" }

example.com static.example.com {
  route / {
    respond 200 "welcome"
    logging
  }

  route "/api/*" {
    proxy {
      upstreams http://api1:9000 http://api2:9000
      request_timeout 10
    }
    cors
    rate_limit 100
  }
}

other.example {
  route /old { redirect "https://example.com/" 301 }
}
`)

	cfg, err := Parse(in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	first, err := Format(cfg)
	if err != nil {
		t.Fatalf("format: %v", err)
	}

	cfg2, err := Parse(first)
	if err != nil {
		t.Fatalf("parse formatted: %v\n%s", err, first)
	}
	second, err := Format(cfg2)
	if err != nil {
		t.Fatalf("format again: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Fatalf("format not idempotent:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}

func TestFormat_QuotesValuesWithSpaces(t *testing.T) {
	in := []byte(`example.com {
  route / { respond 403 "Access Denied" }
}
`)

	cfg, err := Parse(in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := Format(cfg)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if !strings.Contains(string(out), `respond 403 "Access Denied"`) {
		t.Fatalf("expected quoted body, got:\n%s", out)
	}
}

func TestNormalizeInput_CRLFAndBOM(t *testing.T) {
	in := []byte("\xEF\xBB\xBFexample.com {\r\n  route / { respond 200 }\r\n}\r\n")

	cfg, err := Parse(in)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.VirtualHosts[0].Hosts[0] != "example.com" {
		t.Fatalf("hosts: %#v", cfg.VirtualHosts[0].Hosts)
	}
}

func TestNormalizeHost(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Example.COM", "example.com"},
		{"example.com:8080", "example.com"},
		{"EXAMPLE.com:443", "example.com"},
		{"[::1]:8080", "[::1]"},
		{"[::1]", "[::1]"},
		{"localhost", "localhost"},
	}
	for _, tc := range cases {
		if got := NormalizeHost(tc.in); got != tc.want {
			t.Errorf("NormalizeHost(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
