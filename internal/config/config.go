package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Config is the parsed, user-authored configuration file (the AST).
//
// It preserves enough surface detail (quoting, argument order) for `rampart
// fmt` to re-serialize a file without normalizing away the author's intent.
// The AST is discarded once Compile has produced the routing model.
type Config struct {
	// Preamble holds leading comment lines (including the leading '#').
	// It is preserved by `rampart fmt` to avoid losing file headers.
	Preamble []string

	Server *ServerBlock

	// VirtualHosts are evaluated top-down; within one host, routes are
	// evaluated top-down (first match wins).
	VirtualHosts []VirtualHost
}

// ServerBlock is the optional top-level `server { ... }` block for
// process-wide settings that do not belong to any virtual host.
type ServerBlock struct {
	Listen       string
	ListenQuoted bool
	ListenSet    bool

	Metrics       string
	MetricsQuoted bool
	MetricsSet    bool

	Tracing *TracingBlock
}

type TracingBlock struct {
	Enabled       string
	EnabledQuoted bool
	EnabledSet    bool

	Collector       string
	CollectorQuoted bool
	CollectorSet    bool

	Insecure       string
	InsecureQuoted bool
	InsecureSet    bool
}

type VirtualHost struct {
	// Hosts are the host names this block serves, as written (commas
	// between names are tolerated and stripped by the parser).
	Hosts       []string
	HostsQuoted []bool
	Pos         position

	Routes []Route
}

type Route struct {
	Path       string
	PathQuoted bool
	Pos        position

	// Handlers holds every handler statement in the route body. The parser
	// accepts any number so the validator can report "exactly one handler"
	// violations alongside other semantic errors.
	Handlers    []HandlerDecl
	Middlewares []MiddlewareDecl
}

// Arg is a single handler or middleware argument with its source shape.
type Arg struct {
	Text   string
	Quoted bool
	Number bool
	Pos    position
}

// HandlerDecl is one handler statement. Exactly one of the simple form
// (Args) or the block form (Proxy) is populated; only `proxy` accepts the
// block form today.
type HandlerDecl struct {
	Kind string
	Pos  position

	Args []Arg

	Proxy *ProxyBlock
}

// ProxyBlock is the keyed block form of the proxy handler:
//
//	proxy { upstreams URL... [lb_policy NAME] [request_timeout N] [connection_timeout N] }
type ProxyBlock struct {
	Upstreams []Arg

	LBPolicy    Arg
	LBPolicySet bool

	RequestTimeout    Arg
	RequestTimeoutSet bool

	ConnectionTimeout    Arg
	ConnectionTimeoutSet bool
}

type MiddlewareDecl struct {
	Kind string
	Pos  position

	Args []Arg
}

// Parse turns raw configuration bytes into an AST. A single syntax error
// anywhere fails the parse, but errors inside route bodies are collected
// past statement boundaries so one pass surfaces several problems.
func Parse(input []byte) (*Config, error) {
	norm := normalizeInput(input)
	p := newParser(string(norm))
	cfg, err := p.parse()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, errors.New("empty config")
	}
	return cfg, nil
}

// Format returns a deterministic representation of the parsed config.
//
// The formatter does not expand defaults; it formats only what is present in
// the input file.
func Format(cfg *Config) ([]byte, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	out, err := format(cfg)
	if err != nil {
		return nil, err
	}
	return canonicalize(out), nil
}

// Validate checks whether the config can be compiled into a routing model.
func Validate(cfg *Config) error {
	_, res := Compile(cfg)
	if res.OK {
		return nil
	}
	if len(res.Errors) == 0 {
		return errors.New("invalid config")
	}
	return errors.New(res.Errors[0].Error())
}

// ValidationError is one semantic problem found while compiling the AST.
type ValidationError struct {
	Message string `json:"message"`
	// Pos is the source position of the offending construct ("line:col"),
	// when one is known.
	Pos string `json:"pos,omitempty"`
	// Construct names the offending config construct, e.g. `route "/api"`.
	Construct string `json:"construct,omitempty"`
}

func (e ValidationError) Error() string {
	switch {
	case e.Construct != "" && e.Pos != "":
		return fmt.Sprintf("%s at %s: %s", e.Construct, e.Pos, e.Message)
	case e.Construct != "":
		return fmt.Sprintf("%s: %s", e.Construct, e.Message)
	case e.Pos != "":
		return fmt.Sprintf("at %s: %s", e.Pos, e.Message)
	default:
		return e.Message
	}
}

type ValidationResult struct {
	OK     bool              `json:"ok"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func ValidateWithResult(cfg *Config) ValidationResult {
	_, res := Compile(cfg)
	return res
}

func FormatValidationJSON(res ValidationResult) (string, error) {
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func FormatValidationText(res ValidationResult) string {
	if res.OK {
		return "config ok"
	}
	if len(res.Errors) == 0 {
		return "config invalid"
	}
	msgs := make([]string, len(res.Errors))
	for i, e := range res.Errors {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("config invalid: %s", strings.Join(msgs, "; "))
}

// normalizeInput prepares raw file bytes for parsing:
// - strips UTF-8 BOM
// - normalizes CRLF/CR to LF
func normalizeInput(in []byte) []byte {
	if len(in) >= 3 && in[0] == 0xEF && in[1] == 0xBB && in[2] == 0xBF {
		in = in[3:]
	}

	out := make([]byte, 0, len(in))
	for i := 0; i < len(in); i++ {
		b := in[i]
		if b == '\r' {
			if i+1 < len(in) && in[i+1] == '\n' {
				i++
			}
			out = append(out, '\n')
			continue
		}
		out = append(out, b)
	}
	return out
}

// canonicalize makes formatter output deterministic: LF endings, no BOM,
// exactly one trailing newline.
func canonicalize(in []byte) []byte {
	in = normalizeInput(in)

	out := in
	for len(out) > 0 {
		last := out[len(out)-1]
		if last == '\n' || last == ' ' || last == '\t' {
			out = out[:len(out)-1]
			continue
		}
		break
	}
	return append(out, '\n')
}
