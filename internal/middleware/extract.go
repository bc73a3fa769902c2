package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
)

// Default lookup chains, highest priority first.
const (
	DefaultAccessLookup  = "cookie:accessToken,bearer:Authorization,header:X-Access-Token,query:token,body:accessToken"
	DefaultRefreshLookup = "cookie:refreshToken,header:X-Refresh-Token,query:refreshToken,body:refreshToken"
)

// MaxBodyLookup caps how much of a JSON body is read looking for a token.
const MaxBodyLookup = 1 << 20

const jsonBodyKey = "_json_body"

// Extractor pulls a token from one request channel.
type Extractor interface {
	// Source names the channel, e.g. "cookie:accessToken".
	Source() string
	Extract(c echo.Context) (string, bool)
}

type cookieExtractor struct{ name string }

func (e cookieExtractor) Source() string { return "cookie:" + e.name }

func (e cookieExtractor) Extract(c echo.Context) (string, bool) {
	ck, err := c.Cookie(e.name)
	if err != nil {
		return "", false
	}
	return present(ck.Value)
}

type bearerExtractor struct{ header, scheme string }

func (e bearerExtractor) Source() string { return "bearer:" + e.header }

func (e bearerExtractor) Extract(c echo.Context) (string, bool) {
	v := c.Request().Header.Get(e.header)
	l := len(e.scheme)
	if len(v) > l+1 && strings.EqualFold(v[:l], e.scheme) && v[l] == ' ' {
		return present(v[l+1:])
	}
	return "", false
}

type headerExtractor struct{ name string }

func (e headerExtractor) Source() string { return "header:" + e.name }

func (e headerExtractor) Extract(c echo.Context) (string, bool) {
	return present(c.Request().Header.Get(e.name))
}

type queryExtractor struct{ name string }

func (e queryExtractor) Source() string { return "query:" + e.name }

func (e queryExtractor) Extract(c echo.Context) (string, bool) {
	return present(c.QueryParam(e.name))
}

type bodyExtractor struct{ field string }

func (e bodyExtractor) Source() string { return "body:" + e.field }

func (e bodyExtractor) Extract(c echo.Context) (string, bool) {
	body := jsonBody(c)
	if body == nil {
		return "", false
	}
	s, _ := body[e.field].(string)
	return present(s)
}

// jsonBody decodes up to MaxBodyLookup bytes of a JSON request body and puts
// the bytes back so handlers can still bind it.  The decoded map is cached
// on the context.
func jsonBody(c echo.Context) map[string]any {
	if v, ok := c.Get(jsonBodyKey).(map[string]any); ok {
		return v
	}
	req := c.Request()
	if req.Body == nil || !strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return nil
	}

	buf, err := io.ReadAll(io.LimitReader(req.Body, MaxBodyLookup+1))
	req.Body = io.NopCloser(io.MultiReader(bytes.NewReader(buf), req.Body))
	if err != nil || len(buf) > MaxBodyLookup {
		return nil
	}

	var m map[string]any
	if err := json.Unmarshal(buf, &m); err != nil || m == nil {
		return nil
	}
	c.Set(jsonBodyKey, m)
	return m
}

func present(v string) (string, bool) {
	v = strings.TrimSpace(v)
	return v, v != ""
}

// ParseLookup turns "kind:name,kind:name" into extractors.  Kinds are
// cookie, bearer, header, query and body.
func ParseLookup(lookup string) ([]Extractor, error) {
	var out []Extractor
	for _, part := range strings.Split(lookup, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kind, name, ok := strings.Cut(part, ":")
		kind, name = strings.TrimSpace(kind), strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("middleware.ParseLookup: malformed entry %q", part)
		}
		switch strings.ToLower(kind) {
		case "cookie":
			out = append(out, cookieExtractor{name: name})
		case "bearer":
			out = append(out, bearerExtractor{header: name, scheme: "Bearer"})
		case "header":
			out = append(out, headerExtractor{name: name})
		case "query":
			out = append(out, queryExtractor{name: name})
		case "body":
			out = append(out, bodyExtractor{field: name})
		default:
			return nil, fmt.Errorf("middleware.ParseLookup: unknown source %q", kind)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("middleware.ParseLookup: empty lookup")
	}
	return out, nil
}

// ChainOptions tune which channels a Chain consults.
type ChainOptions struct {
	Production       bool
	AllowQueryTokens bool
	Log              *slog.Logger
}

// Chain tries extractors in order; the first hit wins.
type Chain []Extractor

// NewChain parses lookup (or fallback when empty) and drops query channels
// in production unless they are explicitly allowed.
func NewChain(lookup, fallback string, opts ChainOptions) (Chain, error) {
	if strings.TrimSpace(lookup) == "" {
		lookup = fallback
	}
	all, err := ParseLookup(lookup)
	if err != nil {
		return nil, err
	}
	if !opts.Production || opts.AllowQueryTokens {
		return all, nil
	}
	chain := make(Chain, 0, len(all))
	for _, e := range all {
		if _, isQuery := e.(queryExtractor); isQuery {
			if opts.Log != nil {
				opts.Log.Warn("token_channel_disabled", slog.String("source", e.Source()))
			}
			continue
		}
		chain = append(chain, e)
	}
	return chain, nil
}

// Extract returns the first token found and the channel it came from.
func (ch Chain) Extract(c echo.Context) (token, source string, ok bool) {
	for _, e := range ch {
		if t, ok := e.Extract(c); ok {
			return t, e.Source(), true
		}
	}
	return "", "", false
}
