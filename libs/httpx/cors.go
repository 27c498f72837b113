package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy lists the browser origins allowed to call the API. Preflights
// from other origins are refused; simple requests from them pass through
// without CORS headers and are blocked by the browser.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

type corsHeaders struct {
	origins     []string
	methods     string
	headers     string
	maxAge      string
	credentials bool
}

func (p CORSPolicy) compile() corsHeaders {
	h := corsHeaders{
		origins:     trimAll(p.AllowedOrigins),
		methods:     strings.Join(trimAll(p.AllowedMethods), ", "),
		headers:     strings.Join(trimAll(p.AllowedHeaders), ", "),
		credentials: p.AllowCredentials,
	}
	if s := int(p.MaxAge.Seconds()); s > 0 {
		h.maxAge = strconv.Itoa(s)
	}
	return h
}

// WithCORS is a no-op when no origin is configured.
func WithCORS(p CORSPolicy) Middleware {
	c := p.compile()
	if len(c.origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			allow, ok := c.match(origin)
			if !ok {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			c.write(w.Header(), allow)
			if preflight {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// OriginAllowed reports whether origin may open a websocket or call the API.
// An empty allow list admits every origin.
func (p CORSPolicy) OriginAllowed(origin string) bool {
	c := p.compile()
	if len(c.origins) == 0 {
		return true
	}
	_, ok := c.match(origin)
	return ok
}

func (c corsHeaders) write(h http.Header, allow string) {
	h.Set("Access-Control-Allow-Origin", allow)
	if c.credentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if c.methods != "" {
		h.Set("Access-Control-Allow-Methods", c.methods)
	}
	if c.headers != "" {
		h.Set("Access-Control-Allow-Headers", c.headers)
	}
	if c.maxAge != "" {
		h.Set("Access-Control-Max-Age", c.maxAge)
	}
	h.Add("Vary", "Origin")
}

// match returns the Access-Control-Allow-Origin value for origin. A wildcard
// echoes the origin when credentials are allowed, as browsers reject "*"
// with credentials.
func (c corsHeaders) match(origin string) (string, bool) {
	for _, candidate := range c.origins {
		switch {
		case candidate == "*" && c.credentials:
			return origin, true
		case candidate == "*":
			return "*", true
		case strings.EqualFold(candidate, origin):
			return origin, true
		}
	}
	return "", false
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}
