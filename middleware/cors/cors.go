// Package cors implements the CORS preflight and origin-shaping middleware
// of spec.md §4.7, grounded on the teacher's middleware/cors.go.
package cors

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/arbor-router/arbor"
)

// Option configures a CORS middleware instance.
type Option func(*config)

type config struct {
	origins         []string
	allowAllOrigins bool
	allowOriginFunc func(origin string) bool
	methods         []string
	allowedHeaders  []string
	exposedHeaders  []string
	credentials     bool
	maxAge          int
	varyOrigin      bool
	endHere         bool
}

func defaultConfig() *config {
	return &config{
		methods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"},
		maxAge:     86400,
		varyOrigin: true,
	}
}

// WithOrigins sets the allowed origin list; "*" allows any origin.
func WithOrigins(origins ...string) Option {
	return func(c *config) {
		for _, o := range origins {
			if o == "*" {
				c.allowAllOrigins = true
			}
		}
		c.origins = origins
	}
}

// WithOriginFunc installs a predicate deciding whether an origin is
// allowed, for callers whose allow-list can't be expressed as a static
// set (subdomain matching, lookup against a database).
func WithOriginFunc(fn func(origin string) bool) Option {
	return func(c *config) { c.allowOriginFunc = fn }
}

// WithMethods overrides the default CRUD+HEAD method list advertised on
// preflight.
func WithMethods(methods ...string) Option { return func(c *config) { c.methods = methods } }

// WithAllowedHeaders sets Access-Control-Allow-Headers on preflight.
func WithAllowedHeaders(headers ...string) Option {
	return func(c *config) { c.allowedHeaders = headers }
}

// WithExposedHeaders sets Access-Control-Expose-Headers on every CORS
// response.
func WithExposedHeaders(headers ...string) Option {
	return func(c *config) { c.exposedHeaders = headers }
}

// WithCredentials allows cookies/authorization headers across origins. It
// is a configuration error to combine this with a wildcard origin.
func WithCredentials(enabled bool) Option { return func(c *config) { c.credentials = enabled } }

// WithMaxAge overrides the default 86400-second preflight cache duration.
func WithMaxAge(seconds int) Option { return func(c *config) { c.maxAge = seconds } }

// WithVaryOrigin controls whether a non-matching origin still gets a
// Vary: Origin header appended, so caches don't serve a mismatched CORS
// response to a different origin.
func WithVaryOrigin(enabled bool) Option { return func(c *config) { c.varyOrigin = enabled } }

// WithEndHere makes a successful (non-preflight) CORS pass return the Stop
// sentinel instead of falling through to the next filter/handler.
func WithEndHere(enabled bool) Option { return func(c *config) { c.endHere = enabled } }

// New builds the CORS filter handler. It returns a *arbor.ConfigError if
// opts request a wildcard origin together with credentials, per spec.md
// §4.7 and §7.
func New(opts ...Option) (arbor.Handler, error) {
	c := defaultConfig()
	for _, opt := range opts {
		opt(c)
	}
	if c.allowAllOrigins && c.credentials {
		return nil, &arbor.ConfigError{Op: "cors.New", Err: errWildcardCredentials}
	}
	return c.handle, nil
}

// MustNew panics instead of returning a ConfigError.
func MustNew(opts ...Option) arbor.Handler {
	h, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return h
}

var errWildcardCredentials = configErr("wildcard origin cannot be combined with credentials")

type configErr string

func (e configErr) Error() string { return string(e) }

func (c *config) handle(ctx *arbor.Context) (arbor.Result, error) {
	origin := ctx.Request.Header.Get("Origin")
	if origin == "" {
		return arbor.Continue(), nil
	}

	if !c.originAllowed(origin) {
		if c.varyOrigin {
			ctx.Header.Add("Vary", "Origin")
		}
		return arbor.Continue(), nil
	}

	if c.allowAllOrigins {
		ctx.Header.Set("Access-Control-Allow-Origin", "*")
	} else {
		ctx.Header.Set("Access-Control-Allow-Origin", origin)
		if c.varyOrigin {
			ctx.Header.Add("Vary", "Origin")
		}
	}
	if c.credentials {
		ctx.Header.Set("Access-Control-Allow-Credentials", "true")
	}
	if len(c.exposedHeaders) > 0 {
		ctx.Header.Set("Access-Control-Expose-Headers", strings.Join(c.exposedHeaders, ", "))
	}

	if ctx.Method() == http.MethodOptions {
		ctx.Header.Set("Access-Control-Allow-Methods", strings.Join(c.methods, ", "))
		if len(c.allowedHeaders) > 0 {
			ctx.Header.Set("Access-Control-Allow-Headers", strings.Join(c.allowedHeaders, ", "))
		} else if reqHeaders := ctx.Request.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
			ctx.Header.Set("Access-Control-Allow-Headers", reqHeaders)
		}
		ctx.Header.Set("Access-Control-Max-Age", strconv.Itoa(c.maxAge))
		return arbor.Respond(arbor.NoContent()), nil
	}

	if c.endHere {
		return arbor.Stop(), nil
	}
	return arbor.Continue(), nil
}

func (c *config) originAllowed(origin string) bool {
	if c.allowAllOrigins {
		return true
	}
	if c.allowOriginFunc != nil && c.allowOriginFunc(origin) {
		return true
	}
	for _, o := range c.origins {
		if o == origin {
			return true
		}
	}
	return false
}
