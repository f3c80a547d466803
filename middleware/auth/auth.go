// Package auth implements the authentication primitives of spec.md §4.8:
// a generic authenticate/authorize pair, HTTP Basic, API key, and a JWT
// verifier adapter, grounded on the teacher's middleware/basic_auth.go and
// on zalando-skipper's choice of github.com/golang-jwt/jwt/v4 as the sole
// JWT library the corpus depends on.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/arbor-router/arbor"
)

// AuthenticateFunc parses the request into an application-defined Auth
// value. Returning a non-nil error renders as 401 with the error's message
// as the body; returning (nil, nil) is treated as "no credentials
// present" and also renders 401.
type AuthenticateFunc func(ctx *arbor.Context) (any, error)

// Authenticate builds a Filter handler that runs fn and, on success,
// publishes its result via Context.SetAuth.
func Authenticate(fn AuthenticateFunc) arbor.Handler {
	return func(ctx *arbor.Context) (arbor.Result, error) {
		v, err := fn(ctx)
		if err != nil {
			return arbor.Respond(arbor.Text(http.StatusUnauthorized, err.Error())), nil
		}
		if v == nil {
			return arbor.Respond(arbor.Text(http.StatusUnauthorized, "unauthorized")), nil
		}
		ctx.SetAuth(v)
		return arbor.Continue(), nil
	}
}

// AuthorizeOptions configures the role/permission checks of spec.md §4.8's
// authorize primitive.
type AuthorizeOptions struct {
	AllowRole      []string
	ForbidRole     []string
	ForPermissions []string
	Role           func(auth any) string
	HasPermission  func(auth any, permission string) bool
}

// Authorize builds a Filter handler enforcing opts against the Auth value
// published by a prior Authenticate handler. ForPermissions without
// HasPermission is a configuration error, surfaced at build time.
func Authorize(opts AuthorizeOptions) (arbor.Handler, error) {
	if len(opts.ForPermissions) > 0 && opts.HasPermission == nil {
		return nil, &arbor.ConfigError{Op: "auth.Authorize", Err: fmt.Errorf("forPermissions requires hasPermission")}
	}
	return func(ctx *arbor.Context) (arbor.Result, error) {
		v, ok := ctx.Auth()
		if !ok {
			return arbor.Respond(arbor.Text(http.StatusUnauthorized, "unauthorized")), nil
		}
		if opts.Role != nil {
			role := opts.Role(v)
			if len(opts.AllowRole) > 0 && !contains(opts.AllowRole, role) {
				return arbor.Respond(arbor.Text(http.StatusForbidden, "forbidden")), nil
			}
			if contains(opts.ForbidRole, role) {
				return arbor.Respond(arbor.Text(http.StatusForbidden, "forbidden")), nil
			}
		}
		for _, p := range opts.ForPermissions {
			if !opts.HasPermission(v, p) {
				return arbor.Respond(arbor.Text(http.StatusForbidden, "forbidden")), nil
			}
		}
		return arbor.Continue(), nil
	}, nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// BasicOption configures the Basic middleware.
type BasicOption func(*basicConfig)

type basicConfig struct {
	credentials map[string]string
	separator   string
	realm       string
	base64      bool
}

// WithCredentials sets the username→password lookup table.
func WithCredentials(creds map[string]string) BasicOption {
	return func(c *basicConfig) { c.credentials = creds }
}

// WithSeparator overrides the default ':' username/password separator.
func WithSeparator(sep string) BasicOption { return func(c *basicConfig) { c.separator = sep } }

// WithRealm sets the realm reported in WWW-Authenticate on a 401.
func WithRealm(realm string) BasicOption { return func(c *basicConfig) { c.realm = realm } }

// WithRawEncoding disables base64-decoding of the Authorization header
// value, for callers who pass the user:pass pair in the clear (matching
// the teacher's support for both raw and base64 credential encodings).
func WithRawEncoding() BasicOption { return func(c *basicConfig) { c.base64 = false } }

// Basic builds a Filter handler implementing HTTP Basic authentication
// per spec.md §4.8.
func Basic(opts ...BasicOption) arbor.Handler {
	c := &basicConfig{separator: ":", realm: "restricted", base64: true}
	for _, opt := range opts {
		opt(c)
	}
	return func(ctx *arbor.Context) (arbor.Result, error) {
		header := ctx.Request.Header.Get("Authorization")
		const prefix = "Basic "
		if !strings.HasPrefix(header, prefix) {
			return unauthorized(c.realm), nil
		}
		raw := strings.TrimPrefix(header, prefix)
		if c.base64 {
			decoded, err := base64.StdEncoding.DecodeString(raw)
			if err != nil {
				return unauthorized(c.realm), nil
			}
			raw = string(decoded)
		}
		idx := strings.Index(raw, c.separator)
		if idx < 0 {
			return unauthorized(c.realm), nil
		}
		user, pass := raw[:idx], raw[idx+len(c.separator):]
		want, ok := c.credentials[user]
		if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(pass)) != 1 {
			return unauthorized(c.realm), nil
		}
		ctx.SetAuth(user)
		return arbor.Continue(), nil
	}
}

func unauthorized(realm string) arbor.Result {
	resp := arbor.Text(http.StatusUnauthorized, "unauthorized")
	resp.SetHeader("WWW-Authenticate", fmt.Sprintf("Basic realm=%q", realm))
	return arbor.Respond(resp)
}

// APIKeyVerify reports whether key is a valid API key.
type APIKeyVerify func(key string) bool

// APIKey builds a Filter handler reading X-API-Key and delegating to
// verify.
func APIKey(verify APIKeyVerify) arbor.Handler {
	return func(ctx *arbor.Context) (arbor.Result, error) {
		key := ctx.Request.Header.Get("X-API-Key")
		if key == "" || !verify(key) {
			return arbor.Respond(arbor.Text(http.StatusUnauthorized, "unauthorized")), nil
		}
		ctx.SetAuth(key)
		return arbor.Continue(), nil
	}
}

// JWTClaims is the payload a Verifier extracts from a bearer token.
type JWTClaims map[string]any

// Verifier is the black-box JWT verification collaborator spec.md §4.8
// treats as external: arbor core never implements signature verification
// itself. golang_jwt.go supplies one concrete implementation backed by
// github.com/golang-jwt/jwt/v4.
type Verifier interface {
	Verify(token string) (JWTClaims, error)
}

// JWTResult is stored under the context's auth slot after a successful
// JWT verification.
type JWTResult struct {
	Token   string
	Payload JWTClaims
}

// JWTValidate performs additional application-level checks on the
// decoded payload (audience, issuer, custom claims) beyond signature
// verification.
type JWTValidate func(payload JWTClaims) error

// JWT builds a Filter handler reading "Authorization: Bearer …",
// delegating verification to v, and optionally running validate on the
// resulting payload.
func JWT(v Verifier, validate JWTValidate) arbor.Handler {
	return func(ctx *arbor.Context) (arbor.Result, error) {
		header := ctx.Request.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			return arbor.Respond(arbor.Text(http.StatusUnauthorized, "unauthorized")), nil
		}
		token := strings.TrimPrefix(header, prefix)
		payload, err := v.Verify(token)
		if err != nil {
			return arbor.Respond(arbor.Text(http.StatusUnauthorized, err.Error())), nil
		}
		if validate != nil {
			if err := validate(payload); err != nil {
				return arbor.Respond(arbor.Text(http.StatusUnauthorized, err.Error())), nil
			}
		}
		ctx.SetAuth(JWTResult{Token: token, Payload: payload})
		return arbor.Continue(), nil
	}
}
