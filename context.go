package arbor

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// wellKnownKey names the extension-field slots spec.md §3 calls out by
// name (auth, upload state); middleware authors are free to Set/Get under
// any other string key for their own extensions.
type wellKnownKey string

const (
	keyAuth   wellKnownKey = "arbor.auth"
	keyUpload wellKnownKey = "arbor.upload"
)

// Context carries everything a pipeline needs for one request: the parsed
// request, captured path parameters, the response-header accumulator, the
// optional finalized response slot, and a heterogeneous extension store for
// middleware-published values (auth, upload state, and anything an
// application adds). It corresponds to spec.md §3's "request context".
//
// A Context is created fresh per request and is not safe for concurrent
// use or for retention past the request's lifetime — the same contract the
// teacher documents for its pooled Context (rivaas router/context.go).
type Context struct {
	Request *http.Request
	Params  map[string]string
	Header  http.Header

	router *Router
	resp   *Response
	err    error
	store  map[string]any
}

func newContext(r *http.Request, rtr *Router, seed map[string]any) *Context {
	store := make(map[string]any, len(seed))
	for k, v := range seed {
		store[k] = v
	}
	return &Context{
		Request: r,
		Params:  map[string]string{},
		Header:  http.Header{},
		router:  rtr,
		store:   store,
	}
}

// Param returns a captured path parameter, or "" if absent.
func (c *Context) Param(key string) string { return c.Params[key] }

// Query returns a URL query parameter.
func (c *Context) Query(key string) string { return c.Request.URL.Query().Get(key) }

// Set stores an arbitrary value for the lifetime of the request.
func (c *Context) Set(key string, v any) { c.store[key] = v }

// Get retrieves a value previously stored with Set.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.store[key]
	return v, ok
}

// SetAuth publishes the Auth value an authenticate-family middleware
// produced, under the context's well-known auth slot (spec.md §4.8).
func (c *Context) SetAuth(v any) { c.store[string(keyAuth)] = v }

// Auth retrieves the value published by SetAuth.
func (c *Context) Auth() (any, bool) {
	v, ok := c.store[string(keyAuth)]
	return v, ok
}

// SetUploadState publishes the upload middleware's in-progress state
// (spec.md §4.9) under the context's well-known upload slot.
func (c *Context) SetUploadState(v any) { c.store[string(keyUpload)] = v }

// UploadState retrieves the value published by SetUploadState.
func (c *Context) UploadState() (any, bool) {
	v, ok := c.store[string(keyUpload)]
	return v, ok
}

// Error returns the error recorded for this request, if any. It is set by
// the executor when a handler returns a non-nil error, or by a middleware
// via SetError, and is what the catcher category inspects.
func (c *Context) Error() error { return c.err }

// SetError records an error for the request.
func (c *Context) SetError(err error) { c.err = err }

// ClearError clears the recorded error, typically from within a catcher
// that has fully handled it.
func (c *Context) ClearError() { c.err = nil }

// Response returns the tentative or finalized response, if one has been
// produced yet. After-handlers use this to inspect or replace it.
func (c *Context) Response() *Response { return c.resp }

// SetResponse replaces the tentative response. After-handlers are the only
// category expected to call this post-hoc; earlier categories communicate
// a response via Respond(...) instead.
func (c *Context) SetResponse(r *Response) { c.resp = r }

// Router returns the Router instance actually executing this request. For
// routes grafted into a parent via Append, this is always the parent,
// never the child router the route was originally registered on — the
// "dynamic binding" rule of spec.md §4.5/§9.
func (c *Context) Router() *Router { return c.router }

// RealIP returns the client IP, honoring X-Forwarded-For and X-Real-IP
// before falling back to RemoteAddr, mirroring the teacher's
// Context.RealIP (rivaas router/proxies.go) and zentrox's identical helper.
func (c *Context) RealIP() string {
	if v := strings.TrimSpace(c.Request.Header.Get("X-Forwarded-For")); v != "" {
		if i := strings.IndexByte(v, ','); i >= 0 {
			return strings.TrimSpace(v[:i])
		}
		return v
	}
	if v := strings.TrimSpace(c.Request.Header.Get("X-Real-IP")); v != "" {
		return v
	}
	ip, _, _ := net.SplitHostPort(c.Request.RemoteAddr)
	if ip == "" {
		return c.Request.RemoteAddr
	}
	return ip
}

// Deadline, Done, and Err proxy the underlying request's context so
// handlers can select on cancellation without reaching into c.Request
// directly, per spec.md §5's cancellation-propagation requirement.
func (c *Context) Deadline() (time.Time, bool) { return c.Request.Context().Deadline() }
func (c *Context) Done() <-chan struct{}       { return c.Request.Context().Done() }
func (c *Context) Err() error                  { return c.Request.Context().Err() }

// StdContext returns the request's standard context.Context, for handlers
// that need to pass cancellation/deadline through to downstream I/O.
func (c *Context) StdContext() context.Context { return c.Request.Context() }

// URL is a convenience accessor for the request's parsed URL.
func (c *Context) URL() *url.URL { return c.Request.URL }

// Method is a convenience accessor for the request's HTTP method.
func (c *Context) Method() string { return c.Request.Method }
