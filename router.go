// Package arbor implements a server-independent HTTP request router: a
// path trie with deterministic specificity ordering, driving a six-category
// handler pipeline (hook, filter, handler, fallback, catcher, after) per
// spec.md. It consumes and produces only the standard library's
// net/http types, so it can be mounted behind any net/http-compatible
// server.
package arbor

import (
	"io"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"github.com/arbor-router/arbor/internal/route"
)

// Option configures a Router at construction time, following the
// functional-options pattern the teacher uses throughout (rivaas
// router/router.go's Option func(*Router)).
type Option func(*Router)

// Router owns a single route trie and the configuration that governs how
// requests against it are dispatched. A Router is built by registering
// routes and then serving; per spec.md §5 the trie is read-only once
// serving starts and registration methods must not be called concurrently
// with ServeHTTP.
type Router struct {
	trie *route.Trie

	normalizeTrailingSlash bool
	overwrite              bool

	defaultHeaders  DefaultHeaders
	defaultCatcher  Handler
	defaultFallback Handler

	disabledCategories map[route.Category]bool

	logger *slog.Logger

	tracer   trace.Tracer
	recorder Recorder

	setupMu sync.Mutex
}

// New builds a Router with the given options applied in order.
func New(opts ...Option) *Router {
	r := &Router{
		trie:               route.NewTrie(),
		disabledCategories: map[route.Category]bool{},
		logger:             noopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithTrailingSlashNormalization collapses a registered or requested
// trailing slash onto the no-trailing-slash form at both insertion and
// lookup, per spec.md §3.
func WithTrailingSlashNormalization(enabled bool) Option {
	return func(r *Router) { r.normalizeTrailingSlash = enabled }
}

// WithOverwrite allows re-registering the same (method, path, category)
// cell to replace its handlers instead of failing with a
// route.DuplicateRouteError.
func WithOverwrite(enabled bool) Option {
	return func(r *Router) { r.overwrite = enabled }
}

// WithDefaultHeaders installs headers applied once to each response the
// route pipeline or the default fallback produces, before after-handlers
// observe it. The bare 404 and 405 responses synthesized when no route or
// no method matches do not receive them.
func WithDefaultHeaders(h DefaultHeaders) Option {
	return func(r *Router) { r.defaultHeaders = h }
}

// WithDefaultCatcher installs the router-wide catcher invoked when a
// route's own catcher category also throws.
func WithDefaultCatcher(h Handler) Option {
	return func(r *Router) { r.defaultCatcher = h }
}

// WithDefaultFallback installs the handler invoked when no node in the
// trie matches the request path at all (the 404 case of spec.md §4.4 step
// 2), distinct from a route's own per-node Fallback category.
func WithDefaultFallback(h Handler) Option {
	return func(r *Router) { r.defaultFallback = h }
}

// WithCategoryDisabled lets the executor skip an entire category across
// every request, per spec.md §4.4's "per-category enable flags" note —
// useful for disabling hooks/catchers entirely in a hot path that never
// uses them.
func WithCategoryDisabled(c Category, disabled bool) Option {
	return func(r *Router) { r.disabledCategories[c] = disabled }
}

// WithLogger installs a structured logger, following the teacher's
// log/slog convention (rivaas router/router.go); omit to keep the no-op
// default.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// register compiles methodPath and inserts handlers into every matching
// method's trie cell for the given category.
func (r *Router) register(methodPath string, cat Category, handlers ...Handler) error {
	r.setupMu.Lock()
	defer r.setupMu.Unlock()

	methods, segs, err := route.Compile(methodPath)
	if err != nil {
		return &ConfigError{Op: "register", Err: err}
	}
	if r.normalizeTrailingSlash {
		segs = route.DropTrailingEmpty(segs)
	}
	any_ := make([]any, len(handlers))
	for i, h := range handlers {
		any_[i] = h
	}
	for _, m := range methods {
		if err := r.trie.Insert(m, segs, cat, any_, r.overwrite, methodPath); err != nil {
			return &ConfigError{Op: "register", Err: err}
		}
	}
	return nil
}

func (r *Router) mustRegister(methodPath string, cat Category, handlers ...Handler) {
	if err := r.register(methodPath, cat, handlers...); err != nil {
		panic(err)
	}
}

// Hook registers pre-processing handlers that run first, cannot produce a
// final response (any response they return is ignored), but may still
// return Stop to halt the hook category for this request.
func (r *Router) Hook(methodPath string, handlers ...Handler) error {
	return r.register(methodPath, Hook, handlers...)
}

// Filter registers handlers that run after hooks and may short-circuit the
// pipeline with a response.
func (r *Router) Filter(methodPath string, handlers ...Handler) error {
	return r.register(methodPath, Filter, handlers...)
}

// Handle registers the primary handler category for methodPath.
func (r *Router) Handle(methodPath string, handlers ...Handler) error {
	return r.register(methodPath, Handle, handlers...)
}

// Fallback registers handlers that run only if hook/filter/handle produced
// no response for this request's matched nodes.
func (r *Router) Fallback(methodPath string, handlers ...Handler) error {
	return r.register(methodPath, Fallback, handlers...)
}

// Catch registers catcher handlers, invoked when any handler in
// hook/filter/handle/fallback/after raises an error for a matched node.
func (r *Router) Catch(methodPath string, handlers ...Handler) error {
	return r.register(methodPath, Catcher, handlers...)
}

// After registers handlers that always run once a response is finalized;
// like hooks, any response they return is ignored, but they may mutate
// the response headers or replace it via Context.SetResponse.
func (r *Router) After(methodPath string, handlers ...Handler) error {
	return r.register(methodPath, After, handlers...)
}

// MustHook, MustFilter, MustHandle, MustFallback, MustCatch, and MustAfter
// are panicking variants for callers who prefer to fail at init() rather
// than check a returned ConfigError, mirroring the Must-prefixed
// constructors common across the corpus (e.g. gin's MustBindWith family).
func (r *Router) MustHook(methodPath string, handlers ...Handler)     { r.mustRegister(methodPath, Hook, handlers...) }
func (r *Router) MustFilter(methodPath string, handlers ...Handler)   { r.mustRegister(methodPath, Filter, handlers...) }
func (r *Router) MustHandle(methodPath string, handlers ...Handler)   { r.mustRegister(methodPath, Handle, handlers...) }
func (r *Router) MustFallback(methodPath string, handlers ...Handler) { r.mustRegister(methodPath, Fallback, handlers...) }
func (r *Router) MustCatch(methodPath string, handlers ...Handler)    { r.mustRegister(methodPath, Catcher, handlers...) }
func (r *Router) MustAfter(methodPath string, handlers ...Handler)    { r.mustRegister(methodPath, After, handlers...) }

// Get, Post, Put, Patch, Delete, Head, and Options are sugar for
// Handle("METHOD "+path, ...).
func (r *Router) Get(path string, handlers ...Handler) error    { return r.Handle("GET "+path, handlers...) }
func (r *Router) Post(path string, handlers ...Handler) error   { return r.Handle("POST "+path, handlers...) }
func (r *Router) Put(path string, handlers ...Handler) error    { return r.Handle("PUT "+path, handlers...) }
func (r *Router) Patch(path string, handlers ...Handler) error  { return r.Handle("PATCH "+path, handlers...) }
func (r *Router) Delete(path string, handlers ...Handler) error { return r.Handle("DELETE "+path, handlers...) }
func (r *Router) Head(path string, handlers ...Handler) error   { return r.Handle("HEAD "+path, handlers...) }
func (r *Router) Options(path string, handlers ...Handler) error {
	return r.Handle("OPTIONS "+path, handlers...)
}

// All registers handlers for every HTTP method at path.
func (r *Router) All(path string, handlers ...Handler) error { return r.Handle("ALL "+path, handlers...) }

// CRUD registers handlers for GET, POST, PUT, PATCH, and DELETE at path.
func (r *Router) CRUD(path string, handlers ...Handler) error { return r.Handle("CRUD "+path, handlers...) }

// Group returns a facade that prefixes every registration onto this same
// Router — a lighter-weight composition than Append for the common case of
// grouping routes under a shared prefix without a separate sub-router
// configuration.
func (r *Router) Group(prefix string) *Group {
	return &Group{router: r, prefix: prefix}
}

// Group prefixes path registrations onto its owning Router. It is not a
// separate trie: routes registered through a Group are indistinguishable
// from ones registered directly on the Router at the prefixed path.
type Group struct {
	router *Router
	prefix string
}

func (g *Group) join(path string) string { return g.prefix + path }

func (g *Group) Hook(methodPath string, handlers ...Handler) error {
	return g.router.Hook(g.withPrefix(methodPath), handlers...)
}
func (g *Group) Filter(methodPath string, handlers ...Handler) error {
	return g.router.Filter(g.withPrefix(methodPath), handlers...)
}
func (g *Group) Handle(methodPath string, handlers ...Handler) error {
	return g.router.Handle(g.withPrefix(methodPath), handlers...)
}
func (g *Group) Fallback(methodPath string, handlers ...Handler) error {
	return g.router.Fallback(g.withPrefix(methodPath), handlers...)
}
func (g *Group) Catch(methodPath string, handlers ...Handler) error {
	return g.router.Catch(g.withPrefix(methodPath), handlers...)
}
func (g *Group) After(methodPath string, handlers ...Handler) error {
	return g.router.After(g.withPrefix(methodPath), handlers...)
}
func (g *Group) Get(path string, handlers ...Handler) error    { return g.router.Get(g.join(path), handlers...) }
func (g *Group) Post(path string, handlers ...Handler) error   { return g.router.Post(g.join(path), handlers...) }
func (g *Group) Put(path string, handlers ...Handler) error    { return g.router.Put(g.join(path), handlers...) }
func (g *Group) Patch(path string, handlers ...Handler) error  { return g.router.Patch(g.join(path), handlers...) }
func (g *Group) Delete(path string, handlers ...Handler) error { return g.router.Delete(g.join(path), handlers...) }
func (g *Group) Group(prefix string) *Group                    { return &Group{router: g.router, prefix: g.prefix + prefix} }

// withPrefix splices the group's prefix into a "METHOD /path" string,
// leaving the method token untouched.
func (g *Group) withPrefix(methodPath string) string {
	if methodPath == "*" {
		return methodPath
	}
	for i := 0; i < len(methodPath); i++ {
		if methodPath[i] == ' ' {
			return methodPath[:i+1] + g.prefix + methodPath[i+1:]
		}
	}
	return g.prefix + methodPath
}

// Append grafts every route in child's trie into r under prefix, per
// spec.md §4.5. child's own default headers, default catcher, and default
// fallback are discarded; only its routes carry over, and handlers
// resolve Context.Router() to r, never to child, once grafted.
func (r *Router) Append(prefix string, child *Router) error {
	r.setupMu.Lock()
	defer r.setupMu.Unlock()

	_, segs, err := route.Compile("GET " + prefix)
	if err != nil {
		return &ConfigError{Op: "append", Err: err}
	}
	if r.normalizeTrailingSlash {
		segs = route.DropTrailingEmpty(segs)
	}
	if err := r.trie.Graft(segs, child.trie); err != nil {
		return &ConfigError{Op: "append", Err: err}
	}
	return nil
}

var _ http.Handler = (*Router)(nil)
