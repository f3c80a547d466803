package arbor

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/arbor-router/arbor/internal/route"
)

// categoryOrder is the fixed execution order of spec.md §4.4 step 4 for the
// response-producing categories; Catcher interposes out of band whenever a
// handler errors, and After always runs last regardless of outcome.
var categoryOrder = []route.Category{route.Hook, route.Filter, route.Handle, route.Fallback}

// ServeHTTP implements http.Handler, running the full pipeline-executor
// procedure of spec.md §4.4 against r and writing the resulting response to
// w. Route registration must not happen concurrently with calls to
// ServeHTTP — see spec.md §5.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	resp := r.instrument(req, func() *Response { return r.dispatch(req, nil) })
	resp.write(w)
}

// dispatch runs the executor against req and returns the finalized
// response, without writing it — used directly by ServeHTTP and by
// Forward's internal re-dispatch (mount.go).
func (r *Router) dispatch(req *http.Request, seed map[string]any) *Response {
	method := route.Method(req.Method)
	segs := route.SplitPath(req.URL.Path, r.normalizeTrailingSlash)
	matches := r.trie.Lookup(segs)

	ctx := newContext(req, r, seed)

	if len(matches) == 0 {
		return r.notFound(ctx)
	}

	if !anyMethodMatches(matches, method) {
		return r.methodNotAllowed(matches)
	}

	resp, err := r.runPipeline(ctx, matches, method)
	if err != nil {
		resp, err = r.runCatchers(ctx, matches, method, err)
		if err != nil {
			resp = r.runDefaultCatcher(ctx, err)
		}
	}
	if resp == nil {
		resp = NoContent()
	}

	r.applyDefaultHeaders(ctx, resp)
	ctx.SetResponse(resp)

	if !r.categoryDisabled(After) {
		if _, afterErr := r.runCategory(ctx, matches, route.After, method, true); afterErr != nil {
			ctx.SetError(afterErr)
			if caught, cerr := r.runCatchers(ctx, matches, method, afterErr); cerr == nil && caught != nil {
				resp = caught
				r.applyDefaultHeaders(ctx, resp)
			} else if cerr != nil {
				resp = r.runDefaultCatcher(ctx, afterErr)
			}
		} else if replaced := ctx.Response(); replaced != nil {
			resp = replaced
		}
	}

	ctx.SetResponse(resp)
	mergeContextHeader(resp, ctx)
	return resp
}

func mergeContextHeader(resp *Response, ctx *Context) {
	for k, vs := range ctx.Header {
		for _, v := range vs {
			resp.Header.Add(k, v)
		}
	}
}

func anyMethodMatches(matches []route.Match, method route.Method) bool {
	for _, m := range matches {
		for _, mm := range m.Table.Methods() {
			if mm == method {
				return true
			}
		}
	}
	return false
}

func (r *Router) categoryDisabled(c Category) bool { return r.disabledCategories[c] }

// runPipeline executes hook, filter, handle, and fallback in order across
// the matched nodes, stopping as soon as one produces a tentative response,
// per spec.md §4.4 steps 4–7.
func (r *Router) runPipeline(ctx *Context, matches []route.Match, method route.Method) (*Response, error) {
	for _, cat := range categoryOrder {
		if r.categoryDisabled(cat) {
			continue
		}
		ignoreResponse := cat == route.Hook
		resp, err := r.runCategory(ctx, matches, cat, method, ignoreResponse)
		if err != nil {
			return nil, err
		}
		if resp != nil {
			return resp, nil
		}
	}
	return nil, nil
}

// runCategory iterates matches leaf-to-root (the order Lookup already
// returns them in) and, within each match, its handlers first-to-last.
// A handler returning a response breaks out immediately (unless
// ignoreResponse, for Hook/After); a handler returning Stop abandons the
// rest of this category entirely, for every remaining match.
func (r *Router) runCategory(ctx *Context, matches []route.Match, cat route.Category, method route.Method, ignoreResponse bool) (*Response, error) {
	for _, m := range matches {
		handlers := m.Table.Handlers(method, cat)
		if len(handlers) == 0 {
			continue
		}
		ctx.Params = m.Params
		for _, hAny := range handlers {
			h, ok := hAny.(Handler)
			if !ok {
				return nil, fmt.Errorf("arbor: registered handler is not an arbor.Handler (%T)", hAny)
			}
			result, err := func() (res Result, err error) {
				defer func() {
					if rec := recover(); rec != nil {
						err = fmt.Errorf("arbor: panic in %s handler: %v", cat, rec)
					}
				}()
				return h(ctx)
			}()
			if err != nil {
				return nil, err
			}
			if result.hasResponse() && !ignoreResponse {
				return result.response_(), nil
			}
			if result.isStop() {
				return nil, nil
			}
		}
	}
	return nil, nil
}

// runCatchers runs the Catcher category across matches, leaf-to-root, with
// srcErr recorded on ctx for the handlers to inspect.
func (r *Router) runCatchers(ctx *Context, matches []route.Match, method route.Method, srcErr error) (*Response, error) {
	ctx.SetError(srcErr)
	if r.categoryDisabled(Catcher) {
		return nil, srcErr
	}
	resp, err := r.runCategory(ctx, matches, route.Catcher, method, false)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// runDefaultCatcher invokes the router-wide catcher configured via
// WithDefaultCatcher; if none is configured, or it also fails, a bare 500
// is synthesized per spec.md §4.4 step 10.
func (r *Router) runDefaultCatcher(ctx *Context, srcErr error) *Response {
	ctx.SetError(srcErr)
	if r.defaultCatcher == nil {
		return Text(http.StatusInternalServerError, "internal server error")
	}
	result, err := func() (res Result, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("arbor: panic in default catcher: %v", rec)
			}
		}()
		return r.defaultCatcher(ctx)
	}()
	if err != nil || !result.hasResponse() {
		return Text(http.StatusInternalServerError, "internal server error")
	}
	return result.response_()
}

// notFound handles the case where no trie node matched the request path at
// all: the router-level default fallback runs if configured, else a bare
// 404 is synthesized.
func (r *Router) notFound(ctx *Context) *Response {
	if r.defaultFallback != nil {
		result, err := r.defaultFallback(ctx)
		if err == nil && result.hasResponse() {
			resp := result.response_()
			r.applyDefaultHeaders(ctx, resp)
			mergeContextHeader(resp, ctx)
			return resp
		}
	}
	return Text(http.StatusNotFound, "not found")
}

// methodNotAllowed handles the case where some node matched the path but
// none of the matched nodes registered the requested method in any
// category — spec.md §4.4 step 2's 405 branch.
func (r *Router) methodNotAllowed(matches []route.Match) *Response {
	seen := map[route.Method]struct{}{}
	for _, m := range matches {
		for _, mm := range m.Table.Methods() {
			seen[mm] = struct{}{}
		}
	}
	allowed := make([]string, 0, len(seen))
	for m := range seen {
		allowed = append(allowed, string(m))
	}
	sort.Strings(allowed)
	resp := Text(http.StatusMethodNotAllowed, "method not allowed")
	if len(allowed) > 0 {
		resp.SetHeader("Allow", strings.Join(allowed, ", "))
	}
	return resp
}

func (r *Router) applyDefaultHeaders(ctx *Context, resp *Response) {
	if r.defaultHeaders == nil {
		return
	}
	for k, v := range r.defaultHeaders(ctx) {
		resp.SetHeader(k, v)
	}
}
