package arbor

import "github.com/arbor-router/arbor/internal/route"

// Category identifies one of the six ordered handler categories a route
// may register handlers under, per spec.md §3. Categories always run in
// the fixed order Hook, Filter, Handle, Fallback, After, with Catcher
// interposing whenever a handler in any of the other five categories
// returns a non-nil error (or panics).
type Category = route.Category

const (
	Hook     = route.Hook
	Filter   = route.Filter
	Handle   = route.Handle
	Fallback = route.Fallback
	Catcher  = route.Catcher
	After    = route.After
)

// Handler is the unit of work attached to a (method, path, category) cell.
// A non-nil error is the "exception" of spec.md §3: it is never returned to
// the caller directly, it diverts control to the catcher category for the
// request's matched routes.
type Handler func(*Context) (Result, error)

// Result is the handler-return tri-state of spec.md §3 and the REDESIGN
// FLAGS guidance in spec.md §9: rather than overload a single return value
// with response/bool/void semantics, arbor makes the three outcomes
// distinct values that a handler must explicitly construct.
type Result struct {
	response *Response
	stop     bool
}

// Continue lets the pipeline fall through to the next handler in the same
// category, then the next matched node, then the next category.
func Continue() Result { return Result{} }

// Stop halts the current category entirely: remaining handlers in this
// category for the current match, and the remaining matched nodes for this
// category, are all skipped. Execution resumes at the next category.
func Stop() Result { return Result{stop: true} }

// Respond finalizes the pipeline with r: filter/handler/fallback execution
// stops immediately, and after-handlers run with r as the tentative
// response. A hook or after-handler returning Respond has its response
// ignored per spec.md §9's Open Questions resolution — hooks and afters can
// only mutate context, never produce the final response by returning one.
func Respond(r *Response) Result { return Result{response: r} }

func (r Result) isStop() bool         { return r.stop }
func (r Result) response_() *Response { return r.response }
func (r Result) hasResponse() bool    { return r.response != nil }
