package route

import (
	"fmt"
	"sort"
)

// Category is one of the six ordered handler categories of spec.md §3.
type Category int

const (
	Hook Category = iota
	Filter
	Handle
	Fallback
	Catcher
	After
	numCategories
)

func (c Category) String() string {
	switch c {
	case Hook:
		return "hook"
	case Filter:
		return "filter"
	case Handle:
		return "handler"
	case Fallback:
		return "fallback"
	case Catcher:
		return "catcher"
	case After:
		return "after"
	default:
		return "unknown"
	}
}

// DuplicateRouteError is returned by Insert when a (method, category) cell
// already holds handlers and overwrite was not requested.
type DuplicateRouteError struct {
	Method   Method
	Path     string
	Category Category
}

func (e *DuplicateRouteError) Error() string {
	return fmt.Sprintf("route: duplicate %s %s in category %s (overwrite not set)", e.Method, e.Path, e.Category)
}

// Table is the per-node pipeline table: method -> category -> ordered
// handler sequence. Handlers are stored as opaque `any` so this package
// stays independent of arbor's Handler type (mirroring how the teacher's
// compiler/route packages know nothing about router.HandlerFunc).
type Table struct {
	byMethod map[Method]*categories
}

type categories [numCategories][]any

func newTable() *Table {
	return &Table{byMethod: make(map[Method]*categories)}
}

// Methods returns the set of HTTP methods with at least one handler
// registered at this table, used to compute 404 vs 405.
func (t *Table) Methods() []Method {
	out := make([]Method, 0, len(t.byMethod))
	for m := range t.byMethod {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Handlers returns the ordered handler slice for (method, category), or nil.
func (t *Table) Handlers(m Method, c Category) []any {
	cc, ok := t.byMethod[m]
	if !ok {
		return nil
	}
	return cc[c]
}

func (t *Table) set(m Method, c Category, handlers []any, overwrite bool, method Method, path string) error {
	cc, ok := t.byMethod[m]
	if !ok {
		cc = &categories{}
		t.byMethod[m] = cc
	}
	if len(cc[c]) > 0 && !overwrite {
		return &DuplicateRouteError{Method: method, Path: path, Category: c}
	}
	cc[c] = append([]any{}, handlers...)
	return nil
}

// merge copies every (method, category, handlers) cell of src into t,
// skipping cells that are empty in src. Used by Append to graft a child
// router's routes onto a parent node without requiring overwrite.
func (t *Table) merge(src *Table) {
	for m, cc := range src.byMethod {
		dst, ok := t.byMethod[m]
		if !ok {
			dst = &categories{}
			t.byMethod[m] = dst
		}
		for c := Category(0); c < numCategories; c++ {
			if len(cc[c]) > 0 {
				dst[c] = append([]any{}, cc[c]...)
			}
		}
	}
}

// node is one trie node. Literal children are keyed by segment text; at
// most one parametric child is allowed per node (spec.md invariant); the
// four glob forms are always terminal and hold their own pipeline table
// directly rather than a further child node, since the compiler rejects
// them anywhere but the last segment.
type node struct {
	literal map[string]*node
	param   *node
	pname   string

	exact   *Table // pipelines for requests that end exactly at this node
	star    *Table // "*"
	dotStar *Table // ".*"
	glob    *Table // "**"
	dotGlob *Table // ".**"
}

func newNode() *node {
	return &node{}
}

// Trie owns the root node of the route tree. Routes are inserted during a
// single-threaded setup phase; once a Router starts serving, the trie is
// read-only and safe for concurrent Lookup calls — the same "configuration
// phase vs. serving phase" split the teacher documents in radix.go.
type Trie struct {
	root *node
}

// NewTrie creates an empty trie.
func NewTrie() *Trie {
	return &Trie{root: newNode()}
}

// Insert walks/creates nodes for segs and places handlers in
// pipelines[method][category] at the terminal node, per spec.md §4.2.
// overwrite controls whether re-registering the same (method, path,
// category) cell replaces its handlers instead of erroring.
func (t *Trie) Insert(method Method, segs []Segment, category Category, handlers []any, overwrite bool, renderedPath string) error {
	cur := t.root
	for i, s := range segs {
		switch s.Kind {
		case Param:
			if cur.param == nil {
				cur.param = newNode()
				cur.pname = s.Name
			} else if cur.pname != s.Name {
				return &CompileError{Pattern: renderedPath, Reason: fmt.Sprintf("conflicting parameter name %q vs existing %q at this node", s.Name, cur.pname)}
			}
			cur = cur.param
		case Literal:
			if cur.literal == nil {
				cur.literal = make(map[string]*node)
			}
			next, ok := cur.literal[s.Literal]
			if !ok {
				next = newNode()
				cur.literal[s.Literal] = next
			}
			cur = next
		case Star, DotStar, Glob, DotGlob:
			if i != len(segs)-1 {
				return &CompileError{Pattern: renderedPath, Reason: "glob segment must be last"}
			}
			tbl := glob(cur, s.Kind)
			if tbl == nil {
				tbl = newTable()
				setGlob(cur, s.Kind, tbl)
			}
			return tbl.set(method, category, handlers, overwrite, method, renderedPath)
		}
	}
	if cur.exact == nil {
		cur.exact = newTable()
	}
	return cur.exact.set(method, category, handlers, overwrite, method, renderedPath)
}

func glob(n *node, k Kind) *Table {
	switch k {
	case Star:
		return n.star
	case DotStar:
		return n.dotStar
	case Glob:
		return n.glob
	case DotGlob:
		return n.dotGlob
	}
	return nil
}

func setGlob(n *node, k Kind, tbl *Table) {
	switch k {
	case Star:
		n.star = tbl
	case DotStar:
		n.dotStar = tbl
	case Glob:
		n.glob = tbl
	case DotGlob:
		n.dotGlob = tbl
	}
}

// Rank is the specificity ranking of spec.md §4.2, ascending from most to
// least specific.
type Rank int

const (
	RankExact Rank = iota
	RankParam
	RankSingleGlob
	RankMultiGlob
)

// Match is one candidate node produced by Lookup: its pipeline table, the
// path parameters captured on the way to it, and enough to order it against
// the other candidates.
type Match struct {
	Table  *Table
	Params map[string]string
	Rank   Rank
	Depth  int
}

// Lookup returns every node whose pattern matches segs, ordered
// most-specific-first per spec.md §4.2–§4.3: rank ascending, then depth
// descending within a rank.
func (t *Trie) Lookup(segs []string) []Match {
	var out []Match
	walk(t.root, segs, map[string]string{}, 0, false, &out)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].Depth > out[j].Depth
	})
	return out
}

func walk(n *node, segs []string, params map[string]string, depth int, usedParam bool, out *[]Match) {
	rankHere := RankExact
	if usedParam {
		rankHere = RankParam
	}

	if len(segs) == 0 {
		if n.exact != nil {
			*out = append(*out, Match{Table: n.exact, Params: cloneParams(params), Rank: rankHere, Depth: depth})
		}
		if n.dotStar != nil {
			*out = append(*out, Match{Table: n.dotStar, Params: cloneParams(params), Rank: RankSingleGlob, Depth: depth})
		}
		if n.dotGlob != nil {
			*out = append(*out, Match{Table: n.dotGlob, Params: cloneParams(params), Rank: RankMultiGlob, Depth: depth})
		}
		return
	}

	seg := segs[0]
	rest := segs[1:]

	if n.literal != nil {
		if child, ok := n.literal[seg]; ok {
			walk(child, rest, params, depth+1, usedParam, out)
		}
	}
	if n.param != nil {
		p2 := cloneParams(params)
		p2[n.pname] = seg
		walk(n.param, rest, p2, depth+1, true, out)
	}
	if n.star != nil && len(rest) == 0 {
		*out = append(*out, Match{Table: n.star, Params: cloneParams(params), Rank: RankSingleGlob, Depth: depth})
	}
	if n.dotStar != nil && len(rest) == 0 {
		*out = append(*out, Match{Table: n.dotStar, Params: cloneParams(params), Rank: RankSingleGlob, Depth: depth})
	}
	if n.glob != nil {
		*out = append(*out, Match{Table: n.glob, Params: cloneParams(params), Rank: RankMultiGlob, Depth: depth})
	}
	if n.dotGlob != nil {
		*out = append(*out, Match{Table: n.dotGlob, Params: cloneParams(params), Rank: RankMultiGlob, Depth: depth})
	}
}

func cloneParams(p map[string]string) map[string]string {
	if len(p) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Graft merges every (method, path, category, handlers) triple reachable
// from src's root into t under the node reached by prefix, per spec.md
// §4.5. It is a structural tree merge rather than a path-string
// re-registration, so handler values are copied as-is into fresh slices
// and no re-compilation is needed.
func (t *Trie) Graft(prefix []Segment, src *Trie) error {
	cur := t.root
	for _, s := range prefix {
		switch s.Kind {
		case Literal:
			if cur.literal == nil {
				cur.literal = make(map[string]*node)
			}
			next, ok := cur.literal[s.Literal]
			if !ok {
				next = newNode()
				cur.literal[s.Literal] = next
			}
			cur = next
		case Param:
			if cur.param == nil {
				cur.param = newNode()
				cur.pname = s.Name
			}
			cur = cur.param
		default:
			return &CompileError{Pattern: Render(prefix), Reason: "Append prefix may not contain glob segments"}
		}
	}
	mergeNode(cur, src.root)
	return nil
}

func mergeNode(dst, src *node) {
	if src.exact != nil {
		if dst.exact == nil {
			dst.exact = newTable()
		}
		dst.exact.merge(src.exact)
	}
	if src.star != nil {
		if dst.star == nil {
			dst.star = newTable()
		}
		dst.star.merge(src.star)
	}
	if src.dotStar != nil {
		if dst.dotStar == nil {
			dst.dotStar = newTable()
		}
		dst.dotStar.merge(src.dotStar)
	}
	if src.glob != nil {
		if dst.glob == nil {
			dst.glob = newTable()
		}
		dst.glob.merge(src.glob)
	}
	if src.dotGlob != nil {
		if dst.dotGlob == nil {
			dst.dotGlob = newTable()
		}
		dst.dotGlob.merge(src.dotGlob)
	}
	if src.param != nil {
		if dst.param == nil {
			dst.param = newNode()
			dst.pname = src.pname
		}
		mergeNode(dst.param, src.param)
	}
	for label, child := range src.literal {
		if dst.literal == nil {
			dst.literal = make(map[string]*node)
		}
		dstChild, ok := dst.literal[label]
		if !ok {
			dstChild = newNode()
			dst.literal[label] = dstChild
		}
		mergeNode(dstChild, child)
	}
}
