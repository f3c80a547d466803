// Package loader implements the file-system route-discovery walker spec.md
// §6 treats as an external collaborator: it converts a directory tree of
// route files into the route-DSL strings arbor's Router registers
// directly, with no further domain logic inside arbor itself.
package loader

import (
	"io/fs"
	"path"
	"strings"
)

// Conversion rules for one path segment, per spec.md §6:
//
//	[name].ext -> :name
//	[$]        -> *
//	($)        -> *  (excluding current node)
//	[$$]       -> .**
//	($$)       -> **
//	index      -> empty segment
func convertSegment(seg string) string {
	seg = strings.TrimSuffix(seg, path.Ext(seg))
	switch {
	case seg == "index":
		return ""
	case strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]"):
		inner := seg[1 : len(seg)-1]
		switch inner {
		case "$":
			return "*"
		case "$$":
			return ".**"
		default:
			return ":" + inner
		}
	case strings.HasPrefix(seg, "(") && strings.HasSuffix(seg, ")"):
		inner := seg[1 : len(seg)-1]
		switch inner {
		case "$":
			return "*"
		case "$$":
			return "**"
		default:
			return inner
		}
	default:
		return seg
	}
}

// Route is one discovered (method, path) pair together with the
// file-system path it was derived from, for error reporting.
type Route struct {
	Method  string
	Path    string
	SrcFile string
}

// methodFromFilename splits "get.go" or "post.handler.go" style filenames
// into an HTTP method token and the remainder, defaulting to GET when no
// method prefix is present.
func methodFromFilename(name string) (method, rest string) {
	base := strings.TrimSuffix(name, path.Ext(name))
	for _, m := range []string{"get", "post", "put", "patch", "delete", "head", "options", "all", "crud"} {
		if base == m {
			return strings.ToUpper(m), ""
		}
		if strings.HasPrefix(base, m+".") {
			return strings.ToUpper(m), base[len(m)+1:]
		}
	}
	return "GET", base
}

// Walk walks fsys rooted at dir, converting every regular file into a
// Route. Directory segments and the leading path component of each
// filename are converted independently via convertSegment, then joined
// with '/'.
func Walk(fsys fs.FS, dir string) ([]Route, error) {
	var routes []Route
	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, dir), "/")
		parts := strings.Split(rel, "/")
		method, fileSeg := methodFromFilename(parts[len(parts)-1])

		segs := make([]string, 0, len(parts))
		for _, part := range parts[:len(parts)-1] {
			segs = append(segs, convertSegment(part))
		}
		if fileSeg != "" {
			segs = append(segs, convertSegment(fileSeg))
		}

		routePath := "/" + strings.Join(filterEmpty(segs), "/")
		if routePath == "/" {
			routePath = "/"
		}
		routes = append(routes, Route{Method: method, Path: routePath, SrcFile: p})
		return nil
	})
	return routes, err
}

func filterEmpty(segs []string) []string {
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DSL renders a Route as the "METHOD /path" string arbor.Router registration
// methods accept.
func (r Route) DSL() string { return r.Method + " " + r.Path }
