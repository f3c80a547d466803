package arbor

// Forward re-dispatches req internally against the same router at a new
// path, preserving the original request but stamping the forwarding
// headers spec.md §6 requires. It is the primitive behind internal
// redirects and catch-all proxying within a single Router; it never leaves
// the process.
func (c *Context) Forward(path string) (Result, error) {
	return c.forward(path, "")
}

// ForwardMethod is Forward but additionally overrides the method used for
// re-dispatch, stamping X-Forwarded-Method per spec.md §6.
func (c *Context) ForwardMethod(method, path string) (Result, error) {
	return c.forward(path, method)
}

func (c *Context) forward(path, method string) (Result, error) {
	original := c.Request.Clone(c.Request.Context())
	original.Header = c.Request.Header.Clone()
	original.Header.Set("X-Forwarded-Path", path)
	original.Header.Set("X-Original-Path", c.Request.URL.Path)
	if method != "" && method != c.Request.Method {
		original.Header.Set("X-Forwarded-Method", method)
		original.Method = method
	}
	original.URL.Path = path
	original.RequestURI = ""

	resp := c.router.dispatch(original, nil)
	return Respond(resp), nil
}
