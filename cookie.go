package arbor

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SameSite is the cookie SameSite attribute, restricted to the three
// values spec.md §6 enumerates.
type SameSite string

const (
	SameSiteStrict SameSite = "Strict"
	SameSiteLax    SameSite = "Lax"
	SameSiteNone   SameSite = "None"
)

// CookieOptions mirrors the (name, value, options) tuple of spec.md §6.
type CookieOptions struct {
	Path     string
	Domain   string
	Expires  time.Time
	MaxAge   int // seconds; 0 means unset
	HTTPOnly bool
	Secure   bool
	SameSite SameSite
}

// SetCookie appends a Set-Cookie header to the response built so far.
// Handlers call it on the Context before returning a Result so the header
// accumulates regardless of which category finally produces the response.
func (c *Context) SetCookie(name, value string, opts CookieOptions) {
	c.Header.Add("Set-Cookie", formatCookie(name, value, opts))
}

// ClearCookie is equivalent to setting an empty value with an expiry in the
// past, per spec.md §6.
func (c *Context) ClearCookie(name string, opts CookieOptions) {
	opts.MaxAge = -1
	opts.Expires = time.Unix(0, 0)
	c.SetCookie(name, "", opts)
}

func formatCookie(name, value string, opts CookieOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s=%s", name, value)
	if opts.Path != "" {
		fmt.Fprintf(&b, "; Path=%s", opts.Path)
	}
	if opts.Domain != "" {
		fmt.Fprintf(&b, "; Domain=%s", opts.Domain)
	}
	if !opts.Expires.IsZero() {
		fmt.Fprintf(&b, "; Expires=%s", opts.Expires.UTC().Format(http.TimeFormat))
	}
	if opts.MaxAge != 0 {
		fmt.Fprintf(&b, "; Max-Age=%d", opts.MaxAge)
	}
	if opts.HTTPOnly {
		b.WriteString("; HttpOnly")
	}
	if opts.Secure {
		b.WriteString("; Secure")
	}
	if opts.SameSite != "" {
		fmt.Fprintf(&b, "; SameSite=%s", opts.SameSite)
	}
	return b.String()
}
