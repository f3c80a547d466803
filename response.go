package arbor

import (
	"encoding/json"
	"net/http"
)

// Response is the core's buffered or streaming response value. Handlers
// build one and hand it to Respond; the executor applies default headers
// to it once (spec.md §4.4 step 9) before running after-handlers, which may
// still mutate Header or replace the Response outright.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Stream func(w http.ResponseWriter) // set for streaming responses instead of Body
}

func newResponse(status int) *Response {
	return &Response{Status: status, Header: http.Header{}}
}

// Text builds a text/plain response.
func Text(status int, body string) *Response {
	r := newResponse(status)
	r.Header.Set("Content-Type", "text/plain; charset=utf-8")
	r.Body = []byte(body)
	return r
}

// JSON builds an application/json response by marshalling v with
// encoding/json.Marshal, which escapes '<', '>' and '&' in strings.
func JSON(status int, v any) *Response {
	r := newResponse(status)
	r.Header.Set("Content-Type", "application/json; charset=utf-8")
	b, err := json.Marshal(v)
	if err != nil {
		r.Status = http.StatusInternalServerError
		r.Body = []byte(`{"error":"json encode failed"}`)
		return r
	}
	r.Body = b
	return r
}

// Bytes builds a response with an explicit content type and raw body.
func Bytes(status int, contentType string, body []byte) *Response {
	r := newResponse(status)
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	r.Body = body
	return r
}

// NoContent builds the 204 response synthesized by the executor per
// spec.md §4.4 step 8 when no handler produces a response.
func NoContent() *Response {
	return newResponse(http.StatusNoContent)
}

// Redirect builds a 3xx response pointing at location.
func Redirect(status int, location string) *Response {
	r := newResponse(status)
	r.Header.Set("Location", location)
	return r
}

// Empty builds a response with only a status code and no body, for
// handlers that must respond without content.
func Empty(status int) *Response {
	return newResponse(status)
}

// SetHeader sets a header on the response, overwriting any existing value.
func (r *Response) SetHeader(key, value string) *Response {
	r.Header.Set(key, value)
	return r
}

// AddHeader appends a header value without removing existing ones (used for
// repeatable headers such as Vary or Set-Cookie).
func (r *Response) AddHeader(key, value string) *Response {
	r.Header.Add(key, value)
	return r
}

// write finalizes the response onto w. It is called exactly once by the
// executor after default headers and after-handlers have run.
func (r *Response) write(w http.ResponseWriter) {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	if r.Stream != nil {
		w.WriteHeader(r.Status)
		r.Stream(w)
		return
	}
	w.WriteHeader(r.Status)
	if len(r.Body) > 0 {
		_, _ = w.Write(r.Body)
	}
}

// DefaultHeaders is either a static header set or a function computing one
// per request, matching the teacher's pattern of accepting either a value
// or a func(...) for configuration knobs (router/options.go).
type DefaultHeaders func(*Context) map[string]string

// StaticHeaders adapts a fixed header map into a DefaultHeaders function.
func StaticHeaders(h map[string]string) DefaultHeaders {
	return func(*Context) map[string]string { return h }
}
