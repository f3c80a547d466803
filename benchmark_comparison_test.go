package arbor_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/labstack/echo/v4"

	"github.com/arbor-router/arbor"
)

// These benchmarks compare arbor's dispatch against gin and echo on an
// identical route set, the same three-way comparison the teacher runs in
// its own benchmark_comparison_test.go. They are not correctness tests.

func newArborRouter(b *testing.B) http.Handler {
	r := arbor.New()
	if err := r.Get("/users/:id", func(ctx *arbor.Context) (arbor.Result, error) {
		return arbor.Respond(arbor.Text(http.StatusOK, ctx.Param("id"))), nil
	}); err != nil {
		b.Fatal(err)
	}
	return r
}

func newGinRouter(b *testing.B) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/users/:id", func(c *gin.Context) {
		c.String(http.StatusOK, c.Param("id"))
	})
	return r
}

func newEchoRouter(b *testing.B) http.Handler {
	e := echo.New()
	e.GET("/users/:id", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Param("id"))
	})
	return e
}

func BenchmarkArborParamRoute(b *testing.B) {
	h := newArborRouter(b)
	req := httptest.NewRequest(http.MethodGet, "/users/42", nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}
}

func BenchmarkGinParamRoute(b *testing.B) {
	h := newGinRouter(b)
	req := httptest.NewRequest(http.MethodGet, "/users/42", nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}
}

func BenchmarkEchoParamRoute(b *testing.B) {
	h := newEchoRouter(b)
	req := httptest.NewRequest(http.MethodGet, "/users/42", nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
	}
}
