package arbor_test

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-router/arbor"
	"github.com/arbor-router/arbor/middleware/auth"
	"github.com/arbor-router/arbor/middleware/cors"
)

func doRequest(t *testing.T, h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestParamRouteMatches(t *testing.T) {
	r := arbor.New()
	require.NoError(t, r.Get("/users/:id", func(ctx *arbor.Context) (arbor.Result, error) {
		assert.Equal(t, "42", ctx.Param("id"))
		return arbor.Respond(arbor.Text(http.StatusOK, "u:"+ctx.Param("id"))), nil
	}))

	rec := doRequest(t, r, http.MethodGet, "/users/42", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u:42", rec.Body.String())
}

func TestFilterErrorRoutesToCatcher(t *testing.T) {
	r := arbor.New()
	require.NoError(t, r.Filter("GET /boom", func(ctx *arbor.Context) (arbor.Result, error) {
		return arbor.Result{}, errors.New("boom")
	}))
	require.NoError(t, r.Get("/boom", func(ctx *arbor.Context) (arbor.Result, error) {
		t.Fatal("handler must not run once the filter errors")
		return arbor.Continue(), nil
	}))
	require.NoError(t, r.Catch("GET /boom", func(ctx *arbor.Context) (arbor.Result, error) {
		return arbor.Respond(arbor.JSON(http.StatusInternalServerError, map[string]any{
			"ok": false,
			"e":  ctx.Error().Error(),
		})), nil
	}))

	rec := doRequest(t, r, http.MethodGet, "/boom", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, "boom", body["e"])
}

func TestCORSPreflightAndPassThrough(t *testing.T) {
	r := arbor.New()
	h, err := cors.New(cors.WithOrigins("*"))
	require.NoError(t, err)
	require.NoError(t, r.Filter("*", h))
	require.NoError(t, r.Get("/", func(ctx *arbor.Context) (arbor.Result, error) {
		return arbor.Respond(arbor.Text(http.StatusOK, "ok")), nil
	}))

	rec := doRequest(t, r, http.MethodOptions, "/", map[string]string{"Origin": "http://a"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("Access-Control-Allow-Methods"))

	rec2 := doRequest(t, r, http.MethodOptions, "/", nil)
	assert.Empty(t, rec2.Header().Get("Access-Control-Allow-Origin"))
}

func TestBasicAuthChallengeAndSuccess(t *testing.T) {
	r := arbor.New()
	require.NoError(t, r.Filter("GET /admin", auth.Basic(
		auth.WithCredentials(map[string]string{"alice": "pw"}),
	)))
	require.NoError(t, r.Get("/admin", func(ctx *arbor.Context) (arbor.Result, error) {
		name, _ := ctx.Auth()
		return arbor.Respond(arbor.Text(http.StatusOK, "hi "+name.(string))), nil
	}))

	rec := doRequest(t, r, http.MethodGet, "/admin", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	creds := base64.StdEncoding.EncodeToString([]byte("alice:pw"))
	rec2 := doRequest(t, r, http.MethodGet, "/admin", map[string]string{"Authorization": "Basic " + creds})
	assert.Equal(t, http.StatusOK, rec2.Code)
	assert.Equal(t, "hi alice", rec2.Body.String())
}

func TestAppendComposesChildUnderPrefixWithoutChildDefaults(t *testing.T) {
	child := arbor.New(arbor.WithDefaultHeaders(arbor.StaticHeaders(map[string]string{
		"X-Child-Only": "yes",
	})))
	require.NoError(t, child.Get("/users", func(ctx *arbor.Context) (arbor.Result, error) {
		return arbor.Respond(arbor.Text(http.StatusOK, "u-list")), nil
	}))

	parent := arbor.New()
	require.NoError(t, parent.Append("/api", child))

	rec := doRequest(t, parent, http.MethodGet, "/api/users", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u-list", rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Child-Only"))
}

func TestNoMatchingRouteIs404(t *testing.T) {
	r := arbor.New()
	rec := doRequest(t, r, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPathMatchesButMethodDoesNotIs405(t *testing.T) {
	r := arbor.New()
	require.NoError(t, r.Get("/only-get", func(ctx *arbor.Context) (arbor.Result, error) {
		return arbor.Respond(arbor.Text(http.StatusOK, "ok")), nil
	}))
	rec := doRequest(t, r, http.MethodPost, "/only-get", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Header().Get("Allow"), "GET")
}

func TestNoResponseSynthesizes204(t *testing.T) {
	r := arbor.New()
	require.NoError(t, r.Get("/silent", func(ctx *arbor.Context) (arbor.Result, error) {
		return arbor.Continue(), nil
	}))
	rec := doRequest(t, r, http.MethodGet, "/silent", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestStopSentinelSkipsRemainingHandlersInCategory(t *testing.T) {
	r := arbor.New()
	var secondRan bool
	require.NoError(t, r.Filter("GET /stop",
		func(ctx *arbor.Context) (arbor.Result, error) { return arbor.Stop(), nil },
		func(ctx *arbor.Context) (arbor.Result, error) { secondRan = true; return arbor.Continue(), nil },
	))
	require.NoError(t, r.Get("/stop", func(ctx *arbor.Context) (arbor.Result, error) {
		return arbor.Respond(arbor.Text(http.StatusOK, "handled")), nil
	}))

	rec := doRequest(t, r, http.MethodGet, "/stop", nil)
	assert.False(t, secondRan)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "handled", rec.Body.String())
}

func TestHookResponseIsIgnored(t *testing.T) {
	r := arbor.New()
	require.NoError(t, r.Hook("GET /hooked", func(ctx *arbor.Context) (arbor.Result, error) {
		return arbor.Respond(arbor.Text(http.StatusTeapot, "ignored")), nil
	}))
	require.NoError(t, r.Get("/hooked", func(ctx *arbor.Context) (arbor.Result, error) {
		return arbor.Respond(arbor.Text(http.StatusOK, "real")), nil
	}))

	rec := doRequest(t, r, http.MethodGet, "/hooked", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "real", rec.Body.String())
}

func TestDuplicateRouteWithoutOverwriteFails(t *testing.T) {
	r := arbor.New()
	require.NoError(t, r.Get("/dup", func(ctx *arbor.Context) (arbor.Result, error) { return arbor.Continue(), nil }))
	err := r.Get("/dup", func(ctx *arbor.Context) (arbor.Result, error) { return arbor.Continue(), nil })
	assert.Error(t, err)
}

func TestGlobWildcardRoute(t *testing.T) {
	r := arbor.New()
	require.NoError(t, r.Get("/files/**", func(ctx *arbor.Context) (arbor.Result, error) {
		return arbor.Respond(arbor.Text(http.StatusOK, "glob")), nil
	}))

	rec := doRequest(t, r, http.MethodGet, "/files/a/b", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec2 := doRequest(t, r, http.MethodGet, "/files", nil)
	assert.Equal(t, http.StatusNotFound, rec2.Code)
}
