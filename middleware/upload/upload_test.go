package upload_test

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-router/arbor"
	"github.com/arbor-router/arbor/middleware/upload"
)

// multipartRequest builds a real multipart/form-data POST body, so Parse
// drives mime/multipart.Reader exactly as it would against a browser
// upload rather than a hand-rolled fake body.
func multipartRequest(t *testing.T, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for name, value := range fields {
		require.NoError(t, w.WriteField(name, value))
	}
	for name, content := range files {
		fw, err := w.CreateFormFile(name, name+".txt")
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func newContext(t *testing.T, req *http.Request) *arbor.Context {
	t.Helper()
	r := arbor.New()
	var ctx *arbor.Context
	require.NoError(t, r.Post("/upload", func(c *arbor.Context) (arbor.Result, error) {
		ctx = c
		return arbor.Continue(), nil
	}))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return ctx
}

func TestParseRoutesFieldsAndFileBytes(t *testing.T) {
	var fields []string
	var fileBytes []byte
	var fileComplete bool
	var completeSize int64

	p := upload.New(upload.Limits{}, upload.Callbacks{
		OnField: func(_ string, name, value string) {
			fields = append(fields, name+"="+value)
		},
		OnFileChunk: func(c upload.Chunk) error {
			fileBytes = append(fileBytes, c.Data...)
			return nil
		},
		OnFileComplete: func(_ string, _, _ string, size int64) {
			fileComplete = true
			completeSize = size
		},
	}, nil)

	req := multipartRequest(t, map[string]string{"title": "hello"}, map[string]string{"doc": "file contents here"})
	ctx := newContext(t, req)

	resp, err := p.Parse(ctx)
	require.NoError(t, err)
	assert.Nil(t, resp)
	assert.Equal(t, []string{"title=hello"}, fields)
	assert.Equal(t, "file contents here", string(fileBytes))
	assert.True(t, fileComplete)
	assert.EqualValues(t, len("file contents here"), completeSize)
}

func TestParseInvokesUploadLifecycleCallbacks(t *testing.T) {
	var started, completed bool
	var completedOK bool

	p := upload.New(upload.Limits{}, upload.Callbacks{
		OnUploadStart:    func(string) { started = true },
		OnUploadComplete: func(_ string, ok bool) { completed, completedOK = true, ok },
	}, func() string { return "fixed-id" })

	req := multipartRequest(t, map[string]string{"a": "b"}, nil)
	ctx := newContext(t, req)

	_, err := p.Parse(ctx)
	require.NoError(t, err)
	assert.True(t, started)
	assert.True(t, completed)
	assert.True(t, completedOK)
}

func TestParseRejectsDisallowedFileType(t *testing.T) {
	var fileErr error
	p := upload.New(upload.Limits{AllowedTypes: []string{"application/pdf"}}, upload.Callbacks{
		OnFileError: func(_ string, _, _ string, err error) { fileErr = err },
	}, nil)

	req := multipartRequest(t, nil, map[string]string{"doc": "not a pdf"})
	ctx := newContext(t, req)

	resp, err := p.Parse(ctx)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.Status)
	assert.Error(t, fileErr)
}

func TestParseRejectsFileExceedingMaxFileSize(t *testing.T) {
	var fileErr error
	p := upload.New(upload.Limits{MaxFileSize: 4}, upload.Callbacks{
		OnFileError: func(_ string, _, _ string, err error) { fileErr = err },
	}, nil)

	req := multipartRequest(t, nil, map[string]string{"doc": "way more than four bytes"})
	ctx := newContext(t, req)

	resp, err := p.Parse(ctx)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Status)
	assert.Error(t, fileErr)
}

func TestParseRejectsTooManyFiles(t *testing.T) {
	p := upload.New(upload.Limits{MaxFiles: 1}, upload.Callbacks{}, nil)

	req := multipartRequest(t, nil, map[string]string{"a": "1", "b": "2"})
	ctx := newContext(t, req)

	resp, err := p.Parse(ctx)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestParseRejectsTooManyFields(t *testing.T) {
	p := upload.New(upload.Limits{MaxFields: 1}, upload.Callbacks{}, nil)

	req := multipartRequest(t, map[string]string{"a": "1", "b": "2"}, nil)
	ctx := newContext(t, req)

	resp, err := p.Parse(ctx)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.Status)
}

func TestParseFileStartCanRenameFile(t *testing.T) {
	var completedName string
	p := upload.New(upload.Limits{}, upload.Callbacks{
		OnFileStart: func(_, _, _ string) (upload.FileMeta, error) {
			return upload.FileMeta{Filename: "renamed.bin"}, nil
		},
		OnFileComplete: func(_ string, _, filename string, _ int64) {
			completedName = filename
		},
	}, nil)

	req := multipartRequest(t, nil, map[string]string{"doc": "content"})
	ctx := newContext(t, req)

	_, err := p.Parse(ctx)
	require.NoError(t, err)
	assert.Equal(t, "renamed.bin", completedName)
}

func TestHandlerPassesThroughNonMultipartRequests(t *testing.T) {
	p := upload.New(upload.Limits{}, upload.Callbacks{}, nil)
	h := p.Handler()

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("plain text"))
	req.Header.Set("Content-Type", "text/plain")
	ctx := newContext(t, req)

	result, err := h(ctx)
	require.NoError(t, err)
	assert.Equal(t, arbor.Continue(), result)
}
