package staticsite

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestEmbeddedIndex(t *testing.T) {
	h := NewHandler(Embedded(), Options{})
	rec := serve(h, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Body.String(), "Tourmaline Tech")
}

func TestExtensionlessPath(t *testing.T) {
	h := NewHandler(Embedded(), Options{})
	rec := serve(h, http.MethodGet, "/checkout")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `id="payment-form"`)
}

func TestPublishableKeyInjected(t *testing.T) {
	h := NewHandler(Embedded(), Options{PublishableKey: "pk_test_123"})
	rec := serve(h, http.MethodGet, "/checkout.html")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data-publishable-key="pk_test_123"`)
}

func TestStaticAssets(t *testing.T) {
	h := NewHandler(Embedded(), Options{})
	rec := serve(h, http.MethodGet, "/app.js")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
	// intents carry the form's contact details and a failed re-issue is reported
	assert.Contains(t, rec.Body.String(), "items: cart, ...details")
	assert.Contains(t, rec.Body.String(), "session.contact === key")
	assert.Contains(t, rec.Body.String(), "await reconcile();\n    } catch (err) {")

	head := serve(h, http.MethodHead, "/style.css")
	assert.Equal(t, http.StatusOK, head.Code)
	assert.Empty(t, head.Body.String())
}

func TestNotFoundAndTraversal(t *testing.T) {
	h := NewHandler(NewFSBackend(fstest.MapFS{
		"index.html": {Data: []byte("home")},
	}), Options{})

	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/missing.png").Code)
	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/a/b").Code)

	rec := serve(h, http.MethodGet, "/../../index.html")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "home", rec.Body.String())
}

func TestMethodNotAllowed(t *testing.T) {
	rec := serve(NewHandler(Embedded(), Options{}), http.MethodPost, "/")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, HEAD", rec.Header().Get("Allow"))
}

type brokenBackend struct{}

func (brokenBackend) Fetch(context.Context, string) (*Object, error) {
	return nil, errors.New("bucket unreachable")
}

type bucketBackend map[string]string

func (b bucketBackend) Fetch(_ context.Context, name string) (*Object, error) {
	s, ok := b[name]
	if !ok {
		return nil, ErrNotFound
	}
	return &Object{Body: io.NopCloser(strings.NewReader(s)), ContentType: "text/plain", Size: int64(len(s))}, nil
}

func TestBackendFailure(t *testing.T) {
	rec := serve(NewHandler(brokenBackend{}, Options{}), http.MethodGet, "/")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestBackendContentTypeWins(t *testing.T) {
	rec := serve(NewHandler(bucketBackend{"notes.html": "hi"}, Options{}), http.MethodGet, "/notes")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "hi", rec.Body.String())
}

func TestGCSBackendRequiresBucket(t *testing.T) {
	_, err := NewGCSBackend(context.Background(), GCSConfig{})
	assert.Error(t, err)
}
