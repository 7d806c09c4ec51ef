package utils

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title":"Dune","pages":412}`))
	}))
	defer srv.Close()

	var out struct {
		Title string `json:"title"`
		Pages int    `json:"pages"`
	}
	c := NewHTTPClient("test-json", time.Second)
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out, WithBearer("secret")))
	assert.Equal(t, "Dune", out.Title)
	assert.Equal(t, 412, out.Pages)
}

func TestHTTPClient_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write([]byte(`{"ok":true}`))
	require.NoError(t, gz.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	c := NewHTTPClient("test-gzip", time.Second)
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))
	assert.True(t, out.OK)
}

func TestHTTPClient_NotFoundDoesNotTrip(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient("test-404", time.Second)
	for i := 0; i < 8; i++ {
		_, err := c.GetBytes(context.Background(), srv.URL)
		assert.ErrorIs(t, err, ErrHTTPNotFound)
	}
	assert.Equal(t, int32(8), atomic.LoadInt32(&hits))
}

func TestHTTPClient_BreakerOpens(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient("test-breaker", time.Second)
	for i := 0; i < 5; i++ {
		_, err := c.GetBytes(context.Background(), srv.URL)
		var statusErr *HTTPStatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	}

	_, err := c.GetBytes(context.Background(), srv.URL)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))
}

func TestHTTPClient_GetDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head><meta property="og:title" content="Hello"></head></html>`))
	}))
	defer srv.Close()

	c := NewHTTPClient("test-doc", time.Second)
	doc, err := c.GetDocument(context.Background(), srv.URL)
	require.NoError(t, err)
	v, ok := doc.Find(`meta[property="og:title"]`).Attr("content")
	assert.True(t, ok)
	assert.Equal(t, "Hello", v)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		_, _ = w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL, "tiny", 3)
	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 3)

	wrongDim := NewOllamaEmbedder(srv.URL, "tiny", 4)
	_, err = wrongDim.Embed(context.Background(), "hello")
	assert.Error(t, err)

	_, err = e.Embed(context.Background(), "  ")
	assert.Error(t, err)
}
