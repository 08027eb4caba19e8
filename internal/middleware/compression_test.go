package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRouter(cm *Compressor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(cm.Handler())
	r.GET("/large", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": strings.Repeat("linear,", 400)})
	})
	r.GET("/small", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	r.GET("/text", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/octet-stream", []byte(strings.Repeat("x", 4096)))
	})
	r.GET("/empty", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func get(r http.Handler, path, acceptEncoding string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if acceptEncoding != "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCompressor_CompressesLargeJSON(t *testing.T) {
	cm := NewCompressor(DefaultCompressionConfig())
	w := get(newRouter(cm), "/large", "br, gzip;q=0.8")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
	assert.Equal(t, "Accept-Encoding", w.Header().Get("Vary"))

	gz, err := gzip.NewReader(w.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"models":"linear,linear,`)

	stats := cm.Stats()
	assert.Equal(t, int64(1), stats["compressed_responses"])
	assert.Less(t, stats["compression_ratio"].(float64), 0.5)
}

func TestCompressor_PassThrough(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		acceptEncoding string
		wantStatus     int
	}{
		{"client without gzip", "/large", "", http.StatusOK},
		{"client with other codings", "/large", "br, deflate", http.StatusOK},
		{"below min size", "/small", "gzip", http.StatusOK},
		{"content type not listed", "/text", "gzip", http.StatusOK},
		{"empty body", "/empty", "gzip", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm := NewCompressor(DefaultCompressionConfig())
			w := get(newRouter(cm), tt.path, tt.acceptEncoding)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Empty(t, w.Header().Get("Content-Encoding"))
			assert.Equal(t, int64(0), cm.Stats()["compressed_responses"])
		})
	}
}

func TestCompressor_InvalidLevelFallsBack(t *testing.T) {
	cm := NewCompressor(CompressionConfig{MinSize: 1, CompressionLevel: 42, ContentTypes: []string{"application/json"}})
	assert.Equal(t, gzip.DefaultCompression, cm.config.CompressionLevel)

	w := get(newRouter(cm), "/small", "gzip")
	assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
}
