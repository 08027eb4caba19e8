// Package middleware holds HTTP middleware shared by the API routes.
package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

// CompressionConfig holds configuration for response compression
type CompressionConfig struct {
	MinSize          int      // Minimum response size to compress (bytes)
	CompressionLevel int      // Gzip compression level (1-9, 9 is best compression)
	ContentTypes     []string // Content types to compress
}

// DefaultCompressionConfig returns the default compression configuration
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize:          1024,
		CompressionLevel: gzip.DefaultCompression,
		ContentTypes: []string{
			"application/json",
			"text/plain",
		},
	}
}

// Compressor gzips buffered responses for clients that accept it
type Compressor struct {
	config CompressionConfig
	pool   sync.Pool
	stats  CompressionStats
}

// NewCompressor creates a compressor. An invalid level falls back to the
// default level.
func NewCompressor(config CompressionConfig) *Compressor {
	level := config.CompressionLevel
	if _, err := gzip.NewWriterLevel(io.Discard, level); err != nil {
		level = gzip.DefaultCompression
	}
	config.CompressionLevel = level

	return &Compressor{
		config: config,
		pool: sync.Pool{
			New: func() interface{} {
				gz, _ := gzip.NewWriterLevel(io.Discard, level)
				return gz
			},
		},
	}
}

// bufferedWriter holds the body until the handler chain returns
type bufferedWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *bufferedWriter) Write(data []byte) (int, error) {
	return w.body.Write(data)
}

func (w *bufferedWriter) WriteString(s string) (int, error) {
	return w.body.WriteString(s)
}

// Handler returns the gin middleware. Bodies below MinSize, or of a content
// type not listed, are written unchanged.
func (cm *Compressor) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !acceptsGzip(c.GetHeader("Accept-Encoding")) {
			c.Next()
			return
		}

		original := c.Writer
		buffered := &bufferedWriter{ResponseWriter: original}
		c.Writer = buffered
		c.Next()
		c.Writer = original

		body := buffered.body.Bytes()
		if len(body) == 0 {
			return
		}
		original.Header().Add("Vary", "Accept-Encoding")

		if len(body) < cm.config.MinSize || !cm.compressible(original.Header().Get("Content-Type")) {
			cm.stats.record(len(body), len(body), false)
			_, _ = original.Write(body)
			return
		}

		original.Header().Set("Content-Encoding", "gzip")
		original.Header().Del("Content-Length")

		counter := &countingWriter{w: original}
		gz := cm.pool.Get().(*gzip.Writer)
		gz.Reset(counter)
		_, _ = gz.Write(body)
		_ = gz.Close()
		cm.pool.Put(gz)

		cm.stats.record(len(body), counter.n, true)
	}
}

// Stats returns compression statistics
func (cm *Compressor) Stats() map[string]interface{} {
	return cm.stats.snapshot()
}

func (cm *Compressor) compressible(contentType string) bool {
	for _, ct := range cm.config.ContentTypes {
		if strings.Contains(contentType, ct) {
			return true
		}
	}
	return false
}

func acceptsGzip(acceptEncoding string) bool {
	for _, part := range strings.Split(acceptEncoding, ",") {
		coding, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(coding, "gzip") {
			return true
		}
	}
	return false
}

type countingWriter struct {
	w io.Writer
	n int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += n
	return n, err
}

// CompressionStats tracks compression statistics
type CompressionStats struct {
	totalResponses      atomic.Int64
	compressedResponses atomic.Int64
	totalBytes          atomic.Int64
	writtenBytes        atomic.Int64
}

func (cs *CompressionStats) record(originalSize, writtenSize int, compressed bool) {
	cs.totalResponses.Add(1)
	cs.totalBytes.Add(int64(originalSize))
	cs.writtenBytes.Add(int64(writtenSize))
	if compressed {
		cs.compressedResponses.Add(1)
	}
}

func (cs *CompressionStats) snapshot() map[string]interface{} {
	total := cs.totalBytes.Load()
	written := cs.writtenBytes.Load()

	ratio := float64(1)
	if total > 0 {
		ratio = float64(written) / float64(total)
	}

	return map[string]interface{}{
		"total_responses":      cs.totalResponses.Load(),
		"compressed_responses": cs.compressedResponses.Load(),
		"total_bytes":          total,
		"written_bytes":        written,
		"compression_ratio":    ratio,
	}
}
