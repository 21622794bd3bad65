package middleware

import (
	"bytes"
	"compress/gzip"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/vinyl-tracker/types"
)

const (
	AlgorithmBrotli = "br"
	AlgorithmGzip   = "gzip"

	minCompressionRatio = 0.1
)

var compressibleTypes = []string{
	"application/json",
	"text/plain",
	"text/",
}

type compressor struct {
	algorithm string
	level     int
	threshold int
	logger    types.Logger
	writers   sync.Pool
	buffers   sync.Pool
}

// Compression encodes response bodies the client accepts once they reach
// the threshold. Bodies that shrink by less than 10% are sent as is.
func Compression(logger types.Logger, config *types.CompressionConfig) Middleware {
	c := newCompressor(logger, config)

	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			next(ctx)

			if !c.accepts(ctx.Request.Header.Peek(fasthttp.HeaderAcceptEncoding)) {
				return
			}
			if len(ctx.Response.Header.ContentEncoding()) > 0 {
				return
			}
			if !compressible(ctx.Response.Header.ContentType()) {
				return
			}

			c.compress(ctx)
		}
	}
}

func newCompressor(logger types.Logger, config *types.CompressionConfig) *compressor {
	c := &compressor{
		algorithm: config.Algorithm,
		level:     config.Level,
		threshold: config.Threshold,
		logger:    logger,
	}

	if c.algorithm != AlgorithmGzip {
		c.algorithm = AlgorithmBrotli
	}
	if c.algorithm == AlgorithmGzip && (c.level < gzip.HuffmanOnly || c.level > gzip.BestCompression) {
		c.level = gzip.DefaultCompression
	}
	if c.algorithm == AlgorithmBrotli && (c.level < brotli.BestSpeed || c.level > brotli.BestCompression) {
		c.level = brotli.DefaultCompression
	}

	c.buffers.New = func() interface{} {
		return new(bytes.Buffer)
	}
	c.writers.New = func() interface{} {
		if c.algorithm == AlgorithmGzip {
			w, _ := gzip.NewWriterLevel(nil, c.level)
			return w
		}
		return brotli.NewWriterLevel(nil, c.level)
	}

	return c
}

type resettableWriter interface {
	io.WriteCloser
	Reset(w io.Writer)
}

func (c *compressor) accepts(acceptEncoding []byte) bool {
	for _, part := range strings.Split(string(acceptEncoding), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		if name == c.algorithm || name == "*" {
			return true
		}
	}
	return false
}

func (c *compressor) compress(ctx *fasthttp.RequestCtx) {
	body := ctx.Response.Body()
	if len(body) < c.threshold || len(body) == 0 {
		return
	}

	buf := c.buffers.Get().(*bytes.Buffer)
	buf.Reset()
	defer c.buffers.Put(buf)

	w := c.writers.Get().(resettableWriter)
	w.Reset(buf)
	defer c.writers.Put(w)

	if _, err := w.Write(body); err != nil {
		c.logger.Warn("Response compression failed", zap.Error(err))
		return
	}
	if err := w.Close(); err != nil {
		c.logger.Warn("Response compression failed", zap.Error(err))
		return
	}

	if 1.0-float64(buf.Len())/float64(len(body)) < minCompressionRatio {
		return
	}

	ctx.Response.SetBody(buf.Bytes())
	ctx.Response.Header.SetContentEncoding(c.algorithm)
	ctx.Response.Header.Add(fasthttp.HeaderVary, fasthttp.HeaderAcceptEncoding)
}

func compressible(contentType []byte) bool {
	ct, _, _ := strings.Cut(string(contentType), ";")
	ct = strings.TrimSpace(strings.ToLower(ct))
	if ct == "" {
		return false
	}

	for _, allowed := range compressibleTypes {
		if ct == allowed || (strings.HasSuffix(allowed, "/") && strings.HasPrefix(ct, allowed)) {
			return true
		}
	}
	return false
}
