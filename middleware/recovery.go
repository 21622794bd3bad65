package middleware

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/vinyl-tracker/types"
)

var stackBufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 4096)
		return &buf
	},
}

// Recovery turns a handler panic into a 500 and logs it with the stack.
// metrics may be nil.
func Recovery(logger types.Logger, metrics types.MetricsManager) Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}

				fields := []zap.Field{
					zap.String("panic", fmt.Sprint(rec)),
					zap.ByteString("method", ctx.Method()),
					zap.ByteString("path", ctx.Path()),
					zap.String("remote_addr", ctx.RemoteIP().String()),
					zap.String("stack", stackTrace()),
				}
				if requestID := ctx.Request.Header.Peek(RequestIDHeader); len(requestID) > 0 {
					fields = append(fields, zap.ByteString("request_id", requestID))
				}
				logger.Error("Recovered from panic", fields...)

				if metrics != nil {
					metrics.Counter("ops_http_panics_total", map[string]string{
						"path": string(ctx.Path()),
					}).Inc()
				}

				ctx.ResetBody()
				ctx.Error(fasthttp.StatusMessage(fasthttp.StatusInternalServerError), fasthttp.StatusInternalServerError)
			}()

			next(ctx)
		}
	}
}

func stackTrace() string {
	buf := stackBufPool.Get().(*[]byte)
	defer stackBufPool.Put(buf)

	n := runtime.Stack(*buf, false)
	if n < len(*buf) {
		return string((*buf)[:n])
	}

	large := make([]byte, 65536)
	n = runtime.Stack(large, false)
	return string(large[:n])
}
