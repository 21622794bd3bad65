package middleware

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/vinyl-tracker/types"
)

const RequestIDHeader = "X-Request-ID"

// Logging assigns a request id when the caller sent none and logs every
// completed request. Successful ones go to Debug so scrapes stay quiet.
func Logging(logger types.Logger) Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()

			requestID := string(ctx.Request.Header.Peek(RequestIDHeader))
			if requestID == "" {
				requestID = uuid.NewString()
				ctx.Request.Header.Set(RequestIDHeader, requestID)
			}
			ctx.Response.Header.Set(RequestIDHeader, requestID)

			next(ctx)

			status := ctx.Response.StatusCode()
			fields := []zap.Field{
				zap.ByteString("method", ctx.Method()),
				zap.ByteString("path", ctx.Path()),
				zap.Int("status", status),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", remoteAddr(ctx)),
				zap.String("request_id", requestID),
			}

			switch {
			case status >= fasthttp.StatusInternalServerError:
				logger.Error("Request completed", fields...)
			case status >= fasthttp.StatusBadRequest:
				logger.Warn("Request completed", fields...)
			default:
				logger.Debug("Request completed", fields...)
			}
		}
	}
}

func remoteAddr(ctx *fasthttp.RequestCtx) string {
	if forwarded := string(ctx.Request.Header.Peek("X-Forwarded-For")); forwarded != "" {
		if comma := strings.Index(forwarded, ","); comma > 0 {
			return strings.TrimSpace(forwarded[:comma])
		}
		return forwarded
	}

	if realIP := string(ctx.Request.Header.Peek("X-Real-IP")); realIP != "" {
		return realIP
	}

	return ctx.RemoteIP().String()
}
