package middleware

import "github.com/valyala/fasthttp"

// Middleware wraps a handler with behaviour that runs around it.
type Middleware func(next fasthttp.RequestHandler) fasthttp.RequestHandler

// Chain applies middlewares so that the first one listed runs outermost.
func Chain(handler fasthttp.RequestHandler, middlewares ...Middleware) fasthttp.RequestHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}
