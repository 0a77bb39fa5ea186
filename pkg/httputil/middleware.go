package httputil

import (
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Middleware is a function that wraps a handler
type Middleware func(fasthttp.RequestHandler) fasthttp.RequestHandler

// Chain applies middleware so that the first one is the outermost
func Chain(handler fasthttp.RequestHandler, middleware ...Middleware) fasthttp.RequestHandler {
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}
	return handler
}

// Recover turns a handler panic into a 500 response
func Recover(logger zerolog.Logger) Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().
						Interface("panic", r).
						Str("path", string(ctx.Path())).
						Str("stack", string(debug.Stack())).
						Msg("HTTP handler panic recovered")
					WriteErrorResponse(ctx, "internal server error", fasthttp.StatusInternalServerError)
				}
			}()
			next(ctx)
		}
	}
}

// AccessLog logs every request at debug level
func AccessLog(logger zerolog.Logger) Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)
			logger.Debug().
				Str("method", string(ctx.Method())).
				Str("path", string(ctx.Path())).
				Int("status", ctx.Response.StatusCode()).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		}
	}
}
