// Package middleware wraps module request handlers.
//
// Handlers run on the module's pump and must not block: they return a Future
// that completes when the operation does. A middleware therefore observes or
// replaces the future instead of waiting for it.
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
//	Execution order: A.before → B.before → C.before → handler → C.after → B.after → A.after
package middleware

import (
	"context"

	"mediator/message"
	"mediator/sched"
)

// HandlerFunc handles one module request. The returned future resolves with the
// success payload or rejects with the error reported to the host.
type HandlerFunc func(ctx context.Context, req *message.Request) *sched.Future[[]byte]

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Except applies mw to every request except those with one of the given
// opcodes, which go straight to next.
func Except(mw Middleware, ops ...message.Opcode) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		wrapped := mw(next)
		return func(ctx context.Context, req *message.Request) *sched.Future[[]byte] {
			for _, op := range ops {
				if req.Opcode == op {
					return next(ctx, req)
				}
			}
			return wrapped(ctx, req)
		}
	}
}
