package middleware

import (
	"context"
	"time"

	"mediator/errors"
	"mediator/message"
	"mediator/sched"
)

// Timeout rejects a request with errors.ErrTimeout if its handler has not
// completed within timeout. The handler's ctx is cancelled at the same time.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *sched.Future[[]byte] {
			ctx, cancel := context.WithTimeout(ctx, timeout)

			out := sched.NewFuture[[]byte]()
			timer := time.AfterFunc(timeout, func() {
				cancel()
				out.Reject(errors.Wrap(errors.ErrTimeout, "middleware", "Timeout", req.Opcode.String()))
			})

			next(ctx, req).OnDone(func(v []byte, err error) {
				timer.Stop()
				cancel()
				if err != nil {
					out.Reject(err)
					return
				}
				out.Resolve(v)
			})
			return out
		}
	}
}
