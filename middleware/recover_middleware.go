package middleware

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"mediator/message"
	"mediator/sched"
)

// Recover turns a handler panic into a rejected future so one faulty handler
// cannot take the pump down. A nil future is treated the same way.
func Recover(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) (f *sched.Future[[]byte]) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Handler panicked",
						zap.Stringer("opcode", req.Opcode),
						zap.Any("panic", r),
						zap.Stack("stack"))
					f = sched.Failed[[]byte](fmt.Errorf("%s handler panicked: %v", req.Opcode, r))
				}
			}()
			f = next(ctx, req)
			if f == nil {
				f = sched.Failed[[]byte](fmt.Errorf("%s handler returned no result", req.Opcode))
			}
			return f
		}
	}
}
