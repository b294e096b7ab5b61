package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mediator/message"
	"mediator/sched"
)

// Logging logs every request with its opcode, duration and error, if any.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *sched.Future[[]byte] {
			start := time.Now()
			f := next(ctx, req)
			f.OnDone(func(_ []byte, err error) {
				fields := []zap.Field{
					zap.Stringer("opcode", req.Opcode),
					zap.Uint32("request_id", req.ID),
					zap.Duration("duration", time.Since(start)),
				}
				if err != nil {
					logger.Warn("Request failed", append(fields, zap.Error(err))...)
					return
				}
				logger.Debug("Request completed", fields...)
			})
			return f
		}
	}
}
