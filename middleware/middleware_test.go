package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"mediator/errors"
	"mediator/message"
	"mediator/sched"
)

// 模拟一个简单的 handler：直接返回成功响应
func echoHandler(ctx context.Context, req *message.Request) *sched.Future[[]byte] {
	return sched.Resolved([]byte("ok"))
}

// 模拟一个慢 handler：200ms 后才完成
func slowHandler(ctx context.Context, req *message.Request) *sched.Future[[]byte] {
	return sched.Go(func() ([]byte, error) {
		time.Sleep(200 * time.Millisecond)
		return []byte("ok"), nil
	})
}

func failingHandler(ctx context.Context, req *message.Request) *sched.Future[[]byte] {
	return sched.Failed[[]byte](assert.AnError)
}

func wait(t *testing.T, f *sched.Future[[]byte]) ([]byte, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return f.Wait(ctx)
}

var req = &message.Request{ID: 1, Opcode: message.OpReadVariables}

func TestLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	v, err := wait(t, Logging(logger)(echoHandler)(context.Background(), req))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), v)

	_, err = wait(t, Logging(logger)(failingHandler)(context.Background(), req))
	require.Error(t, err)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Request completed", entries[0].Message)
	assert.Equal(t, "ReadVariables", entries[0].ContextMap()["opcode"])
	assert.Equal(t, "Request failed", entries[1].Message)
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
}

func TestTimeoutPass(t *testing.T) {
	// 超时 500ms，handler 很快，应该正常返回
	v, err := wait(t, Timeout(500*time.Millisecond)(echoHandler)(context.Background(), req))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), v)
}

func TestTimeoutExceeded(t *testing.T) {
	// 超时 50ms，handler 需要 200ms，应该超时
	var handlerCtx context.Context
	h := func(ctx context.Context, r *message.Request) *sched.Future[[]byte] {
		handlerCtx = ctx
		return slowHandler(ctx, r)
	}

	_, err := wait(t, Timeout(50*time.Millisecond)(h)(context.Background(), req))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTimeout)
	assert.Error(t, handlerCtx.Err(), "handler context is cancelled on timeout")
}

func TestTimeoutPropagatesHandlerError(t *testing.T) {
	_, err := wait(t, Timeout(time.Second)(failingHandler)(context.Background(), req))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2 → 前 2 个立刻放行，第 3 个被拒
	handler := RateLimit(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		_, err := wait(t, handler(context.Background(), req))
		require.NoError(t, err, "request %d should pass", i)
	}

	_, err := wait(t, handler(context.Background(), req))
	assert.ErrorIs(t, err, errors.ErrRateLimited)
	assert.Equal(t, errors.ClassApplication, errors.Classify(err))
}

func TestExcept(t *testing.T) {
	handler := Except(Timeout(50*time.Millisecond), message.OpRun)(slowHandler)

	run := &message.Request{ID: 2, Opcode: message.OpRun}
	v, err := wait(t, handler(context.Background(), run))
	require.NoError(t, err, "exempt opcode outlives the timeout")
	assert.Equal(t, []byte("ok"), v)

	_, err = wait(t, handler(context.Background(), req))
	assert.ErrorIs(t, err, errors.ErrTimeout)
}

func TestRecover(t *testing.T) {
	panicking := func(ctx context.Context, r *message.Request) *sched.Future[[]byte] {
		panic("boom")
	}
	returnsNil := func(ctx context.Context, r *message.Request) *sched.Future[[]byte] {
		return nil
	}

	_, err := wait(t, Recover(zap.NewNop())(panicking)(context.Background(), req))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = wait(t, Recover(zap.NewNop())(returnsNil)(context.Background(), req))
	assert.Error(t, err)

	v, err := wait(t, Recover(zap.NewNop())(echoHandler)(context.Background(), req))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), v)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, r *message.Request) *sched.Future[[]byte] {
				order = append(order, name+".before")
				f := next(ctx, r)
				order = append(order, name+".after")
				return f
			}
		}
	}

	handler := Chain(mark("A"), mark("B"), mark("C"))(echoHandler)
	_, err := wait(t, handler(context.Background(), req))
	require.NoError(t, err)
	assert.Equal(t, []string{"A.before", "B.before", "C.before", "C.after", "B.after", "A.after"}, order)
}

func TestChain(t *testing.T) {
	// 用 Chain 组合 Recover + Logging + Timeout，验证请求能正常穿过
	handler := Chain(Recover(zap.NewNop()), Logging(zap.NewNop()), Timeout(500*time.Millisecond))(echoHandler)

	v, err := wait(t, handler(context.Background(), req))
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), v)
}
