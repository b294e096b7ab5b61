package sched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	merrors "mediator/errors"
)

func TestRunOrdering(t *testing.T) {
	p := New()
	var order []int

	err := p.Run(context.Background(), func(p *Pump) error {
		for i := 0; i < 100; i++ {
			require.NoError(t, PostWith(p, func(n int) { order = append(order, n) }, i))
		}
		return nil
	})
	require.NoError(t, err)

	require.Len(t, order, 100)
	for i, n := range order {
		assert.Equal(t, i, n)
	}
}

// Callbacks posted from other goroutines never run concurrently with each
// other; the counter below would race otherwise (go test -race).
func TestRunNoConcurrency(t *testing.T) {
	p := New()
	var (
		counter int
		inside  atomic.Int32
	)

	err := p.Run(context.Background(), func(p *Pump) error {
		release := p.Hold()
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					_ = p.Post(func() {
						assert.Equal(t, int32(1), inside.Add(1))
						counter++
						inside.Add(-1)
					})
				}
			}()
		}
		go func() {
			wg.Wait()
			release()
		}()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 8*200, counter)
}

func TestRunWaitsForTransitiveWork(t *testing.T) {
	p := New()
	var steps []string

	err := p.Run(context.Background(), func(p *Pump) error {
		steps = append(steps, "entry")
		Await(p, func() (int, error) {
			time.Sleep(20 * time.Millisecond)
			return 42, nil
		}, func(v int, err error) {
			steps = append(steps, "await")
			assert.Equal(t, 42, v)
			_ = p.Post(func() { steps = append(steps, "posted") })
		})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"entry", "await", "posted"}, steps)
}

func TestRunEntryError(t *testing.T) {
	boom := errors.New("boom")
	err := New().Run(context.Background(), func(*Pump) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestRunFail(t *testing.T) {
	p := New()
	boom := errors.New("fatal transport error")
	ran := false

	err := p.Run(context.Background(), func(p *Pump) error {
		_ = p.Post(func() { p.Fail(boom) })
		_ = p.Post(func() { ran = true })
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran, "callbacks after Fail must not run")
}

func TestRunPanic(t *testing.T) {
	err := New().Run(context.Background(), func(p *Pump) error {
		_ = p.Post(func() { panic("handler exploded") })
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler exploded")
}

func TestRunContextCancel(t *testing.T) {
	p := New()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := p.Run(ctx, func(p *Pump) error {
		p.Hold() // Never released
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, p.Stopped())
	assert.ErrorIs(t, p.Post(func() {}), merrors.ErrPumpStopped)
}

func TestRunTwice(t *testing.T) {
	p := New()
	require.NoError(t, p.Run(context.Background(), func(*Pump) error { return nil }))
	assert.Error(t, p.Run(context.Background(), func(*Pump) error { return nil }))
}

func TestPostBeforeRun(t *testing.T) {
	p := New()
	ran := false
	require.NoError(t, p.Post(func() { ran = true }))

	require.NoError(t, p.Run(context.Background(), func(*Pump) error { return nil }))
	assert.True(t, ran)
}

func TestPostWith2(t *testing.T) {
	p := New()
	var got string
	require.NoError(t, p.Run(context.Background(), func(p *Pump) error {
		return PostWith2(p, func(a string, b int) { got = a + string(rune('0'+b)) }, "v", 7)
	}))
	assert.Equal(t, "v7", got)
}
