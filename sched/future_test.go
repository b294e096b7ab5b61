package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureCompletesOnce(t *testing.T) {
	f := NewFuture[string]()
	assert.False(t, f.Completed())

	assert.True(t, f.Resolve("first"))
	assert.False(t, f.Resolve("second"))
	assert.False(t, f.Reject(errors.New("late")))

	v, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, "first", v)
	assert.True(t, f.Completed())
}

func TestFutureWait(t *testing.T) {
	f := NewFuture[int]()
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Resolve(5)
	}()

	v, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, v)
}

func TestFutureWaitContext(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.Completed(), "an expired wait must not complete the future")
}

func TestFutureThenRunsOnPump(t *testing.T) {
	p := New()
	boom := errors.New("boom")
	var results []string

	err := p.Run(context.Background(), func(p *Pump) error {
		pending := NewFuture[string]()
		pending.Then(p, func(v string, err error) {
			results = append(results, "late:"+v)
		})
		Failed[string](boom).Then(p, func(_ string, err error) {
			assert.ErrorIs(t, err, boom)
			results = append(results, "failed")
		})
		Resolved("now").Then(p, func(v string, err error) {
			results = append(results, "resolved:"+v)
		})

		go func() {
			time.Sleep(10 * time.Millisecond)
			pending.Resolve("x")
		}()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"failed", "resolved:now", "late:x"}, results)
}

func TestGo(t *testing.T) {
	boom := errors.New("boom")

	v, err := Go(func() (int, error) { return 3, nil }).Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = Go(func() (int, error) { return 0, boom }).Wait(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestFutureOnDone(t *testing.T) {
	f := NewFuture[int]()
	got := make(chan int, 2)
	f.OnDone(func(v int, err error) { got <- v })

	f.Resolve(3)
	assert.Equal(t, 3, <-got)

	// Registered after completion: runs immediately.
	f.OnDone(func(v int, err error) { got <- v * 2 })
	assert.Equal(t, 6, <-got)
}
