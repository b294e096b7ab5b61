package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"mediator/errors"
	"mediator/message"
	"mediator/sched"
)

func TestPendingTable(t *testing.T) {
	table := NewPendingTable()
	f1 := sched.NewFuture[*message.Response]()
	f2 := sched.NewFuture[*message.Response]()
	table.Add(1, f1)
	table.Add(2, f2)
	assert.Equal(t, 2, table.Len())

	assert.True(t, table.Complete(&message.Response{ID: 2, Payload: []byte("x")}))
	assert.False(t, table.Complete(&message.Response{ID: 2}), "second response for the same id")
	assert.False(t, table.Complete(&message.Response{ID: 42}))

	resp, err := f2.Result()
	assert.NoError(t, err)
	assert.Equal(t, []byte("x"), resp.Payload)

	n := table.FailAll(&errors.ConnectionClosedError{Reason: "test"})
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, table.Len())

	_, err = f1.Result()
	assert.ErrorIs(t, err, errors.ErrConnectionClosed)

	// A response arriving after the bulk cancel loses.
	assert.False(t, f1.Resolve(&message.Response{ID: 1}))
	assert.Equal(t, 0, table.FailAll(errors.ErrConnectionClosed))
}
