package registry

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const etcdEndpoint = "localhost:2379"

func newTestEtcdRegistry(t *testing.T) *EtcdRegistry {
	t.Helper()
	conn, err := net.DialTimeout("tcp", etcdEndpoint, 200*time.Millisecond)
	if err != nil {
		t.Skipf("etcd not reachable at %s: %v", etcdEndpoint, err)
	}
	conn.Close()

	reg, err := NewEtcdRegistry([]string{etcdEndpoint}, 2*time.Second, nil)
	require.NoError(t, err)
	t.Cleanup(func() { reg.Close() })
	return reg
}

func TestRegisterAndDiscover(t *testing.T) {
	reg := newTestEtcdRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	module := "test-" + uuid.NewString()
	inst1 := Instance{Module: module, Session: uuid.NewString(), Addr: "127.0.0.1:8001", PID: 100, Started: time.Now()}
	inst2 := Instance{Module: module, Session: uuid.NewString(), Addr: "127.0.0.1:8002", PID: 101, Started: time.Now()}

	require.NoError(t, reg.Register(ctx, inst1, 10))
	require.NoError(t, reg.Register(ctx, inst2, 10))

	instances, err := reg.Discover(ctx, module)
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	// Deregister one
	require.NoError(t, reg.Deregister(ctx, inst1))

	instances, err = reg.Discover(ctx, module)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, inst2.Session, instances[0].Session)
	assert.Equal(t, inst2.PID, instances[0].PID)

	// Cleanup
	require.NoError(t, reg.Deregister(ctx, inst2))
}

func TestEtcdWatch(t *testing.T) {
	reg := newTestEtcdRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	module := "test-" + uuid.NewString()
	updates := reg.Watch(ctx, module)
	time.Sleep(100 * time.Millisecond)

	inst := Instance{Module: module, Session: uuid.NewString(), Addr: "127.0.0.1:8001"}
	require.NoError(t, reg.Register(ctx, inst, 10))

	select {
	case list := <-updates:
		require.Len(t, list, 1)
		assert.Equal(t, inst.Session, list[0].Session)
	case <-ctx.Done():
		t.Fatal("no watch update")
	}
	require.NoError(t, reg.Deregister(ctx, inst))
}
