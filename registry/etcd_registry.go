package registry

// etcd is a distributed key-value store that provides strong consistency (Raft protocol).
// We use it as a "distributed phonebook" for module processes:
//
//	Key:   /mediator/modules/{Module}/{Session}
//	Value: JSON-encoded Instance
//
// Registration uses TTL-based leases: if the host crashes, the lease expires
// and the entry is automatically removed, so no "ghost" modules remain.

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"mediator/errors"
)

// KeyPrefix is the root of all module entries.
const KeyPrefix = "/mediator/modules/"

// EtcdRegistry implements the Registry interface using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // etcd client connection (thread-safe, shared across goroutines)
	logger *zap.Logger

	mu     sync.Mutex
	leases map[string]lease // key → lease kept alive by this process
}

type lease struct {
	id     clientv3.LeaseID
	cancel context.CancelFunc
}

// NewEtcdRegistry creates a new registry connected to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string, dialTimeout time.Duration, logger *zap.Logger) (*EtcdRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
		Logger:      logger.Named("etcd"),
	})
	if err != nil {
		return nil, errors.Wrap(err, "EtcdRegistry", "New", "connect")
	}
	return &EtcdRegistry{client: c, logger: logger, leases: make(map[string]lease)}, nil
}

func instanceKey(inst Instance) string {
	return KeyPrefix + inst.Module + "/" + inst.Session
}

func modulePrefix(module string) string {
	return KeyPrefix + module + "/"
}

// Register adds a module instance to etcd with a TTL lease.
//
// Flow:
//  1. Create a lease with the given TTL (e.g., 10 seconds)
//  2. Put the key-value pair with the lease attached
//  3. Start KeepAlive to automatically renew the lease until Deregister or Close
func (r *EtcdRegistry) Register(ctx context.Context, inst Instance, ttl int64) error {
	granted, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return errors.Wrap(err, "EtcdRegistry", "Register", "grant lease")
	}

	val, err := json.Marshal(inst)
	if err != nil {
		return err
	}

	key := instanceKey(inst)
	if _, err := r.client.Put(ctx, key, string(val), clientv3.WithLease(granted.ID)); err != nil {
		return errors.Wrap(err, "EtcdRegistry", "Register", "put "+key)
	}

	// KeepAlive must outlive the caller's ctx, it stops on Deregister.
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := r.client.KeepAlive(kaCtx, granted.ID)
	if err != nil {
		cancel()
		return errors.Wrap(err, "EtcdRegistry", "Register", "keep lease alive")
	}

	r.mu.Lock()
	if old, ok := r.leases[key]; ok {
		old.cancel()
	}
	r.leases[key] = lease{id: granted.ID, cancel: cancel}
	r.mu.Unlock()

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
		r.logger.Debug("Lease keepalive ended", zap.String("key", key))
	}()
	return nil
}

// Deregister removes a module instance and revokes its lease.
func (r *EtcdRegistry) Deregister(ctx context.Context, inst Instance) error {
	key := instanceKey(inst)

	r.mu.Lock()
	l, ok := r.leases[key]
	delete(r.leases, key)
	r.mu.Unlock()

	if ok {
		l.cancel()
		if _, err := r.client.Revoke(ctx, l.id); err == nil {
			return nil
		}
	}
	if _, err := r.client.Delete(ctx, key); err != nil {
		return errors.Wrap(err, "EtcdRegistry", "Deregister", "delete "+key)
	}
	return nil
}

// Watch monitors a module prefix in etcd and emits updated instance lists
// whenever changes occur (new registrations, deregistrations, lease expirations).
//
// Uses etcd's Watch API (server-push), which is more efficient than polling.
func (r *EtcdRegistry) Watch(ctx context.Context, module string) <-chan []Instance {
	ch := make(chan []Instance, 1)

	go func() {
		defer close(ch)
		watchChan := r.client.Watch(ctx, modulePrefix(module), clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full instance list
			// (simpler than parsing individual watch events)
			instances, err := r.Discover(ctx, module)
			if err != nil {
				r.logger.Warn("Discover after watch event failed", zap.String("module", module), zap.Error(err))
				continue
			}
			select {
			case ch <- instances:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}

// Discover returns all currently registered instances of a module.
func (r *EtcdRegistry) Discover(ctx context.Context, module string) ([]Instance, error) {
	resp, err := r.client.Get(ctx, modulePrefix(module), clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "EtcdRegistry", "Discover", "get "+module)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var inst Instance
		if err := json.Unmarshal(kv.Value, &inst); err != nil {
			r.logger.Warn("Skipping malformed registry entry", zap.ByteString("key", kv.Key), zap.Error(err))
			continue
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// Close stops every keepalive and closes the etcd client. The leases expire
// on their own.
func (r *EtcdRegistry) Close() error {
	r.mu.Lock()
	for key, l := range r.leases {
		l.cancel()
		delete(r.leases, key)
	}
	r.mu.Unlock()
	return r.client.Close()
}
