// Package registry is the directory of live module endpoints.
//
// A host registers every module process it starts once the handshake has
// completed, so tools and other hosts can find which modules are running,
// where and under which session.
package registry

import (
	"context"
	"time"
)

// Instance is one running module process.
type Instance struct {
	Module  string    `json:"module"`
	Session string    `json:"session"` // Unique per start, a restart gets a new session
	Addr    string    `json:"addr"`    // Host side listen address the module connected to
	PID     int       `json:"pid"`
	Started time.Time `json:"started"`
}

type Registry interface {
	// Register publishes inst. The entry disappears ttl seconds after the
	// registering process stops renewing it.
	Register(ctx context.Context, inst Instance, ttl int64) error
	Deregister(ctx context.Context, inst Instance) error
	Discover(ctx context.Context, module string) ([]Instance, error)
	// Watch emits the full instance list of module after every change until
	// ctx is done.
	Watch(ctx context.Context, module string) <-chan []Instance
}
