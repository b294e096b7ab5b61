// Package client is the host side of a module link: it starts an external
// module process and talks to it as the Initiator.
//
// Lifecycle of one session:
//
//	Start: listen on a free port → spawn process with {PORT} → WaitForConnect
//	  → ParentInfo (our PID) → Init
//	Call*: any goroutine, correlated by request ID
//	Run: Run request ... ctx done → Shutdown → wait for Run (ShutdownTimeout)
//	  → close connection → kill process
//
// Supervise repeats Start and Run with exponential backoff when the process
// dies unexpectedly.
package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mediator/codec"
	"mediator/config"
	"mediator/errors"
	"mediator/message"
	"mediator/protocol"
	"mediator/registry"
	"mediator/sched"
	"mediator/transport"
)

// ExternalModule proxies one module executable.
type ExternalModule struct {
	cfg    *config.Config
	codecs codec.Table
	opts   options
	etcd   *registry.EtcdRegistry // Built from cfg.Registry, closed by Close

	mu  sync.Mutex
	cur *session // nil when no process is running
}

// session is one started process and its connection.
type session struct {
	id      string
	logger  *zap.Logger
	proc    *process
	pump    *sched.Pump
	conn    *transport.Initiator
	release func()         // Keeps the pump running while the session is live
	group   errgroup.Group // Pump and receive loop
	lost    chan struct{}  // Closed when the receive loop ends
	inst    *registry.Instance

	stopOnce sync.Once
	stopErr  error
}

// New creates a proxy for the module described by cfg.Module.
func New(cfg *config.Config, opts ...Option) (*ExternalModule, error) {
	if err := cfg.ValidateModule(); err != nil {
		return nil, err
	}
	codecs, err := cfg.CodecTable()
	if err != nil {
		return nil, err
	}

	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With(zap.String("module", cfg.Module.ID))

	m := &ExternalModule{cfg: cfg, codecs: codecs, opts: o}
	if o.registry == nil && len(cfg.Registry.Endpoints) > 0 {
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, cfg.Registry.DialTimeout, o.logger)
		if err != nil {
			return nil, err
		}
		m.etcd = reg
		m.opts.registry = reg
	}
	return m, nil
}

// Close stops the running session, if any, and releases the etcd registry
// built from the configuration.
func (m *ExternalModule) Close() error {
	var err error
	if s, cerr := m.current(); cerr == nil {
		err = m.stop(s, "module closed")
	}
	if m.etcd != nil {
		err = multierr.Append(err, m.etcd.Close())
		m.etcd = nil
	}
	return err
}

// Start spawns the module process, completes the handshake and sends Init. On
// error nothing is left running.
func (m *ExternalModule) Start(ctx context.Context) error {
	m.mu.Lock()
	running := m.cur != nil
	m.mu.Unlock()
	if running {
		return fmt.Errorf("client: module %s already started", m.cfg.Module.ID)
	}

	s, err := m.start(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.cur = s
	m.mu.Unlock()
	return nil
}

func (m *ExternalModule) start(ctx context.Context) (*session, error) {
	s := &session{
		id:   uuid.NewString(),
		lost: make(chan struct{}),
	}
	s.logger = m.opts.logger.With(zap.String("session", s.id))

	lis, err := transport.ListenOnFreePort()
	if err != nil {
		return nil, err
	}
	defer lis.Close()

	s.proc, err = startProcess(m.cfg.Module, lis.Port(), s.logger)
	if err != nil {
		return nil, errors.Wrap(err, "ExternalModule", "Start", "start "+m.cfg.Module.Executable)
	}

	conn, err := m.waitForConnect(ctx, lis, s.proc)
	if err != nil {
		return nil, multierr.Append(err, s.proc.kill())
	}

	s.pump = sched.New(sched.WithLogger(s.logger))
	s.release = s.pump.Hold()
	s.conn = transport.NewInitiator(conn, s.pump,
		transport.WithLogger(s.logger),
		transport.WithMetrics(m.opts.metrics),
		transport.WithMaxFrameSize(m.cfg.MaxFrameSize),
		transport.WithSendTimeout(m.cfg.Timeouts.Send),
	)
	s.group.Go(func() error {
		return s.pump.Run(context.Background(), func(*sched.Pump) error { return nil })
	})
	s.group.Go(func() error {
		defer close(s.lost)
		return s.conn.ReceiveLoop(m.onEvent(s.logger))
	})

	if err := m.handshake(ctx, s); err != nil {
		return nil, multierr.Append(err, s.stop("Init failed"))
	}

	s.logger.Info("Module started", zap.Int("pid", s.proc.pid()), zap.Int("port", lis.Port()))

	if m.opts.registry != nil {
		inst := registry.Instance{
			Module:  m.cfg.Module.ID,
			Session: s.id,
			Addr:    lis.Addr().String(),
			PID:     s.proc.pid(),
			Started: time.Now(),
		}
		if err := m.opts.registry.Register(ctx, inst, m.cfg.Registry.TTL); err != nil {
			s.logger.Warn("Failed to register module", zap.Error(err))
		} else {
			s.inst = &inst
		}
	}
	return s, nil
}

// waitForConnect waits for the module to connect back, giving up early if the
// process exits first.
func (m *ExternalModule) waitForConnect(ctx context.Context, lis *transport.Listener, proc *process) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeouts.Connect)
	defer cancel()

	go func() {
		select {
		case <-proc.exited:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := lis.WaitForConnect(ctx)
	if err != nil {
		if proc.hasExited() {
			return nil, fmt.Errorf("%w before connecting: %v", errors.ErrModuleExited, proc.exitErr)
		}
		return nil, err
	}
	return conn, nil
}

// handshake sends ParentInfo and Init back to back and waits for both.
func (m *ExternalModule) handshake(ctx context.Context, s *session) error {
	info, err := json.Marshal(message.ParentInfo{PID: os.Getpid()})
	if err != nil {
		return err
	}
	parent := s.conn.Post(message.OpParentInfo, protocol.Bytes(info))
	init := s.conn.Post(message.OpInit, protocol.Bytes(m.opts.init))

	if err := checkResponse(parent.Wait(ctx)); err != nil {
		return m.lostOr(s, fmt.Errorf("%w: %w", errors.ErrHandshake, err))
	}
	if err := checkResponse(init.Wait(ctx)); err != nil {
		return m.lostOr(s, errors.Wrap(err, "ExternalModule", "Start", "Init"))
	}
	return nil
}

// lostOr reports a dead process in place of err.
func (m *ExternalModule) lostOr(s *session, err error) error {
	if s.proc.hasExited() {
		return fmt.Errorf("%w: %v", errors.ErrModuleExited, err)
	}
	return err
}

func checkResponse(resp *message.Response, err error) error {
	if err != nil {
		return err
	}
	return resp.Error()
}

func (m *ExternalModule) current() (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cur == nil {
		return nil, &errors.ConnectionClosedError{Reason: "module " + m.cfg.Module.ID + " not started"}
	}
	return m.cur, nil
}

// Session returns the ID of the running session, or "" when stopped.
func (m *ExternalModule) Session() string {
	s, err := m.current()
	if err != nil {
		return ""
	}
	return s.id
}

// Call sends op with payload and returns the success payload, or the
// module's error as an *errors.RemoteError. Timeouts.Request, if set, bounds
// the wait.
func (m *ExternalModule) Call(ctx context.Context, op message.Opcode, payload []byte) ([]byte, error) {
	s, err := m.current()
	if err != nil {
		return nil, err
	}
	if d := m.cfg.Timeouts.Request; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	resp, err := s.conn.Call(ctx, op, protocol.Bytes(payload))
	if err != nil {
		return nil, err
	}
	if err := resp.Error(); err != nil {
		return nil, err
	}
	return resp.Payload, nil
}

// Run sends Run and waits until ctx is done, then asks the module to shut
// down and waits Timeouts.Shutdown for Run to complete before the process is
// killed. It returns nil after an orderly shutdown and an error wrapping
// errors.ErrModuleExited if the module ended on its own.
func (m *ExternalModule) Run(ctx context.Context) error {
	s, err := m.current()
	if err != nil {
		return err
	}
	run := s.conn.Post(message.OpRun, nil)

	var result error
	reason := "Module shutdown"

	select {
	case <-run.Done():
		reason = "module returned from Run unexpectedly"
		s.logger.Warn("Module returned from Run unexpectedly", zap.Error(checkResponse(run.Result())))
		result = fmt.Errorf("%w: %s", errors.ErrModuleExited, reason)

	case <-s.lost:
		reason = "module terminated unexpectedly"
		result = fmt.Errorf("%w: %s", errors.ErrModuleExited, reason)

	case <-ctx.Done():
		// The module has no response for Shutdown; it completes Run instead.
		s.conn.Post(message.OpShutdown, nil)
		m.awaitCompletion(s, run, "Run", m.cfg.Timeouts.Shutdown)
	}

	return multierr.Append(result, m.stop(s, reason))
}

// InitAbort asks a started module to abandon its Init and stops it, killing
// the process if it does not answer within Timeouts.InitAbort. Without a
// running session it returns an errors.ErrConnectionClosed error.
func (m *ExternalModule) InitAbort(ctx context.Context) error {
	s, err := m.current()
	if err != nil {
		return err
	}
	abort := s.conn.Post(message.OpInitAbort, nil)

	select {
	case <-ctx.Done():
	default:
		m.awaitCompletion(s, abort, "InitAbort", m.cfg.Timeouts.InitAbort)
	}
	return m.stop(s, "Init abort")
}

// awaitCompletion waits for f until timeout, logging progress every two
// seconds. It gives up early if the process dies.
func (m *ExternalModule) awaitCompletion(s *session, f *sched.Future[*message.Response], what string, timeout time.Duration) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	progress := time.NewTicker(2 * time.Second)
	defer progress.Stop()
	start := time.Now()

	for {
		select {
		case <-f.Done():
			return
		case <-s.proc.exited:
			s.logger.Warn("Module terminated unexpectedly during " + what)
			return
		case <-s.lost:
			s.logger.Warn("Connection lost during " + what)
			return
		case <-deadline.C:
			s.logger.Warn("Module did not complete "+what+" in time, killing process", zap.Duration("timeout", timeout))
			return
		case <-progress.C:
			s.logger.Info("Waiting for "+what+" completion", zap.Duration("remaining", timeout-time.Since(start)))
		}
	}
}

// Stop closes the connection and kills the process of the running session.
// Without a running session it returns an errors.ErrConnectionClosed error.
func (m *ExternalModule) Stop(reason string) error {
	s, err := m.current()
	if err != nil {
		return err
	}
	return m.stop(s, reason)
}

func (m *ExternalModule) stop(s *session, reason string) error {
	err := s.stop(reason)
	if s.inst != nil {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Registry.DialTimeout)
		err = multierr.Append(err, m.opts.registry.Deregister(ctx, *s.inst))
		cancel()
	}

	m.mu.Lock()
	if m.cur == s {
		m.cur = nil
	}
	m.mu.Unlock()
	return err
}

func (s *session) stop(reason string) error {
	s.stopOnce.Do(func() {
		s.stopErr = multierr.Combine(
			ignoreClosed(s.conn.Close(reason)),
			s.proc.kill(),
		)
		s.release()
		if err := s.group.Wait(); err != nil && !stderrors.Is(err, errors.ErrConnectionClosed) {
			s.logger.Debug("Session ended with error", zap.Error(err))
		}
		s.logger.Info("Module stopped", zap.String("reason", reason))
	})
	return s.stopErr
}

func ignoreClosed(err error) error {
	if stderrors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
