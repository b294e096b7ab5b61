package main

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"mediator/message"
	"mediator/sched"
	"mediator/server"
)

// echoModule keeps the variables written to it and reports every write as a
// change event. All methods run on the host pump.
type echoModule struct {
	host   *server.Host
	logger *zap.Logger
	values map[string]message.VariableValue
	poll   time.Duration
}

func newEchoModule(h *server.Host, logger *zap.Logger) *echoModule {
	return &echoModule{
		host:   h,
		logger: logger,
		values: make(map[string]message.VariableValue),
		poll:   100 * time.Millisecond,
	}
}

func (m *echoModule) Init(ctx context.Context, req *message.Request) ([]byte, error) {
	m.logger.Info("Init", zap.Int("parent_pid", m.host.ParentPID()), zap.Int("payload_size", len(req.Payload)))
	return nil, nil
}

func (m *echoModule) InitAbort(ctx context.Context, req *message.Request) ([]byte, error) {
	m.logger.Info("Init aborted")
	return nil, nil
}

// Run completes once the parent has sent Shutdown.
func (m *echoModule) Run(ctx context.Context, req *message.Request) *sched.Future[[]byte] {
	return sched.Go(func() ([]byte, error) {
		ticker := time.NewTicker(m.poll)
		defer ticker.Stop()
		for !m.host.ShutdownRequested() {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
			}
		}
		m.logger.Info("Run finished")
		return nil, nil
	})
}

func (m *echoModule) GetMetaInfo(ctx context.Context, req *message.Request) ([]byte, error) {
	return json.Marshal(map[string]any{"name": "echo", "variables": len(m.values)})
}

// ReadVariables takes a JSON list of variable names and returns the stored values.
func (m *echoModule) ReadVariables(ctx context.Context, req *message.Request) ([]byte, error) {
	var names []string
	if err := json.Unmarshal(req.Payload, &names); err != nil {
		return nil, err
	}
	out := make([]message.VariableValue, 0, len(names))
	for _, name := range names {
		v, ok := m.values[name]
		if !ok {
			v = message.VariableValue{Variable: name, Value: "null", Time: time.Now().UTC(), Quality: message.QualityBad}
		}
		out = append(out, v)
	}
	return json.Marshal(out)
}

// WriteVariables stores a JSON list of values and echoes it as an event.
func (m *echoModule) WriteVariables(ctx context.Context, req *message.Request) ([]byte, error) {
	var values []message.VariableValue
	if err := json.Unmarshal(req.Payload, &values); err != nil {
		return nil, err
	}
	for _, v := range values {
		m.values[v.Variable] = v
	}
	if err := m.host.NotifyVariableValuesChanged(values); err != nil {
		return nil, err
	}
	return nil, nil
}
