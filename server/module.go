package server

import (
	"context"
	"fmt"
	"reflect"

	"mediator/message"
	"mediator/sched"
)

type methodType struct {
	op     message.Opcode
	method reflect.Method
	async  bool // Returns *sched.Future[[]byte] instead of ([]byte, error)
}

type module struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[message.Opcode]*methodType
}

var (
	ctxType    = reflect.TypeOf((*context.Context)(nil)).Elem()
	reqType    = reflect.TypeOf((*message.Request)(nil))
	bytesType  = reflect.TypeOf([]byte(nil))
	errorType  = reflect.TypeOf((*error)(nil)).Elem()
	futureType = reflect.TypeOf((*sched.Future[[]byte])(nil))
)

// Register scans rcvr (a pointer to a struct) for exported methods named after
// an opcode (Init, Run, ReadVariables, ...) and registers them as handlers.
// Two signatures are accepted:
//
//	func (m *M) ReadVariables(ctx context.Context, req *message.Request) *sched.Future[[]byte]
//	func (m *M) GetMetaInfo(ctx context.Context, req *message.Request) ([]byte, error)
//
// The second form runs to completion on the pump and must not block. It
// returns the opcodes that were registered.
func (h *Host) Register(rcvr any) ([]message.Opcode, error) {
	m, err := newModule(rcvr)
	if err != nil {
		return nil, err
	}
	ops := make([]message.Opcode, 0, len(m.method))
	for op, mt := range m.method {
		h.Handle(op, m.handler(mt))
		ops = append(ops, op)
	}
	return ops, nil
}

// newModule 创建 module 并扫描所有合法方法
func newModule(rcvr any) (*module, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: rcvr must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	m := &module{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[message.Opcode]*methodType),
	}
	m.registerMethods()
	if len(m.method) == 0 {
		return nil, fmt.Errorf("server: %s has no handler methods", m.name)
	}
	return m, nil
}

// registerMethods 扫描 struct 的导出方法，过滤出符合 handler 签名的
func (m *module) registerMethods() {
	for i := 0; i < m.typ.NumMethod(); i++ {
		method := m.typ.Method(i)
		op, ok := message.ParseOpcode(method.Name)
		if !ok || op == message.OpParentInfo {
			continue
		}
		mt := method.Type
		// 3 个入参: (receiver, context.Context, *message.Request)
		if mt.NumIn() != 3 || mt.In(1) != ctxType || mt.In(2) != reqType {
			continue
		}
		switch {
		case mt.NumOut() == 1 && mt.Out(0) == futureType:
			m.method[op] = &methodType{op: op, method: method, async: true}
		case mt.NumOut() == 2 && mt.Out(0) == bytesType && mt.Out(1) == errorType:
			m.method[op] = &methodType{op: op, method: method}
		}
	}
}

func (m *module) handler(mt *methodType) func(context.Context, *message.Request) *sched.Future[[]byte] {
	return func(ctx context.Context, req *message.Request) *sched.Future[[]byte] {
		args := [3]reflect.Value{m.rcvr, reflect.ValueOf(ctx), reflect.ValueOf(req)}
		results := mt.method.Func.Call(args[:])
		if mt.async {
			f, _ := results[0].Interface().(*sched.Future[[]byte])
			return f
		}
		if !results[1].IsNil() {
			return sched.Failed[[]byte](results[1].Interface().(error))
		}
		payload, _ := results[0].Interface().([]byte)
		return sched.Resolved(payload)
	}
}
