package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mediator/errors"
	"mediator/message"
	"mediator/protocol"
)

// dispatch starts the handler for req and arranges for its response. It
// returns as soon as the handler has returned its future.
func (h *Host) dispatch(ctx context.Context, req *message.Request) {
	logger := h.opts.logger.With(zap.Stringer("opcode", req.Opcode), zap.Uint32("request_id", req.ID))

	if req.Opcode == message.OpShutdown {
		h.shutdownRequested.Store(true)
	}

	handler, ok := h.chain[req.Opcode]
	if !ok {
		if req.Opcode == message.OpShutdown {
			// Without a handler Shutdown only raises the flag; the Run
			// response is the parent's acknowledgement.
			logger.Info("Shutdown requested")
			return
		}
		err := fmt.Errorf("%w: %s", errors.ErrUnsupportedOpcode, req.Opcode)
		logger.Warn("No handler for request")
		h.opts.metrics.HandlerResult(req.Opcode.String(), false, 0)
		h.respondError(req, err)
		return
	}

	start := time.Now()
	f := handler(ctx, req)
	f.Then(h.pump, func(payload []byte, err error) {
		h.opts.metrics.HandlerResult(req.Opcode.String(), err == nil, time.Since(start).Seconds())
		if err != nil {
			logger.Warn("Handler failed", zap.Error(err))
			h.respondError(req, err)
		} else {
			h.respondSuccess(req, payload)
		}

		if req.Opcode == message.OpRun {
			// A finished Run means the module is done with the connection.
			logger.Info("Run completed, closing connection")
			h.conn.Close()
		}
	})
}

func (h *Host) respondSuccess(req *message.Request, payload []byte) {
	h.checkSend(req, h.conn.SendResponseSuccess(req.ID, protocol.Bytes(payload)))
}

func (h *Host) respondError(req *message.Request, err error) {
	h.checkSend(req, h.conn.SendResponseError(req.ID, err.Error()))
}

// checkSend treats a failed response write as fatal unless the connection
// was closed on purpose.
func (h *Host) checkSend(req *message.Request, err error) {
	if err == nil {
		return
	}
	if h.conn.Closed() {
		h.opts.logger.Debug("Response dropped after shutdown",
			zap.Stringer("opcode", req.Opcode), zap.Uint32("request_id", req.ID))
		return
	}
	h.pump.Fail(errors.Wrap(err, "Host", "respond", req.Opcode.String()))
}
