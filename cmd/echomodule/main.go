// Command echomodule is a minimal module process. The host starts it with the
// port to connect back to:
//
//	echomodule [-config echo.yaml] PORT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"mediator/config"
	"mediator/message"
	"mediator/metric"
	"mediator/middleware"
	"mediator/server"
	"mediator/transport"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: echomodule [-config file] PORT")
		os.Exit(2)
	}

	if err := run(*configPath, flag.Arg(0)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, port string) error {
	cfg := config.NewConfig()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}

	logger, err := cfg.Log.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger = logger.With(zap.String("module", "echo"))

	codecs, err := cfg.CodecTable()
	if err != nil {
		return err
	}

	var metrics *metric.Metrics
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		metrics = metric.New(reg)
		srv := metric.NewServer(cfg.Metrics.Addr, reg)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Stop(ctx)
		}()
		logger.Info("Serving metrics", zap.Stringer("addr", srv.Addr()))
	}

	h := server.NewHost(
		server.WithLogger(logger),
		server.WithMetrics(metrics),
		server.WithCodecs(codecs),
		server.WithHandshakeTimeout(cfg.Timeouts.Handshake),
		server.WithLivenessInterval(cfg.Timeouts.Liveness),
	)
	h.Use(middleware.Logging(logger))
	for _, mw := range handlerMiddlewares(cfg.Handler) {
		h.Use(mw)
	}

	ops, err := h.Register(newEchoModule(h, logger))
	if err != nil {
		return err
	}
	logger.Debug("Registered handlers", zap.Stringers("opcodes", ops))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.ConnectAndRun(ctx, address(port), h,
		transport.WithLogger(logger),
		transport.WithMetrics(metrics),
		transport.WithMaxFrameSize(cfg.MaxFrameSize),
		transport.WithSendTimeout(cfg.Timeouts.Send),
	)
}

// lifecycleOps drive the module itself and are never throttled. Run lasts
// until shutdown, so it is also exempt from the handler timeout.
var lifecycleOps = []message.Opcode{message.OpInit, message.OpInitAbort, message.OpRun, message.OpShutdown}

func handlerMiddlewares(cfg config.HandlerConfig) []middleware.Middleware {
	var mws []middleware.Middleware
	if cfg.RateLimit > 0 {
		mws = append(mws, middleware.Except(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst), lifecycleOps...))
	}
	if cfg.Timeout > 0 {
		mws = append(mws, middleware.Except(middleware.Timeout(cfg.Timeout), message.OpRun))
	}
	return mws
}

// address accepts a bare port, host:port, or unix:path.
func address(arg string) string {
	if strings.Contains(arg, ":") {
		return arg
	}
	return "127.0.0.1:" + arg
}
