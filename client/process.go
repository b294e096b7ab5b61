package client

import (
	"bytes"
	stderrors "errors"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"mediator/config"
)

// process is a started module executable.
type process struct {
	cmd     *exec.Cmd
	exited  chan struct{} // Closed once Wait has returned
	exitErr error
}

func startProcess(cfg config.ModuleConfig, port int, logger *zap.Logger) (*process, error) {
	args := make([]string, len(cfg.Args))
	for i, a := range cfg.Args {
		args[i] = strings.ReplaceAll(a, config.PortPlaceholder, strconv.Itoa(port))
	}

	cmd := exec.Command(cfg.Executable, args...)
	cmd.Dir = cfg.WorkDir
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	stdout := &lineLogger{log: logger.Info}
	stderr := &lineLogger{log: logger.Error}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &process{cmd: cmd, exited: make(chan struct{})}
	go func() {
		p.exitErr = cmd.Wait()
		stdout.flush()
		stderr.flush()
		close(p.exited)
	}()
	return p, nil
}

func (p *process) pid() int {
	return p.cmd.Process.Pid
}

func (p *process) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// kill stops the process if it is still running and waits for it.
func (p *process) kill() error {
	if p.hasExited() {
		return nil
	}
	err := p.cmd.Process.Kill()
	<-p.exited
	if stderrors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// lineLogger logs every complete line written to it.
type lineLogger struct {
	mu  sync.Mutex
	buf bytes.Buffer
	log func(msg string, fields ...zap.Field)
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Write(p)
	for {
		i := bytes.IndexByte(l.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(string(l.buf.Next(i+1)), "\r\n")
		if line != "" {
			l.log(line)
		}
	}
	return len(p), nil
}

func (l *lineLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.buf.Len() > 0 {
		l.log(l.buf.String())
		l.buf.Reset()
	}
}
