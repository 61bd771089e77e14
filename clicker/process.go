package clicker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultStartTimeout bounds how long Start waits for the port
	// announcement before killing the process.
	DefaultStartTimeout = 10 * time.Second

	// DefaultStopTimeout bounds how long Stop waits for a graceful exit
	// before force-killing.
	DefaultStopTimeout = 3 * time.Second
)

// portPattern matches the single startup-readiness line the clicker daemon
// emits on its combined output stream.
var portPattern = regexp.MustCompile(`Server listening on ws://localhost:(\d+)`)

type startConfig struct {
	headless     bool
	port         int
	binaryPath   string
	startTimeout time.Duration
	stopTimeout  time.Duration
	log          *zap.SugaredLogger
	resolver     *Resolver
}

type StartOption func(c *startConfig)

// WithHeadless runs the browser without a visible window.
func WithHeadless() StartOption {
	return func(c *startConfig) {
		c.headless = true
	}
}

// WithPort pins the WebSocket port instead of letting the daemon pick one.
func WithPort(port int) StartOption {
	return func(c *startConfig) {
		c.port = port
	}
}

// WithBinaryPath skips binary resolution and runs the given executable.
func WithBinaryPath(path string) StartOption {
	return func(c *startConfig) {
		c.binaryPath = path
	}
}

func WithStartTimeout(d time.Duration) StartOption {
	return func(c *startConfig) {
		c.startTimeout = d
	}
}

func WithStopTimeout(d time.Duration) StartOption {
	return func(c *startConfig) {
		c.stopTimeout = d
	}
}

func WithProcessLogger(l *zap.SugaredLogger) StartOption {
	return func(c *startConfig) {
		c.log = l.Named("clicker_process")
	}
}

// WithResolver overrides the binary resolver used when no explicit binary
// path is given.
func WithResolver(r *Resolver) StartOption {
	return func(c *startConfig) {
		c.resolver = r
	}
}

// Process is a running clicker daemon. All exported methods are safe for
// concurrent use.
type Process struct {
	log         *zap.SugaredLogger
	cmd         *exec.Cmd
	port        int
	stopTimeout time.Duration

	outputMu sync.Mutex
	output   strings.Builder

	stopped  atomic.Bool
	stopOnce sync.Once

	done       chan struct{}
	readerDone chan struct{}
	exitCode   int
}

// Start spawns a clicker daemon and blocks until it announces its listening
// port, it exits, or the start timeout elapses. On every failure path the
// spawned process is killed before the error is returned.
func Start(ctx context.Context, opts ...StartOption) (*Process, error) {
	cfg := &startConfig{
		startTimeout: DefaultStartTimeout,
		stopTimeout:  DefaultStopTimeout,
		log:          zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.resolver == nil {
		cfg.resolver = NewResolver()
	}

	binaryPath, err := cfg.resolver.Resolve(cfg.binaryPath)
	if err != nil {
		return nil, err
	}
	cfg.log.Debugw("starting clicker", "Path", binaryPath)

	args := []string{"serve"}
	if cfg.port > 0 {
		args = append(args, "--port", strconv.Itoa(cfg.port))
	}
	if cfg.headless {
		args = append(args, "--headless")
	}

	cmd := exec.Command(binaryPath, args...)
	setSysProcAttr(cmd)

	// A single pipe carries combined stdout and stderr. The parent's write
	// end is closed right after Start so the reader sees EOF when the child
	// side closes.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("starting clicker process: %w", err)
	}
	pw.Close()

	p := &Process{
		log:         cfg.log,
		cmd:         cmd,
		stopTimeout: cfg.stopTimeout,
		done:        make(chan struct{}),
		readerDone:  make(chan struct{}),
	}

	portCh := make(chan int, 1)
	go p.readOutput(pr, portCh)
	go p.waitExit()

	select {
	case port := <-portCh:
		p.port = port
		processes.register(p)
		cfg.log.Infow("clicker started", "Port", port)
		return p, nil
	case <-p.done:
		return nil, p.CrashError()
	case <-time.After(cfg.startTimeout):
		p.forceKill()
		<-p.done
		return nil, &StartTimeoutError{Timeout: cfg.startTimeout}
	case <-ctx.Done():
		p.forceKill()
		<-p.done
		return nil, ctx.Err()
	}
}

// readOutput drains the combined output stream, capturing it and watching for
// the port announcement. The first matching line wins; later matches are
// ignored. Lines are read unbounded, so an oversized line cannot truncate
// capture or hide the announcement.
func (p *Process) readOutput(r *os.File, portCh chan<- int) {
	defer close(p.readerDone)
	defer r.Close()
	announced := false
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line != "" || err == nil {
			p.outputMu.Lock()
			p.output.WriteString(line)
			p.output.WriteString("\n")
			p.outputMu.Unlock()
			p.log.Debugf("clicker: %s", line)

			if !announced {
				if m := portPattern.FindStringSubmatch(line); m != nil {
					port, perr := strconv.Atoi(m[1])
					if perr == nil {
						announced = true
						portCh <- port
					}
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// CrashError builds the error describing an unexpected exit. It waits for the
// output reader to reach EOF first so the captured output is complete; the
// wait is bounded because a descendant that inherited the pipe can keep it
// open past the parent's exit.
func (p *Process) CrashError() *CrashedError {
	select {
	case <-p.readerDone:
	case <-time.After(time.Second):
	}
	return &CrashedError{ExitCode: p.exitCode, Output: p.Output()}
}

func (p *Process) waitExit() {
	err := p.cmd.Wait()
	p.exitCode = 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			p.exitCode = exitErr.ExitCode()
		} else {
			p.exitCode = -1
		}
	}
	close(p.done)
}

// Port returns the WebSocket port the daemon announced.
func (p *Process) Port() int {
	return p.port
}

// IsRunning reports whether the OS still considers the process alive and Stop
// has not been called.
func (p *Process) IsRunning() bool {
	if p.stopped.Load() {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Done is closed when the process has exited, for any reason.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode is meaningful only after Done is closed.
func (p *Process) ExitCode() int {
	return p.exitCode
}

// Output returns everything captured so far from the combined output stream.
func (p *Process) Output() string {
	p.outputMu.Lock()
	defer p.outputMu.Unlock()
	return p.output.String()
}

// Stop terminates the daemon and everything it spawned. Descendants (the
// browser, its drivers) are killed first, then the daemon is asked to exit
// gracefully, then force-killed after the stop timeout. A second call is a
// no-op.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		processes.unregister(p)

		select {
		case <-p.done:
			return
		default:
		}

		p.log.Debugw("stopping clicker process", "Port", p.port)
		killDescendants(p.cmd.Process.Pid, p.log)

		if err := terminate(p.cmd); err != nil {
			p.log.Debugf("error signaling clicker process: %s", err)
		}

		select {
		case <-p.done:
		case <-time.After(p.stopTimeout):
			p.log.Debug("force killing clicker process")
			p.forceKill()
			<-p.done
		}
	})
	return nil
}

func (p *Process) forceKill() {
	forceKill(p.cmd, p.log)
}
