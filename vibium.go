/*
Package vibium is a Go client for the Vibium browser automation daemon.

Launch resolves the clicker binary, starts it, and connects to the WebSocket
endpoint it announces:

	vibe, err := vibium.Launch(ctx, vibium.WithHeadless())
	if err != nil {
		return err
	}
	defer vibe.Close()

	if err := vibe.Go(ctx, "https://example.com"); err != nil {
		return err
	}
	png, err := vibe.Screenshot(ctx)

No failure on the launch path leaks the daemon: every abort after the process
starts stops it, and the clicker package's registry stops anything still alive
on program shutdown.
*/
package vibium

import (
	"context"
	"fmt"
	"time"

	"github.com/vibium/vibium-go/bidi"
	"github.com/vibium/vibium-go/clicker"
	"go.uber.org/zap"
)

type launchConfig struct {
	headless       bool
	port           int
	executablePath string
	startTimeout   time.Duration
	commandTimeout time.Duration
	log            *zap.SugaredLogger
	dialOpts       []bidi.DialOption
}

type LaunchOption func(c *launchConfig)

// WithHeadless runs the browser without a visible window.
func WithHeadless() LaunchOption {
	return func(c *launchConfig) {
		c.headless = true
	}
}

// WithPort pins the daemon's WebSocket port instead of letting it pick one.
func WithPort(port int) LaunchOption {
	return func(c *launchConfig) {
		c.port = port
	}
}

// WithExecutablePath runs the given clicker binary instead of resolving one.
func WithExecutablePath(path string) LaunchOption {
	return func(c *launchConfig) {
		c.executablePath = path
	}
}

func WithStartTimeout(d time.Duration) LaunchOption {
	return func(c *launchConfig) {
		c.startTimeout = d
	}
}

// WithCommandTimeout changes the default per-command timeout.
func WithCommandTimeout(d time.Duration) LaunchOption {
	return func(c *launchConfig) {
		c.commandTimeout = d
	}
}

func WithLogger(l *zap.Logger) LaunchOption {
	return func(c *launchConfig) {
		c.log = l.Sugar()
	}
}

// WithGorillaTransport selects the gorilla/websocket-backed connection.
func WithGorillaTransport() LaunchOption {
	return func(c *launchConfig) {
		c.dialOpts = append(c.dialOpts, bidi.WithGorillaTransport())
	}
}

func newLaunchConfig(opts []LaunchOption) *launchConfig {
	cfg := &launchConfig{
		startTimeout:   clicker.DefaultStartTimeout,
		commandTimeout: bidi.DefaultCommandTimeout,
		log:            zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(cfg)
	}
	return cfg
}

func (c *launchConfig) clientOptions() []bidi.ClientOption {
	return []bidi.ClientOption{
		bidi.WithClientLogger(c.log),
		bidi.WithDefaultTimeout(c.commandTimeout),
		bidi.WithDialOptions(c.dialOpts...),
	}
}

// Launch starts a clicker daemon and connects to it. If the connection cannot
// be established, the daemon is stopped before the error is returned.
func Launch(ctx context.Context, opts ...LaunchOption) (*Vibe, error) {
	cfg := newLaunchConfig(opts)
	log := cfg.log.Named("vibium")

	startOpts := []clicker.StartOption{
		clicker.WithStartTimeout(cfg.startTimeout),
		clicker.WithProcessLogger(cfg.log),
	}
	if cfg.headless {
		startOpts = append(startOpts, clicker.WithHeadless())
	}
	if cfg.port > 0 {
		startOpts = append(startOpts, clicker.WithPort(cfg.port))
	}
	if cfg.executablePath != "" {
		startOpts = append(startOpts, clicker.WithBinaryPath(cfg.executablePath))
	}

	proc, err := clicker.Start(ctx, startOpts...)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("ws://localhost:%d", proc.Port())
	client, err := bidi.Connect(ctx, url, cfg.clientOptions()...)
	if err != nil {
		// Don't leak the daemon when the connection fails.
		log.Debugf("connection failed, stopping process: %s", err)
		proc.Stop()
		return nil, err
	}

	v := newVibe(log, client, proc)
	log.Infow("browser launched", "Port", proc.Port())
	return v, nil
}

// Connect attaches to a browser whose clicker daemon was started externally.
// The returned Vibe does not own a process; Close only closes the connection.
func Connect(ctx context.Context, wsURL string, opts ...LaunchOption) (*Vibe, error) {
	cfg := newLaunchConfig(opts)
	log := cfg.log.Named("vibium")

	client, err := bidi.Connect(ctx, wsURL, cfg.clientOptions()...)
	if err != nil {
		return nil, err
	}
	log.Infow("connected to browser", "URL", wsURL)
	return newVibe(log, client, nil), nil
}
