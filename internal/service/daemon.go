// Package service manages the lifecycle of the long-running bridge.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/ralph/internal/config"
	"github.com/ternarybob/ralph/internal/logger"
)

// ShutdownTimeout bounds how long in-flight requests may take to drain.
const ShutdownTimeout = 30 * time.Second

// Daemon manages the service lifecycle.
type Daemon struct {
	cfg       *config.Config
	server    *http.Server
	listener  net.Listener
	logger    arbor.ILogger
	onStop    []func() error
	onDrain   []func()
	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
	mu        sync.Mutex
	running   bool
}

// NewDaemon creates a new daemon instance.
func NewDaemon(cfg *config.Config) *Daemon {
	return &Daemon{
		cfg:       cfg,
		logger:    logger.GetLogger(),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// OnStop registers fn to run during shutdown, after the server has
// drained. Hooks run in reverse registration order.
func (d *Daemon) OnStop(fn func() error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onStop = append(d.onStop, fn)
}

// OnShutdown registers fn to run as soon as shutdown begins, while
// requests are still draining. Use it to end long-lived streams.
func (d *Daemon) OnShutdown(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDrain = append(d.onDrain, fn)
}

// Start binds the configured address and serves handler in the
// background.
func (d *Daemon) Start(handler http.Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return fmt.Errorf("daemon already running")
	}

	// Ensure directories exist
	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	ln, err := net.Listen("tcp", d.cfg.Address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Address(), err)
	}

	// Write PID file
	if err := d.writePID(); err != nil {
		ln.Close()
		return fmt.Errorf("write PID: %w", err)
	}

	d.listener = ln
	d.server = &http.Server{
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	for _, fn := range d.onDrain {
		d.server.RegisterOnShutdown(fn)
	}
	d.running = true

	// Start server in goroutine
	go func() {
		d.logger.Info().Str("address", ln.Addr().String()).Msg("Starting server")
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error().Err(err).Msg("Server error")
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Wait blocks until a signal arrives or Stop is called, then shuts down.
func (d *Daemon) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
	case <-d.stopCh:
		d.logger.Info().Msg("Stop requested, shutting down")
	}

	d.shutdown()
}

// Stop asks Wait to shut down and blocks until it has.
func (d *Daemon) Stop() {
	d.mu.Lock()
	running := d.running
	d.mu.Unlock()

	if !running {
		return
	}

	d.stopOnce.Do(func() { close(d.stopCh) })
	<-d.stoppedCh
}

// shutdown performs graceful shutdown.
func (d *Daemon) shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Server shutdown error")
		}
	}

	for i := len(d.onStop) - 1; i >= 0; i-- {
		if err := d.onStop[i](); err != nil {
			d.logger.Warn().Err(err).Msg("Shutdown hook failed")
		}
	}

	d.removePID()

	d.running = false
	close(d.stoppedCh)
}

// writePID writes the current process PID to a file.
func (d *Daemon) writePID() error {
	pidPath := d.cfg.PIDPath()
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(pidPath), 0755); err != nil {
		return fmt.Errorf("create PID directory: %w", err)
	}
	return os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// removePID removes the PID file.
func (d *Daemon) removePID() {
	_ = os.Remove(d.cfg.PIDPath())
}

// IsRunning reports whether the pid file names a live process. A stale pid
// file is removed.
func IsRunning(cfg *config.Config) (bool, int) {
	pidPath := cfg.PIDPath()

	data, err := os.ReadFile(pidPath)
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		_ = os.Remove(pidPath)
		return false, 0
	}

	// Check if process exists by sending signal 0
	process, err := os.FindProcess(pid)
	if err != nil {
		_ = os.Remove(pidPath)
		return false, 0
	}

	if err := process.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(pidPath)
		return false, 0
	}

	return true, pid
}

// StopRunning stops a running daemon with SIGTERM, killing it if it has not
// exited within three seconds.
func StopRunning(cfg *config.Config) error {
	running, pid := IsRunning(cfg)
	if !running {
		return fmt.Errorf("daemon not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send signal: %w", err)
	}

	// Wait for process to exit
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if running, _ := IsRunning(cfg); !running {
			return nil
		}
	}

	// Force kill if still running
	if err := process.Kill(); err != nil {
		return fmt.Errorf("kill process: %w", err)
	}

	// Clean up PID file
	_ = os.Remove(cfg.PIDPath())

	return nil
}
