// Package botbrowser starts and watches a BotBrowser process and looks up
// BotBrowser releases.
//
// BotBrowser is a patched Chromium. wirefeed drives it over the Chrome
// DevTools Protocol, so the only contract with the process is that it
// accepts connections on its remote debugging port.
package botbrowser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/jmylchreest/wirefeed/internal/logger"
)

var (
	// ErrStartFailed is returned when the browser never became reachable
	// within MaxStarts attempts.
	ErrStartFailed = errors.New("botbrowser failed to start")

	// ErrProcessExited is returned while waiting for the debugging port if
	// the process exits first.
	ErrProcessExited = errors.New("botbrowser process exited")

	// ErrNoBinary is returned when no executable is configured.
	ErrNoBinary = errors.New("botbrowser binary not configured")
)

// Config controls how the browser process is started.
type Config struct {
	Binary      string
	Host        string
	Port        int
	ProfilePath string
	UserDataDir string
	Headless    bool
	ExtraArgs   []string

	StartupTimeout time.Duration
	PollInterval   time.Duration
	MaxStarts      int
	RetryDelay     time.Duration

	// Stderr receives the browser's stderr. Nil discards it.
	Stderr io.Writer
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Host:           "127.0.0.1",
		Port:           9222,
		Headless:       true,
		StartupTimeout: 30 * time.Second,
		PollInterval:   500 * time.Millisecond,
		MaxStarts:      3,
		RetryDelay:     2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Host == "" {
		c.Host = d.Host
	}
	if c.Port <= 0 {
		c.Port = d.Port
	}
	if c.StartupTimeout <= 0 {
		c.StartupTimeout = d.StartupTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxStarts <= 0 {
		c.MaxStarts = d.MaxStarts
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return c
}

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Supervisor owns one browser process at a time.
type Supervisor struct {
	cfg Config

	mu     sync.Mutex
	proc   *process
	starts int

	command func(name string, args ...string) *exec.Cmd
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewSupervisor returns a supervisor for cfg. Nothing is started yet.
func NewSupervisor(cfg Config) *Supervisor {
	return &Supervisor{
		cfg:     cfg.withDefaults(),
		command: exec.Command,
		sleep:   sleepContext,
	}
}

// Addr is the host:port of the debugging endpoint.
func (s *Supervisor) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

// DebugURL is the HTTP endpoint a CDP client resolves the browser
// websocket from.
func (s *Supervisor) DebugURL() string {
	return "http://" + s.Addr()
}

// Args returns the command line passed to the browser.
func (s *Supervisor) Args() []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(s.cfg.Port),
		"--remote-debugging-address=" + s.cfg.Host,
		"--no-first-run",
		"--no-default-browser-check",
	}
	if s.cfg.Headless {
		args = append(args, "--headless=new")
	}
	if s.cfg.ProfilePath != "" {
		args = append(args, "--bot-profile="+s.cfg.ProfilePath)
	}
	if s.cfg.UserDataDir != "" {
		args = append(args, "--user-data-dir="+s.cfg.UserDataDir)
	}
	return append(args, s.cfg.ExtraArgs...)
}

// Running reports whether a started process is still alive.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil && !s.proc.exited()
}

// Starts reports how many processes have been launched in total.
func (s *Supervisor) Starts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts
}

// Start launches the browser and waits for its debugging port. A launch
// that does not come up is killed and tried again, up to MaxStarts times.
// Start is a no-op while a process is running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil && !s.proc.exited() {
		return nil
	}
	if s.cfg.Binary == "" {
		return ErrNoBinary
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxStarts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = s.launch(ctx)
		if lastErr == nil {
			logger.Info("botbrowser ready", "addr", s.Addr(), "attempt", attempt)
			return nil
		}

		logger.Warn("botbrowser start attempt failed",
			"attempt", attempt,
			"max", s.cfg.MaxStarts,
			"error", lastErr)
		s.kill()

		if attempt < s.cfg.MaxStarts {
			if err := s.sleep(ctx, s.cfg.RetryDelay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrStartFailed, s.cfg.MaxStarts, lastErr)
}

func (s *Supervisor) launch(ctx context.Context) error {
	args := s.Args()
	cmd := s.command(s.cfg.Binary, args...)
	cmd.Stderr = s.cfg.Stderr

	logger.Debug("starting botbrowser", "binary", s.cfg.Binary, "args", args)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to exec %s: %w", s.cfg.Binary, err)
	}
	s.starts++

	p := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	s.proc = p

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.StartupTimeout)
	defer cancel()
	if err := WaitForPort(waitCtx, s.Addr(), s.cfg.PollInterval, p.done); err != nil {
		if errors.Is(err, ErrProcessExited) && p.err != nil {
			return fmt.Errorf("%w: %v", err, p.err)
		}
		return err
	}
	return nil
}

// Restart stops the current process, if any, and starts a new one.
func (s *Supervisor) Restart(ctx context.Context) error {
	logger.Info("restarting botbrowser")
	s.Stop()
	return s.Start(ctx)
}

// Stop kills the process and waits for it to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kill()
}

func (s *Supervisor) kill() {
	p := s.proc
	if p == nil {
		return
	}
	s.proc = nil
	if p.exited() {
		return
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Debug("failed to kill botbrowser", "error", err)
	}
	<-p.done
	logger.Debug("botbrowser stopped", "pid", p.cmd.Process.Pid)
}

// WaitForPort polls addr until it accepts a TCP connection. It fails when
// ctx ends or when exited is closed first. A nil exited channel is never
// ready.
func WaitForPort(ctx context.Context, addr string, interval time.Duration, exited <-chan struct{}) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		conn, err := net.DialTimeout("tcp", addr, interval)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("port %s not ready: %w", addr, ctx.Err())
		case <-exited:
			return ErrProcessExited
		case <-ticker.C:
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
