// Package daemonctl orchestrates the daemon process from the CLI: launching
// it detached, waiting for its socket, and stopping it.
package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"murmur/internal/config"
	"murmur/internal/daemonrun"
	"murmur/internal/ipc"
)

// ErrNotRunning indicates the daemon socket is unreachable.
var ErrNotRunning = errors.New("daemon not running")

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

// StartState labels the outcome of EnsureStarted.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
}

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	ForcedKill bool
	PID        int
}

// Launch starts a detached daemon process by re-executing the given binary
// with the daemon subcommand.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if cfgPath := strings.TrimSpace(opts.ConfigPath); cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

// WaitForClient polls the socket until a connection succeeds.
func WaitForClient(socketPath string, dialTimeout, waitTimeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(waitTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath, dialTimeout)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// IsRunning reports whether the daemon answers a status request.
func IsRunning(cfg *config.Config) bool {
	client, err := ipc.Dial(cfg.IPC.SocketPath, cfg.DialTimeout())
	if err != nil {
		return false
	}
	defer client.Close()
	_, err = client.Status()
	return err == nil
}

// EnsureStarted connects to a running daemon or launches one and waits for
// its socket.
func EnsureStarted(cfg *config.Config, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	if IsRunning(cfg) {
		return StartResult{State: StartStateAlreadyRunning}, nil
	}

	if err := Launch(executablePath, opts); err != nil {
		return StartResult{}, err
	}
	client, err := WaitForClient(cfg.IPC.SocketPath, cfg.DialTimeout(), waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	client.Close()
	return StartResult{State: StartStateStarted, Launched: true}, nil
}

// WaitForShutdown waits for the daemon socket to disappear.
func WaitForShutdown(cfg *config.Config, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(cfg.IPC.SocketPath, cfg.DialTimeout())
		if err != nil {
			if isUnavailable(err) {
				return nil
			}
		} else {
			client.Close()
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop within %s", timeout)
}

// StopAndTerminate requests a graceful shutdown over IPC and falls back to
// killing the recorded pid when the daemon lingers past the grace period.
func StopAndTerminate(cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(cfg.IPC.SocketPath, cfg.DialTimeout())
	if err != nil {
		if isUnavailable(err) {
			return StopResult{}, ErrNotRunning
		}
		return StopResult{}, err
	}
	shutdownErr := client.Shutdown()
	client.Close()
	if shutdownErr != nil {
		return StopResult{}, shutdownErr
	}

	if err := WaitForShutdown(cfg, gracePeriod); err == nil {
		return StopResult{}, nil
	}

	pid, err := daemonrun.ReadPIDFile(cfg.PIDPath())
	if err != nil {
		return StopResult{}, fmt.Errorf("daemon still running and pid unknown: %w", err)
	}
	if pid == os.Getpid() {
		return StopResult{}, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return StopResult{}, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return StopResult{}, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	for _, stale := range []string{cfg.PIDPath(), cfg.LockPath(), cfg.IPC.SocketPath} {
		if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
			return StopResult{ForcedKill: true, PID: pid}, fmt.Errorf("remove %s: %w", stale, err)
		}
	}
	return StopResult{ForcedKill: true, PID: pid}, nil
}

func isUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
