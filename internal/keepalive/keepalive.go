package keepalive

import (
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
)

// Lock keeps the machine awake while held. Acquire and Release are
// idempotent; failing to take the lock is logged and otherwise ignored.
type Lock struct {
	// Command returns the inhibitor to run, or nil when the platform has
	// none. It defaults to the platform's idle inhibitor.
	Command func() *exec.Cmd

	mu  sync.Mutex
	cmd *exec.Cmd
}

// New returns a lock using the platform's inhibitor.
func New() *Lock {
	return &Lock{Command: platformCommand}
}

func platformCommand() *exec.Cmd {
	switch runtime.GOOS {
	case "linux":
		if _, err := exec.LookPath("systemd-inhibit"); err != nil {
			return nil
		}
		return exec.Command("systemd-inhibit",
			"--what=idle:sleep", "--who=airsetu", "--why=File transfer in progress", "--mode=block",
			"sleep", "infinity")
	case "darwin":
		return exec.Command("caffeinate", "-i", "-w", strconv.Itoa(os.Getpid()))
	}
	return nil
}

// Acquire takes the lock.
func (l *Lock) Acquire() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd != nil || l.Command == nil {
		return
	}
	cmd := l.Command()
	if cmd == nil {
		return
	}
	if err := cmd.Start(); err != nil {
		slog.Warn("keepalive unavailable", "err", err)
		return
	}
	l.cmd = cmd
	go cmd.Wait()
	slog.Debug("keepalive acquired", "pid", cmd.Process.Pid)
}

// Release drops the lock.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cmd == nil {
		return
	}
	if err := l.cmd.Process.Kill(); err != nil {
		slog.Debug("keepalive release", "err", err)
	}
	l.cmd = nil
	slog.Debug("keepalive released")
}

// Held reports whether the lock is held.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cmd != nil
}
