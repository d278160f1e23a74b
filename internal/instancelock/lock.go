// Package instancelock provides a PID-file-based single-instance guard per
// spec.md §4.11, preventing two bot processes from trading the same
// account concurrently (double trading, state corruption, rate-limit
// exhaustion). Grounded on original_source/infra/instance_lock.py's
// stale-PID detection and force-acquire override, translated to Go's
// os.Process/os.Signal in place of Python's os.kill(pid, 0).
package instancelock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"market_maker/internal/core"
)

// Lock is a single-instance guard backed by a PID file.
type Lock struct {
	name     string
	path     string
	logger   core.Logger
	acquired bool
}

// New returns a Lock for name, whose PID file lives under dir.
func New(name, dir string, logger core.Logger) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("instancelock: create lock dir: %w", err)
	}
	return &Lock{
		name:   name,
		path:   filepath.Join(dir, name+".pid"),
		logger: logger,
	}, nil
}

// Acquire takes the lock, returning false (no error) if another live
// process already holds it. With force=true, a live holder is sent
// SIGTERM and the lock is taken regardless — recovery use only.
func (l *Lock) Acquire(force bool) (bool, error) {
	if l.acquired {
		return true, nil
	}

	data, err := os.ReadFile(l.path)
	if err == nil {
		existingPID, perr := strconv.Atoi(strings.TrimSpace(string(data)))
		if perr != nil {
			if l.logger != nil {
				l.logger.Warn("invalid lock file, removing", "path", l.path)
			}
			_ = os.Remove(l.path)
		} else if processRunning(existingPID) {
			if force {
				if l.logger != nil {
					l.logger.Warn("force acquiring lock, terminating existing instance", "pid", existingPID)
				}
				if proc, err := os.FindProcess(existingPID); err == nil {
					_ = proc.Signal(syscall.SIGTERM)
				}
			} else {
				if l.logger != nil {
					l.logger.Error("another instance is running, refusing to start", "pid", existingPID, "lock_file", l.path)
				}
				return false, nil
			}
		} else {
			if l.logger != nil {
				l.logger.Warn("found stale lock file, removing", "pid", existingPID)
			}
			_ = os.Remove(l.path)
		}
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("instancelock: read lock file: %w", err)
	}

	pid := os.Getpid()
	if err := os.WriteFile(l.path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return false, fmt.Errorf("instancelock: write lock file: %w", err)
	}
	l.acquired = true
	if l.logger != nil {
		l.logger.Info("lock acquired", "pid", pid, "file", l.path)
	}
	return true, nil
}

// Release deletes the PID file if this instance holds it. Safe to call
// more than once.
func (l *Lock) Release() {
	if !l.acquired {
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		if l.logger != nil {
			l.logger.Warn("failed to release lock", "error", err.Error())
		}
	} else if l.logger != nil {
		l.logger.Info("lock released", "file", l.path)
	}
	l.acquired = false
}

// processRunning reports whether pid names a live process, using signal 0
// which performs existence/permission checks without actually signaling.
func processRunning(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
