// Package lock guards a user's session directory with an exclusive flock so
// two daemons never sync the same account concurrently.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HeldError is returned when another process already syncs this user.
type HeldError struct {
	User string
	PID  int
	Path string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("user %q already synced by PID %d (%s)", e.User, e.PID, e.Path)
}

// Lock represents an acquired user lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive lock on the user's session directory. Returns
// HeldError if another process holds it.
func Acquire(userDir, userID string) (*Lock, error) {
	lockPath := filepath.Join(userDir, "LOCK")

	if err := os.MkdirAll(userDir, 0700); err != nil {
		return nil, fmt.Errorf("create user dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		// Report the holder's PID for diagnostics.
		data, _ := os.ReadFile(lockPath)
		_ = f.Close()
		return nil, &HeldError{User: userID, PID: parsePID(string(data)), Path: lockPath}
	}

	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = f.Close()
		return nil, err
	}
	content := fmt.Sprintf("pid=%d\nuser=%s\ntime=%s\n", os.Getpid(), userID, time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: lockPath}, nil
}

// Release releases the lock. Safe to call on a nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ := strconv.Atoi(after)
			return pid
		}
	}
	return 0
}
