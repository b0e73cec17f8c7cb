// Package lock serializes MCO runs against one repository with an
// advisory file lock. The lock file records the owning PID so a refused
// run can say which process holds the repository.
package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

type FileLock struct {
	path string
	file *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// TryLock acquires the lock without blocking. On contention the error
// names the PID of the run holding it, when readable.
func (fl *FileLock) TryLock() error {
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if holder := fl.holderPID(); holder != 0 {
			return fmt.Errorf("another mco run (pid %d) holds this repository: %w", holder, err)
		}
		return fmt.Errorf("another mco run holds this repository: %w", err)
	}

	if err := fl.writeOwner(f); err != nil {
		fl.release(f)
		return err
	}

	fl.file = f
	return nil
}

// holderPID reads the PID recorded by the current lock holder. Zero when
// the file is unreadable or does not parse.
func (fl *FileLock) holderPID() int {
	raw, err := os.ReadFile(fl.path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}

// writeOwner stamps this process's PID into the held lock file.
func (fl *FileLock) writeOwner(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write PID to lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

func (fl *FileLock) release(f *os.File) {
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	f.Close()
}

func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}

	if err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN); err != nil {
		fl.file.Close()
		return fmt.Errorf("release lock: %w", err)
	}

	if err := fl.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}

	os.Remove(fl.path)
	fl.file = nil
	return nil
}
