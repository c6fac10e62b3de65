package cuteshm

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// projectLock is an advisory interprocess lock scoped to one project
// name, held around Create and Unlink but never around Read.
type projectLock struct {
	file *os.File
}

// lockProject acquires the project's exclusive flock. With a zero
// timeout the wait is unbounded, matching the documented limitation
// that a crashed holder can starve others; a positive timeout turns
// the acquire into a retry loop surfacing ErrLockTimeout.
func (m *Manager) lockProject(project string) (*projectLock, error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, fmt.Errorf("create catalog root %s: %w", m.root, err)
	}
	path := filepath.Join(m.root, catalogPrefix+project+".lock")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	fd := int(file.Fd())
	if m.lockTimeout <= 0 {
		for {
			err := unix.Flock(fd, unix.LOCK_EX)
			if err == nil {
				return &projectLock{file: file}, nil
			}
			if err != unix.EINTR {
				file.Close()
				return nil, fmt.Errorf("lock project %s: %w", project, err)
			}
		}
	}

	deadline := time.Now().Add(m.lockTimeout)
	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &projectLock{file: file}, nil
		}
		if err != unix.EWOULDBLOCK && err != unix.EINTR {
			file.Close()
			return nil, fmt.Errorf("lock project %s: %w", project, err)
		}
		if time.Now().After(deadline) {
			file.Close()
			return nil, fmt.Errorf("%w: project %s", ErrLockTimeout, project)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (l *projectLock) unlock() {
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	l.file.Close()
}
