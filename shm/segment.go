//go:build linux

// Package shm manages POSIX shared-memory segments, each backed by a
// file under /dev/shm (or the temporary directory when /dev/shm is not
// available). A Segment owns both the file handle and the mapping, so
// a byte view obtained from it can never outlive the mapping backing
// it.
package shm

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	// ErrSegmentExists is returned by Create when a segment of the
	// requested name is already present.
	ErrSegmentExists = errors.New("shared memory segment already exists")

	// ErrSegmentNotFound is returned by Attach and Unlink when no
	// segment of the requested name is present.
	ErrSegmentNotFound = errors.New("shared memory segment not found")
)

// NameMax bounds segment names. POSIX shared-memory names are limited
// by NAME_MAX of the tmpfs holding them.
const NameMax = 255

// Segment is a mapped shared-memory region. Create and Attach return
// live segments; Close unmaps without removing the backing resource,
// Unlink removes it for every future attacher.
type Segment struct {
	name string
	path string
	file *os.File
	mem  []byte
	size int
}

// Dir returns the directory holding segment files: /dev/shm on Linux
// systems that mount it, the temporary directory otherwise.
func Dir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// SegmentPath returns the file path backing a segment name.
func SegmentPath(name string) string {
	return filepath.Join(Dir(), name)
}

// Exists reports whether a segment of the given name is present,
// without attaching to it.
func Exists(name string) bool {
	_, err := os.Stat(SegmentPath(name))
	return err == nil
}

func checkName(name string) error {
	if name == "" {
		return errors.New("empty segment name")
	}
	if strings.ContainsRune(name, '/') {
		return fmt.Errorf("segment name %q contains '/'", name)
	}
	if len(name) > NameMax {
		return fmt.Errorf("segment name %q exceeds %d characters", name, NameMax)
	}
	return nil
}

// Create allocates a new segment of exactly size bytes and maps it
// read-write. It fails with ErrSegmentExists if the name is taken;
// creation is atomic with respect to concurrent creators of the same
// name.
func Create(name string, size int) (*Segment, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, fmt.Errorf("negative segment size %d", size)
	}

	path := SegmentPath(name)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSegmentExists, name)
		}
		return nil, fmt.Errorf("create segment file %s: %w", path, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	// A zero-byte mapping is invalid, so zero-length segments are
	// backed by a single page and sliced down to an empty view.
	mapLen := size
	if mapLen == 0 {
		mapLen = 1
	}
	if err := file.Truncate(int64(mapLen)); err != nil {
		cleanup()
		return nil, fmt.Errorf("resize segment file %s: %w", path, err)
	}

	mem, err := unix.Mmap(int(file.Fd()), 0, mapLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("mmap segment %s: %w", name, err)
	}

	return &Segment{name: name, path: path, file: file, mem: mem, size: size}, nil
}

// Attach maps an existing segment read-write. It fails with
// ErrSegmentNotFound if the segment does not exist.
func Attach(name string) (*Segment, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	path := SegmentPath(name)
	file, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSegmentNotFound, name)
		}
		return nil, fmt.Errorf("open segment file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat segment file %s: %w", path, err)
	}

	size := int(info.Size())
	mapLen := size
	if mapLen == 0 {
		file.Close()
		return nil, fmt.Errorf("segment file %s is empty", path)
	}

	mem, err := unix.Mmap(int(file.Fd()), 0, mapLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("mmap segment %s: %w", name, err)
	}

	return &Segment{name: name, path: path, file: file, mem: mem, size: size}, nil
}

// Unlink removes the backing resource of a segment. Existing mappings
// stay valid until their holders close them. Fails with
// ErrSegmentNotFound if the segment is already absent.
func Unlink(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := os.Remove(SegmentPath(name)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSegmentNotFound, name)
		}
		return fmt.Errorf("unlink segment %s: %w", name, err)
	}
	return nil
}

// Name returns the segment's shared-memory name.
func (s *Segment) Name() string { return s.name }

// Size returns the byte length requested at creation, which may be
// smaller than the mapped length for zero-byte segments.
func (s *Segment) Size() int { return s.size }

// Bytes returns the mapped view, exactly Size bytes long. The slice
// aliases shared memory and must not be used after Close.
func (s *Segment) Bytes() []byte { return s.mem[:s.size] }

// Close unmaps the segment and closes its file handle. The backing
// resource is left in place for other holders; use Unlink to remove
// it.
func (s *Segment) Close() error {
	if s.mem == nil {
		return nil
	}
	err := unix.Munmap(s.mem)
	s.mem = nil
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("close segment %s: %w", s.name, err)
	}
	return nil
}

// Unlink removes the segment's backing resource. The mapping, if still
// open, stays valid until Close.
func (s *Segment) Unlink() error {
	return Unlink(s.name)
}
