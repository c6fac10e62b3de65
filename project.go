package cuteshm

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MPI-IS/cute-shm/shm"
)

// DefaultRoot is the process-wide default location for catalog and
// lock files.
const DefaultRoot = "/tmp/cute-shm"

// copyChunk is the transfer granularity for progress reporting.
const copyChunk = 32 << 20

// ProgressFunc reports transfer progress in bytes.
type ProgressFunc func(copied, total int64)

// Manager orchestrates project creation, reading, and removal against
// one catalog root. Managers are cheap; tests run several against
// isolated roots concurrently.
type Manager struct {
	root        string
	log         *zap.Logger
	lockTimeout time.Duration
	store       catalogStore

	// segmentName is overridable so failure injection in tests can
	// force a naming collision mid-create.
	segmentName func(project string) string
}

// Option configures a Manager.
type Option func(*Manager)

// WithRoot places catalog and lock files under root instead of
// DefaultRoot.
func WithRoot(root string) Option {
	return func(m *Manager) { m.root = root }
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithLockTimeout bounds the wait for the per-project lock. The
// default is an unbounded wait.
func WithLockTimeout(d time.Duration) Option {
	return func(m *Manager) { m.lockTimeout = d }
}

// New builds a Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		root:        DefaultRoot,
		log:         zap.NewNop(),
		segmentName: newSegmentName,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.store = catalogStore{root: m.root}
	return m
}

// Root returns the catalog root this manager operates on.
func (m *Manager) Root() string { return m.root }

// CatalogPath returns where the project's catalog file lives (whether
// or not it currently exists).
func (m *Manager) CatalogPath(project string) string {
	return m.store.path(project)
}

// CreateOptions controls Create.
type CreateOptions struct {
	// Persistent marks the project as surviving until explicitly
	// unlinked. Ephemeral projects are expected to be cleaned up by
	// their creator, normally through WithProject.
	Persistent bool

	// Overwrite unlinks an existing project of the same name before
	// creating. Without it, Create fails with ErrProjectExists.
	Overwrite bool

	// Progress, when set, is invoked as leaf bytes are copied into
	// shared memory.
	Progress ProgressFunc
}

// Create flattens the tree, copies every leaf into its own fresh
// shared-memory segment, and then publishes the catalog. Publication
// is the single visibility point: a reader never observes a catalog
// referencing a segment that does not exist. If any segment creation
// fails partway, all segments created by this call are unlinked before
// the error is returned.
func (m *Manager) Create(project string, tree Tree, opts CreateOptions) error {
	if err := validateProject(project); err != nil {
		return err
	}
	entries, err := flatten(tree)
	if err != nil {
		return err
	}

	lock, err := m.lockProject(project)
	if err != nil {
		return err
	}
	defer lock.unlock()

	if m.store.exists(project) {
		if !opts.Overwrite {
			return fmt.Errorf("%w: %s (catalog at %s)", ErrProjectExists, project, m.store.path(project))
		}
		m.log.Debug("overwriting existing project", zap.String("project", project))
		if err := m.unlinkLocked(project); err != nil {
			return fmt.Errorf("overwrite %s: %w", project, err)
		}
	}

	var total int64
	for _, e := range entries {
		total += int64(len(e.leaf.Array.Data))
	}

	var copied int64
	var created []*shm.Segment
	fail := func(cause error) error {
		for _, seg := range created {
			seg.Close()
			if err := seg.Unlink(); err != nil && !errors.Is(err, shm.ErrSegmentNotFound) {
				m.log.Warn("cleanup after failed create",
					zap.String("segment", seg.Name()), zap.Error(err))
			}
		}
		return cause
	}

	c := &catalog{persistent: opts.Persistent}
	for _, e := range entries {
		name := m.segmentName(project)
		m.log.Debug("transferring key to shared memory",
			zap.String("key", joinPath(e.path)),
			zap.String("segment", name),
			zap.String("size", BytesToHuman(int64(len(e.leaf.Array.Data)))))

		seg, err := shm.Create(name, len(e.leaf.Array.Data))
		if err != nil {
			return fail(fmt.Errorf("create segment for leaf %q: %w", joinPath(e.path), err))
		}
		created = append(created, seg)

		dst := seg.Bytes()
		src := e.leaf.Array.Data
		for off := 0; off < len(src); off += copyChunk {
			end := off + copyChunk
			if end > len(src) {
				end = len(src)
			}
			copy(dst[off:end], src[off:end])
			copied += int64(end - off)
			if opts.Progress != nil {
				opts.Progress(copied, total)
			}
		}
		if len(src) == 0 && opts.Progress != nil {
			opts.Progress(copied, total)
		}

		c.entries = append(c.entries, catalogEntry{
			path: e.path,
			meta: ArrayMeta{
				SHMName: name,
				DType:   e.leaf.Array.DType,
				Shape:   e.leaf.Array.Shape,
				Attrs:   e.leaf.Attrs,
			},
		})
	}

	if err := m.store.write(project, c); err != nil {
		return fail(err)
	}

	// Publication done; drop our mappings. The segment files stay
	// live for readers.
	for _, seg := range created {
		seg.Close()
	}
	m.log.Debug("project published",
		zap.String("project", project),
		zap.Int("arrays", len(entries)),
		zap.String("size", BytesToHuman(total)))
	return nil
}

// SharedArray is one reattached leaf: its catalog metadata, a typed
// view over the segment's bytes, and the segment handle keeping that
// view alive. The Array's Data aliases shared memory and must not be
// used after Close.
type SharedArray struct {
	Meta  ArrayMeta
	Array *Array

	seg *shm.Segment
}

// Close detaches the view from its segment.
func (s *SharedArray) Close() error {
	if s.seg == nil {
		return nil
	}
	err := s.seg.Close()
	s.seg = nil
	return err
}

// SharedNode is one level of a reattached tree: either a *SharedArray
// or a SharedTree.
type SharedNode interface {
	sharedNode()
}

// SharedTree is a reattached nested tree of shared arrays.
type SharedTree map[string]SharedNode

func (SharedTree) sharedNode()   {}
func (*SharedArray) sharedNode() {}

// Close detaches every view in the tree, keeping the first error.
func (t SharedTree) Close() error {
	var first error
	for _, n := range t {
		switch v := n.(type) {
		case SharedTree:
			if err := v.Close(); err != nil && first == nil {
				first = err
			}
		case *SharedArray:
			if err := v.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Array returns the leaf at a logical path, or nil if the path does
// not lead to a leaf.
func (t SharedTree) Array(path ...string) *SharedArray {
	if len(path) == 0 {
		return nil
	}
	cur := t
	for _, key := range path[:len(path)-1] {
		sub, ok := cur[key].(SharedTree)
		if !ok {
			return nil
		}
		cur = sub
	}
	leaf, _ := cur[path[len(path)-1]].(*SharedArray)
	return leaf
}

// Read attaches to every segment of a published project and rebuilds
// the nested tree. Reading takes no lock: published projects are
// immutable, so concurrent reads are safe. Any attach failure aborts
// the read, detaches what was already attached, and surfaces the
// missing leaf.
func (m *Manager) Read(project string) (SharedTree, error) {
	if err := validateProject(project); err != nil {
		return nil, err
	}
	c, err := m.store.read(project)
	if err != nil {
		return nil, err
	}

	tree := SharedTree{}
	var attached []*SharedArray
	fail := func(cause error) (SharedTree, error) {
		for _, s := range attached {
			s.Close()
		}
		return nil, cause
	}

	for _, e := range c.entries {
		m.log.Debug("reading key from shared memory",
			zap.String("key", joinPath(e.path)),
			zap.String("segment", e.meta.SHMName),
			zap.String("size", BytesToHuman(int64(e.meta.NumBytes()))))

		seg, err := shm.Attach(e.meta.SHMName)
		if err != nil {
			return fail(fmt.Errorf("leaf %q: %w", joinPath(e.path), err))
		}

		want := e.meta.NumBytes()
		if want < 0 || seg.Size() < want {
			seg.Close()
			return fail(fmt.Errorf("%w: leaf %q: segment %s holds %d bytes, catalog declares %d",
				ErrCatalogCorrupt, joinPath(e.path), e.meta.SHMName, seg.Size(), want))
		}

		sa := &SharedArray{
			Meta: e.meta,
			Array: &Array{
				DType: e.meta.DType,
				Shape: e.meta.Shape,
				Data:  seg.Bytes()[:want],
			},
			seg: seg,
		}
		attached = append(attached, sa)
		if err := insertShared(tree, e.path, sa); err != nil {
			return fail(err)
		}
	}
	return tree, nil
}

func insertShared(root SharedTree, path []string, value *SharedArray) error {
	return insertAt(root, path, SharedNode(value),
		func(t SharedTree) SharedNode { return t },
		func(n SharedNode) (SharedTree, bool) { t, ok := n.(SharedTree); return t, ok })
}

// Unlink removes every segment of a project and then its catalog. It
// is idempotent: an absent project, or segments the OS already
// reclaimed, count as success. Unexpected failures (permissions, a
// corrupt catalog) are still surfaced after best-effort cleanup.
func (m *Manager) Unlink(project string) error {
	if err := validateProject(project); err != nil {
		return err
	}
	lock, err := m.lockProject(project)
	if err != nil {
		return err
	}
	defer lock.unlock()
	return m.unlinkLocked(project)
}

func (m *Manager) unlinkLocked(project string) error {
	c, err := m.store.read(project)
	if err != nil {
		if errors.Is(err, ErrCatalogNotFound) {
			return nil
		}
		// A corrupt catalog names no segments to free; remove the
		// file and report, since segments may have leaked.
		if errors.Is(err, ErrCatalogCorrupt) {
			if derr := m.store.delete(project); derr != nil {
				return derr
			}
		}
		return err
	}

	var errs []error
	for _, e := range c.entries {
		m.log.Debug("unlinking shared memory",
			zap.String("key", joinPath(e.path)),
			zap.String("segment", e.meta.SHMName))
		if err := shm.Unlink(e.meta.SHMName); err != nil {
			if errors.Is(err, shm.ErrSegmentNotFound) {
				m.log.Warn("shared memory not found",
					zap.String("key", joinPath(e.path)),
					zap.String("segment", e.meta.SHMName))
				continue
			}
			errs = append(errs, fmt.Errorf("leaf %q: %w", joinPath(e.path), err))
		}
	}
	if err := m.store.delete(project); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// WithProject creates an ephemeral project, hands the reattached tree
// to fn, and guarantees the project is unlinked on every exit path.
func (m *Manager) WithProject(project string, tree Tree, opts CreateOptions, fn func(SharedTree) error) error {
	opts.Persistent = false
	if err := m.Create(project, tree, opts); err != nil {
		return err
	}
	defer func() {
		if err := m.Unlink(project); err != nil {
			m.log.Warn("scoped unlink", zap.String("project", project), zap.Error(err))
		}
	}()

	shared, err := m.Read(project)
	if err != nil {
		return err
	}
	defer shared.Close()
	return fn(shared)
}
