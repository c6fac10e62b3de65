// Package dataset connects hierarchical dataset files to shared-memory
// projects. A Source exposes a tree of named datasets, each a typed
// buffer plus an attribute map; Transfer moves a whole source into a
// named project with optional byte-level progress reporting.
package dataset

import (
	"errors"
	"fmt"

	cuteshm "github.com/MPI-IS/cute-shm"
)

// Dataset is one array plus the attributes its container recorded for
// it.
type Dataset struct {
	Array *cuteshm.Array
	Attrs cuteshm.Attrs
}

// Source is a tree of named datasets. Walk visits every dataset with
// its logical path (the container keys from the root); returning an
// error from fn aborts the walk.
type Source interface {
	Walk(fn func(path []string, ds Dataset) error) error
}

// BuildTree materializes a source into a nested tree, rejecting
// duplicate logical paths.
func BuildTree(src Source) (cuteshm.Tree, error) {
	tree := cuteshm.Tree{}
	err := src.Walk(func(path []string, ds Dataset) error {
		return insert(tree, path, &cuteshm.Leaf{Array: ds.Array, Attrs: ds.Attrs})
	})
	if err != nil {
		return nil, err
	}
	return tree, nil
}

func insert(root cuteshm.Tree, path []string, leaf *cuteshm.Leaf) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: dataset with empty path", cuteshm.ErrTreeStructure)
	}
	cur := root
	for _, key := range path[:len(path)-1] {
		switch existing := cur[key].(type) {
		case nil:
			sub := cuteshm.Tree{}
			cur[key] = sub
			cur = sub
		case cuteshm.Tree:
			cur = existing
		default:
			return fmt.Errorf("%w: dataset path crosses a leaf at %q",
				cuteshm.ErrTreeStructure, key)
		}
	}
	last := path[len(path)-1]
	if _, taken := cur[last]; taken {
		return fmt.Errorf("%w: duplicate dataset path ending in %q",
			cuteshm.ErrTreeStructure, last)
	}
	cur[last] = leaf
	return nil
}

// TotalBytes walks a source and returns the byte total and dataset
// count, for sizing progress displays before a transfer.
func TotalBytes(src Source) (int64, int, error) {
	var total int64
	var count int
	err := src.Walk(func(path []string, ds Dataset) error {
		if ds.Array == nil {
			return fmt.Errorf("%w: nil dataset", cuteshm.ErrTreeStructure)
		}
		total += int64(len(ds.Array.Data))
		count++
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return total, count, nil
}

// TransferOptions controls Transfer.
type TransferOptions struct {
	Persistent bool
	Overwrite  bool
	Progress   cuteshm.ProgressFunc
}

// Transfer moves the whole source into a named shared-memory project.
func Transfer(m *cuteshm.Manager, project string, src Source, opts TransferOptions) error {
	tree, err := BuildTree(src)
	if err != nil {
		return err
	}
	return m.Create(project, tree, cuteshm.CreateOptions{
		Persistent: opts.Persistent,
		Overwrite:  opts.Overwrite,
		Progress:   opts.Progress,
	})
}

// WithTransfer transfers the source as an ephemeral project, runs fn,
// and unlinks the project on every exit path.
func WithTransfer(m *cuteshm.Manager, project string, src Source, opts TransferOptions, fn func() error) (err error) {
	opts.Persistent = false
	if err := Transfer(m, project, src, opts); err != nil {
		return err
	}
	defer func() {
		if uerr := m.Unlink(project); uerr != nil {
			err = errors.Join(err, uerr)
		}
	}()
	err = fn()
	return err
}
