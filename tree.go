package cuteshm

import (
	"fmt"
	"sort"
	"strings"
)

// leafEntry is one flattened leaf: the logical path from the tree root
// to the array.
type leafEntry struct {
	path []string
	leaf *Leaf
}

func joinPath(path []string) string { return strings.Join(path, "/") }

// flatten walks a nested tree depth-first and returns its leaves in
// deterministic (sorted-key) order. Every leaf is validated against
// its declared shape and type.
func flatten(tree Tree) ([]leafEntry, error) {
	var entries []leafEntry
	var walk func(prefix []string, t Tree) error
	walk = func(prefix []string, t Tree) error {
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if k == "" {
				return fmt.Errorf("%w: empty key under %q", ErrTreeStructure, joinPath(prefix))
			}
			path := append(append([]string{}, prefix...), k)
			switch n := t[k].(type) {
			case Tree:
				if err := walk(path, n); err != nil {
					return err
				}
			case *Leaf:
				if n == nil || n.Array == nil {
					return fmt.Errorf("%w: nil leaf at %q", ErrTreeStructure, joinPath(path))
				}
				if err := n.Array.validate(); err != nil {
					return fmt.Errorf("%w: leaf %q: %v", ErrTreeStructure, joinPath(path), err)
				}
				if err := n.Attrs.validate(); err != nil {
					return fmt.Errorf("%w: leaf %q: %v", ErrTreeStructure, joinPath(path), err)
				}
				entries = append(entries, leafEntry{path: path, leaf: n})
			case nil:
				return fmt.Errorf("%w: nil node at %q", ErrTreeStructure, joinPath(path))
			default:
				return fmt.Errorf("%w: unsupported node type %T at %q", ErrTreeStructure, n, joinPath(path))
			}
		}
		return nil
	}
	if err := walk(nil, tree); err != nil {
		return nil, err
	}
	return entries, nil
}

// insertAt places a value at a logical path in a nested map, creating
// intermediate subtrees as it walks. wrap boxes a fresh subtree as a
// node; unwrap recovers a subtree from an existing node, reporting
// false when the node is a leaf. It rejects paths that collide with an
// existing node or cross a leaf. Both the codec's rebuild path and the
// reattached-tree construction in Read go through this walker.
func insertAt[N any, M ~map[string]N](root M, path []string, value N, wrap func(M) N, unwrap func(N) (M, bool)) error {
	if len(path) == 0 {
		return fmt.Errorf("%w: empty logical path", ErrTreeStructure)
	}
	cur := root
	for _, key := range path[:len(path)-1] {
		existing, ok := cur[key]
		if !ok {
			next := M{}
			cur[key] = wrap(next)
			cur = next
			continue
		}
		next, isSub := unwrap(existing)
		if !isSub {
			return fmt.Errorf("%w: path %q crosses a leaf at %q",
				ErrTreeStructure, joinPath(path), key)
		}
		cur = next
	}
	last := path[len(path)-1]
	if _, taken := cur[last]; taken {
		return fmt.Errorf("%w: duplicate logical path %q", ErrTreeStructure, joinPath(path))
	}
	cur[last] = value
	return nil
}

// insertNode places a node at a logical path in a Tree.
func insertNode(root Tree, path []string, value Node) error {
	return insertAt(root, path, value,
		func(t Tree) Node { return t },
		func(n Node) (Tree, bool) { t, ok := n.(Tree); return t, ok })
}

// unflatten rebuilds a nested tree from flattened leaves. Order of the
// input does not matter; only the recorded paths do.
func unflatten(entries []leafEntry) (Tree, error) {
	root := Tree{}
	for _, e := range entries {
		if err := insertNode(root, e.path, e.leaf); err != nil {
			return nil, err
		}
	}
	return root, nil
}
