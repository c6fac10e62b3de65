package cuteshm

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

const catalogExt = ".toml"

// catalog is the persisted description of a project: its lifetime
// policy plus every leaf's logical path, segment name, shape, element
// type, and attributes.
type catalog struct {
	persistent bool
	entries    []catalogEntry
}

type catalogEntry struct {
	path []string
	meta ArrayMeta
}

// catalogStore serializes catalogs to one TOML document per project at
// <root>/cute-shm.<project>.toml. The document holds a top-level
// "persistent" flag and, under "arrays", nested tables mirroring the
// tree; a table carrying a string "shm_name" key is a leaf.
type catalogStore struct {
	root string
}

func (s catalogStore) path(project string) string {
	return filepath.Join(s.root, catalogPrefix+project+catalogExt)
}

func (s catalogStore) exists(project string) bool {
	_, err := os.Stat(s.path(project))
	return err == nil
}

// write publishes a catalog atomically: the document is staged in the
// same directory and renamed into place, so a concurrent reader never
// sees a partial file.
func (s catalogStore) write(project string, c *catalog) error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create catalog root %s: %w", s.root, err)
	}

	arrays := map[string]any{}
	for _, e := range c.entries {
		leaf := map[string]any{
			"shm_name": e.meta.SHMName,
			"dtype":    string(e.meta.DType),
			"shape":    e.meta.Shape,
		}
		if len(e.meta.Attrs) > 0 {
			leaf["attrs"] = map[string]any(e.meta.Attrs)
		}
		if err := insertCatalogLeaf(arrays, e.path, leaf); err != nil {
			return err
		}
	}
	doc := map[string]any{
		"persistent": c.persistent,
		"arrays":     arrays,
	}

	tmp, err := os.CreateTemp(s.root, catalogPrefix+"*.tmp")
	if err != nil {
		return fmt.Errorf("stage catalog for %s: %w", project, err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := toml.NewEncoder(tmp).Encode(doc); err != nil {
		return fmt.Errorf("encode catalog for %s: %w", project, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		cleanup = false
		return fmt.Errorf("write catalog for %s: %w", project, err)
	}
	if err := os.Rename(tmpPath, s.path(project)); err != nil {
		os.Remove(tmpPath)
		cleanup = false
		return fmt.Errorf("publish catalog for %s: %w", project, err)
	}
	cleanup = false
	return nil
}

func insertCatalogLeaf(root map[string]any, path []string, leaf map[string]any) error {
	cur := root
	for _, key := range path[:len(path)-1] {
		switch existing := cur[key].(type) {
		case nil:
			sub := map[string]any{}
			cur[key] = sub
			cur = sub
		case map[string]any:
			cur = existing
		default:
			return fmt.Errorf("%w: path %q crosses a leaf", ErrTreeStructure, joinPath(path))
		}
	}
	last := path[len(path)-1]
	if _, taken := cur[last]; taken {
		return fmt.Errorf("%w: duplicate logical path %q", ErrTreeStructure, joinPath(path))
	}
	cur[last] = leaf
	return nil
}

// read parses a project's catalog. Fails with ErrCatalogNotFound when
// the file is absent and ErrCatalogCorrupt when it cannot be parsed or
// a leaf record is missing required fields.
func (s catalogStore) read(project string) (*catalog, error) {
	path := s.path(project)
	var raw map[string]any
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrCatalogNotFound, path)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrCatalogCorrupt, path, err)
	}

	c := &catalog{}
	if p, ok := raw["persistent"]; ok {
		b, ok := p.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s: persistent is not a bool", ErrCatalogCorrupt, path)
		}
		c.persistent = b
	}

	arrays := map[string]any{}
	if a, ok := raw["arrays"]; ok {
		m, ok := a.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s: arrays is not a table", ErrCatalogCorrupt, path)
		}
		arrays = m
	}

	if err := walkCatalogTables(nil, arrays, &c.entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCatalogCorrupt, path, err)
	}
	return c, nil
}

// walkCatalogTables descends nested TOML tables, collecting leaf
// records in sorted-key order.
func walkCatalogTables(prefix []string, tables map[string]any, out *[]catalogEntry) error {
	keys := make([]string, 0, len(tables))
	for k := range tables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := append(append([]string{}, prefix...), k)
		sub, ok := tables[k].(map[string]any)
		if !ok {
			return fmt.Errorf("key %q is not a table", joinPath(path))
		}
		if name, isLeaf := sub["shm_name"].(string); isLeaf {
			meta, err := parseLeafTable(name, sub)
			if err != nil {
				return fmt.Errorf("leaf %q: %v", joinPath(path), err)
			}
			*out = append(*out, catalogEntry{path: path, meta: meta})
			continue
		}
		if err := walkCatalogTables(path, sub, out); err != nil {
			return err
		}
	}
	return nil
}

func parseLeafTable(shmName string, table map[string]any) (ArrayMeta, error) {
	meta := ArrayMeta{SHMName: shmName}

	ds, ok := table["dtype"].(string)
	if !ok {
		return meta, fmt.Errorf("missing dtype")
	}
	dtype, err := ParseDType(ds)
	if err != nil {
		return meta, err
	}
	meta.DType = dtype

	rawShape, ok := table["shape"].([]any)
	if !ok {
		return meta, fmt.Errorf("missing shape")
	}
	meta.Shape = make([]int, len(rawShape))
	for i, v := range rawShape {
		d, ok := v.(int64)
		if !ok || d < 0 {
			return meta, fmt.Errorf("invalid shape entry %v", v)
		}
		meta.Shape[i] = int(d)
	}
	if _, err := byteLen(meta.DType, meta.Shape); err != nil {
		return meta, err
	}

	if rawAttrs, ok := table["attrs"]; ok {
		m, ok := rawAttrs.(map[string]any)
		if !ok {
			return meta, fmt.Errorf("attrs is not a table")
		}
		attrs := Attrs(m)
		if err := attrs.validate(); err != nil {
			return meta, err
		}
		meta.Attrs = attrs
	}
	return meta, nil
}

// delete removes a project's catalog file; already absent is success.
func (s catalogStore) delete(project string) error {
	if err := os.Remove(s.path(project)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete catalog for %s: %w", project, err)
	}
	return nil
}

// list enumerates the projects with a catalog at the root, sorted by
// name.
func (s catalogStore) list() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, catalogPrefix+"*"+catalogExt))
	if err != nil {
		return nil, fmt.Errorf("list catalogs in %s: %w", s.root, err)
	}
	projects := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		name := strings.TrimSuffix(strings.TrimPrefix(base, catalogPrefix), catalogExt)
		if name != "" {
			projects = append(projects, name)
		}
	}
	sort.Strings(projects)
	return projects, nil
}
