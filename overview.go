package cuteshm

import (
	"sort"

	"github.com/MPI-IS/cute-shm/shm"
)

// LeafInfo describes one cataloged array for listings.
type LeafInfo struct {
	Path     []string
	DType    DType
	Shape    []int
	NumBytes int64
	AttrKeys []string
	SHMName  string

	// Missing flags a catalog entry whose segment no longer exists.
	Missing bool
}

// ProjectInfo summarizes one cataloged project.
type ProjectInfo struct {
	Name        string
	CatalogPath string
	Persistent  bool
	ArrayCount  int
	TotalBytes  int64

	// MissingSegments flags projects with at least one orphaned
	// catalog entry.
	MissingSegments bool

	// Corrupt flags a catalog that could not be parsed; the other
	// fields besides Name and CatalogPath are unset.
	Corrupt bool

	// Leaves is populated unless the overview was requested short.
	Leaves []LeafInfo
}

// Overview inventories every catalog at the root without mutating
// anything. Each leaf's segment is probed for existence, so orphaned
// catalog entries are flagged rather than crashing a later read.
// Projects still mid-create never appear: their catalog is only
// written once all segments exist.
func (m *Manager) Overview(short bool) ([]ProjectInfo, error) {
	projects, err := m.store.list()
	if err != nil {
		return nil, err
	}

	infos := make([]ProjectInfo, 0, len(projects))
	for _, name := range projects {
		info := ProjectInfo{Name: name, CatalogPath: m.store.path(name)}
		c, err := m.store.read(name)
		if err != nil {
			info.Corrupt = true
			infos = append(infos, info)
			continue
		}

		info.Persistent = c.persistent
		info.ArrayCount = len(c.entries)
		for _, e := range c.entries {
			size := int64(e.meta.NumBytes())
			info.TotalBytes += size
			missing := !shm.Exists(e.meta.SHMName)
			if missing {
				info.MissingSegments = true
			}
			if short {
				continue
			}
			keys := make([]string, 0, len(e.meta.Attrs))
			for k := range e.meta.Attrs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			info.Leaves = append(info.Leaves, LeafInfo{
				Path:     e.path,
				DType:    e.meta.DType,
				Shape:    e.meta.Shape,
				NumBytes: size,
				AttrKeys: keys,
				SHMName:  e.meta.SHMName,
				Missing:  missing,
			})
		}
		infos = append(infos, info)
	}
	return infos, nil
}
