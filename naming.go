package cuteshm

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	"github.com/MPI-IS/cute-shm/shm"
)

// catalogPrefix namespaces everything cute-shm puts on disk or in
// shared memory: catalog files, lock files, and segment names.
const catalogPrefix = "cute-shm."

// segment names look like "cute-shm.<project>.<uuid>"; the uuid is a
// fresh generation id per creation, so a stale attach can never bind
// to a segment from a newer generation of the same logical path.
const segmentSuffixLen = 1 + 36

var projectNameRE = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// validateProject checks that a project name fits the shared-memory
// name character set and leaves room for the prefix and generation id.
func validateProject(project string) error {
	if project == "" {
		return fmt.Errorf("empty project name")
	}
	if !projectNameRE.MatchString(project) {
		return fmt.Errorf("invalid project name %q: only [A-Za-z0-9._-] allowed", project)
	}
	if len(catalogPrefix)+len(project)+segmentSuffixLen > shm.NameMax {
		return fmt.Errorf("project name %q too long", project)
	}
	return nil
}

// newSegmentName allocates a globally unique segment name for one leaf
// of a project.
func newSegmentName(project string) string {
	return catalogPrefix + project + "." + uuid.NewString()
}
