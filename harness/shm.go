package harness

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultShmDir is where the tracing client creates its segments.
const DefaultShmDir = "/dev/shm"

var shmSegments = []string{
	"complete_queue",
	"triggers_queue",
	"pool",
	"breadcrumbs_queue",
	"available_queue",
}

// ShmPaths returns the shared memory segments owned by service.
func ShmPaths(dir, service string) []string {
	paths := make([]string, len(shmSegments))
	for i, seg := range shmSegments {
		paths[i] = filepath.Join(dir, service+"__"+seg)
	}

	return paths
}

// ResetShm deletes the shared memory segments of service left behind by a
// previous run. Segments that do not exist are skipped, so resetting twice
// is the same as resetting once.
func ResetShm(dir, service string) error {
	if service == "" || strings.ContainsRune(service, filepath.Separator) {
		return fmt.Errorf("invalid service name %q", service)
	}

	var errs []error

	for _, path := range ShmPaths(dir, service) {
		err := os.Remove(path)
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			continue
		}

		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
