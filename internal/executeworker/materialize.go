package executeworker

import (
	"fmt"
	"os"
	"path/filepath"
)

// materialize writes binBytes to a fresh file under dir, named for name
// (the job id), returning its path and a cleanup func that removes it.
// The sandbox collaborator bind-mounts this path read-only at
// /work/binary (spec.md §4.5 step 4).
func materialize(dir, name string, binBytes []byte) (path string, cleanup func(), err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ``, nil, fmt.Errorf(`executeworker: mkdir scratch dir: %w`, err)
	}
	path = filepath.Join(dir, name+`.bin`)
	if err := os.WriteFile(path, binBytes, 0o755); err != nil {
		return ``, nil, fmt.Errorf(`executeworker: write scratch binary: %w`, err)
	}
	return path, func() { _ = os.Remove(path) }, nil
}
