package files

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rndebug/rndebug/internal/perms"
)

// EnsureParentDir creates the directory that will contain path, with regular directory permissions.
// Existing directories are left untouched.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	if err := os.MkdirAll(dir, perms.RegularDir); err != nil {
		return fmt.Errorf("could not ensure directory exists for '%s': %w", path, err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("could not stat directory '%s': %w", dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path '%s' is not a directory", dir)
	}

	return nil
}
