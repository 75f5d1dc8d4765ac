// Package perms holds the file modes used for files rndebug writes.
package perms

import "os"

const (
	// RegularFile is used for config and log files (0644).
	RegularFile os.FileMode = 0o644

	// RegularDir is used for directories created to hold log files (0755).
	RegularDir os.FileMode = 0o755
)
