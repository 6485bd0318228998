package driveprobe

import (
	"fmt"
	"os"
)

// CreateEmptyDir guarantees a fresh workspace at path. A stale workspace left
// by a previous run is removed first; failing that is fatal to the session,
// nothing network-facing has happened yet.
func CreateEmptyDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing stale workspace %q: %w", path, err)
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("creating workspace %q: %w", path, err)
	}
	return nil
}
