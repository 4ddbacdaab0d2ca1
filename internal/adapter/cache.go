package adapter

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cloakgov/cloakgov/internal/cloakerr"
)

// Cache drops the page cache, matching the original's drop_caches call.
type Cache struct {
	procRoot string
}

func NewCache(procRoot string) *Cache { return &Cache{procRoot: procRoot} }

// DropCaches writes "3" to /proc/sys/vm/drop_caches, releasing
// page cache, dentries, and inodes. Requires root; failure is reported
// as permanent since a non-root process will never succeed here.
func (c *Cache) DropCaches() error {
	path := filepath.Join(c.procRoot, "sys", "vm", "drop_caches")
	if err := os.WriteFile(path, []byte("3\n"), 0o200); err != nil {
		return fmt.Errorf("%w: write %s: %v", cloakerr.ErrAdapterPermanent, path, err)
	}
	return nil
}
