package avatar

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mira/internal/logging"
)

// imageExts limits catalog loading to common image file types so stray files
// in the avatar directory never become expression identifiers.
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// Catalog is the immutable set of valid expression identifiers. It is built
// once at startup and shared read-only for the lifetime of the process.
type Catalog struct {
	members map[string]bool
	sorted  []string
}

// NewCatalog builds a catalog from explicit identifiers. Identifiers are
// lowercased; duplicates collapse.
func NewCatalog(identifiers ...string) *Catalog {
	members := make(map[string]bool, len(identifiers))
	for _, id := range identifiers {
		id = strings.ToLower(strings.TrimSpace(id))
		if id != "" {
			members[id] = true
		}
	}
	sorted := make([]string, 0, len(members))
	for id := range members {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)
	return &Catalog{members: members, sorted: sorted}
}

// LoadCatalog scans dir once and returns the catalog of expression
// identifiers derived from image filename stems. A missing or unreadable
// directory yields an empty catalog with a warning rather than an error:
// the pipeline degrades to the default expression in that case.
func LoadCatalog(dir string, logger logging.Logger) *Catalog {
	logger = logging.OrNop(logger)

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("avatar folder not found: %s (%v)", dir, err)
		return NewCatalog()
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !imageExts[ext] {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, filepath.Ext(name)))
	}

	catalog := NewCatalog(ids...)
	if catalog.Len() == 0 {
		logger.Warn("no avatar expressions found in %s", dir)
	} else {
		logger.Info("loaded %d avatar expressions: %s", catalog.Len(), catalog.Joined())
	}
	return catalog
}

// Contains reports whether id is a catalog member. Matching is exact; the
// caller is responsible for lowercasing candidate identifiers first.
func (c *Catalog) Contains(id string) bool {
	return c.members[id]
}

// Members returns the identifiers in sorted order.
func (c *Catalog) Members() []string {
	out := make([]string, len(c.sorted))
	copy(out, c.sorted)
	return out
}

// Joined renders the catalog as a comma-separated list for prompt building.
func (c *Catalog) Joined() string {
	return strings.Join(c.sorted, ", ")
}

// Len returns the number of catalog members.
func (c *Catalog) Len() int {
	return len(c.sorted)
}
