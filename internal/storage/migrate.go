package storage

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

// migration is one forward-only SQL file.
type migration struct {
	name string
	sql  string
}

// pendingMigrations returns the .sql files of migrationsFS not yet recorded
// in applied, in lexical order. This is a simple forward-only runner; each
// backend records applied files in its own schema_migrations table.
func pendingMigrations(migrationsFS fs.FS, applied map[string]bool) ([]migration, error) {
	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("storage: read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()
		if applied[name] {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return nil, fmt.Errorf("storage: read migration %s: %w", name, err)
		}
		out = append(out, migration{name: name, sql: string(content)})
	}
	return out, nil
}
