package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/thechriswalker/go-decide/storage/pgstore"
	"github.com/thechriswalker/go-decide/voting"
)

// Open returns the store for the named driver. dsn is only used by postgres,
// dir only by sqlite.
func Open(driver, dsn, dir string) (voting.Store, error) {
	switch driver {
	case "memory":
		return NewMemoryStorage(), nil
	case "sqlite", "sqlite3", "":
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return nil, fmt.Errorf("Could not create data directory (%s): %w", dir, err)
		}
		return NewSQLiteStorage(filepath.Join(dir, "decide.db"))
	case "postgres":
		return pgstore.Open(dsn)
	}
	return nil, fmt.Errorf("unknown database driver %q", driver)
}
