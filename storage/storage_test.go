package storage

import (
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/thechriswalker/go-decide/storage/storetest"
	"github.com/thechriswalker/go-decide/voting"
)

func TestMemoryStorage(t *testing.T) {
	storetest.Run(t, func(t *testing.T) voting.Store {
		return NewMemoryStorage()
	})
}

func TestSQLiteStorage(t *testing.T) {
	storetest.Run(t, func(t *testing.T) voting.Store {
		s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
		qt.Assert(t, err, qt.IsNil)
		return s
	})
}

func TestSQLiteStorageReopen(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()
	s, err := Open("sqlite", "", dir)
	c.Assert(err, qt.IsNil)
	c.Assert(s.Close(), qt.IsNil)
	// the schema is created only if missing
	s, err = Open("sqlite", "", dir)
	c.Assert(err, qt.IsNil)
	c.Assert(s.Close(), qt.IsNil)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("mongodb", "", t.TempDir())
	qt.Assert(t, err, qt.ErrorMatches, `unknown database driver "mongodb"`)
}
