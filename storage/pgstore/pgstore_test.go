package pgstore

import (
	"os"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/thechriswalker/go-decide/storage/storetest"
	"github.com/thechriswalker/go-decide/voting"
)

// The contract only runs against a real database:
//
//	DECIDE_TEST_POSTGRES_DSN="host=localhost user=decide dbname=decide_test sslmode=disable" go test ./storage/pgstore
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DECIDE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DECIDE_TEST_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) voting.Store {
		s, err := Open(dsn)
		qt.Assert(t, err, qt.IsNil)
		// every subtest starts from empty tables
		err = s.db.Exec("TRUNCATE votings, question_options, voting_auths, census, ballots RESTART IDENTITY").Error
		qt.Assert(t, err, qt.IsNil)
		return s
	})
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("")
	qt.Assert(t, err, qt.ErrorMatches, "postgres dsn is required")
}
