package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/thechriswalker/go-decide/crypto"
	"github.com/thechriswalker/go-decide/crypto/elgamal"
	"github.com/thechriswalker/go-decide/voting"
)

// SQLiteStorage is backed by SQLite. Every transaction is BEGIN IMMEDIATE so the
// read-check-write of a ballot insert or a status update holds the write lock
// from the first read.
type SQLiteStorage struct {
	db *sql.DB
}

var _ voting.Store = (*SQLiteStorage)(nil)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS votings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		question TEXT NOT NULL,
		is_yes_no INTEGER NOT NULL,
		status TEXT NOT NULL,
		start_date INTEGER,          -- unix nanoseconds
		end_date INTEGER,            -- unix nanoseconds
		pub_key TEXT,                -- json
		tally TEXT,                  -- json
		postproc TEXT,               -- json
		file TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS question_options (
		voting_id INTEGER NOT NULL REFERENCES votings(id) ON DELETE CASCADE,
		number INTEGER NOT NULL,
		option TEXT NOT NULL,
		PRIMARY KEY (voting_id, number)
	);
	CREATE TABLE IF NOT EXISTS voting_auths (
		voting_id INTEGER NOT NULL REFERENCES votings(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		url TEXT NOT NULL,
		name TEXT NOT NULL,
		is_self INTEGER NOT NULL,
		PRIMARY KEY (voting_id, position)
	);
	CREATE TABLE IF NOT EXISTS census (
		voting_id INTEGER NOT NULL REFERENCES votings(id) ON DELETE CASCADE,
		voter_id INTEGER NOT NULL,
		PRIMARY KEY (voting_id, voter_id)
	);
	CREATE TABLE IF NOT EXISTS ballots (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		voting_id INTEGER NOT NULL REFERENCES votings(id) ON DELETE CASCADE,
		voter_id INTEGER NOT NULL,
		a TEXT NOT NULL,
		b TEXT NOT NULL,
		receipt TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (voting_id, voter_id)
	);
`

// NewSQLiteStorage opens (and creates if needed) the database at path
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate&_busy_timeout=5000&_foreign_keys=1")
	if err != nil {
		return nil, err
	}
	// one writer at a time is all sqlite allows anyway
	db.SetMaxOpenConns(1)
	if _, err = db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timeFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func nullJSON(v interface{}, isNil bool) (sql.NullString, error) {
	if isNil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func (s *SQLiteStorage) CreateVoting(ctx context.Context, v *voting.Voting) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO votings (name, description, question, is_yes_no, status)
		             VALUES (?,    ?,           ?,        ?,         ?)
	`, v.Name, v.Desc, v.Question.Desc, v.Question.IsYesNo, v.Status.String())
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	opt, err := tx.PrepareContext(ctx, `INSERT INTO question_options (voting_id, number, option) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer opt.Close()
	for _, o := range v.Question.Options {
		if _, err := opt.ExecContext(ctx, id, o.Number, o.Option); err != nil {
			return err
		}
	}

	auth, err := tx.PrepareContext(ctx, `INSERT INTO voting_auths (voting_id, position, url, name, is_self) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer auth.Close()
	for i, a := range v.Auths {
		if _, err := auth.ExecContext(ctx, id, i, a.URL, a.Name, a.IsSelf); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	v.ID = id
	return nil
}

// queryer is the common part of *sql.DB and *sql.Tx we need
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *SQLiteStorage) Voting(ctx context.Context, id int64) (*voting.Voting, error) {
	return loadVoting(ctx, s.db, id)
}

func loadVoting(ctx context.Context, q queryer, id int64) (*voting.Voting, error) {
	v := &voting.Voting{ID: id}
	var (
		status              string
		start, end          sql.NullInt64
		pk, tally, postproc sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT name, description, question, is_yes_no, status, start_date, end_date, pub_key, tally, postproc, file
		FROM votings
		WHERE id = ?
	`, id).Scan(
		&v.Name, &v.Desc, &v.Question.Desc, &v.Question.IsYesNo, &status,
		&start, &end, &pk, &tally, &postproc, &v.File,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, voting.ErrVotingNotFound
	}
	if err != nil {
		return nil, err
	}
	if v.Status, err = voting.ParseStatus(status); err != nil {
		return nil, err
	}
	v.StartDate, v.EndDate = timeFromNull(start), timeFromNull(end)
	if pk.Valid {
		v.PublicKey = &elgamal.PublicKey{}
		if err := json.Unmarshal([]byte(pk.String), v.PublicKey); err != nil {
			return nil, fmt.Errorf("voting %d public key: %w", id, err)
		}
	}
	if tally.Valid {
		if err := json.Unmarshal([]byte(tally.String), &v.Tally); err != nil {
			return nil, fmt.Errorf("voting %d tally: %w", id, err)
		}
	}
	if postproc.Valid {
		if err := json.Unmarshal([]byte(postproc.String), &v.PostProc); err != nil {
			return nil, fmt.Errorf("voting %d postproc: %w", id, err)
		}
	}

	rows, err := q.QueryContext(ctx, `SELECT number, option FROM question_options WHERE voting_id = ? ORDER BY number`, id)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var o voting.QuestionOption
		if err := rows.Scan(&o.Number, &o.Option); err != nil {
			rows.Close()
			return nil, err
		}
		v.Question.Options = append(v.Question.Options, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = q.QueryContext(ctx, `SELECT url, name, is_self FROM voting_auths WHERE voting_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var a voting.Auth
		if err := rows.Scan(&a.URL, &a.Name, &a.IsSelf); err != nil {
			return nil, err
		}
		v.Auths = append(v.Auths, a)
	}
	return v, rows.Err()
}

func (s *SQLiteStorage) UpdateVoting(ctx context.Context, v *voting.Voting, expect voting.Status) error {
	pk, err := nullJSON(v.PublicKey, v.PublicKey == nil)
	if err != nil {
		return err
	}
	tally, err := nullJSON(v.Tally, v.Tally == nil)
	if err != nil {
		return err
	}
	postproc, err := nullJSON(v.PostProc, v.PostProc == nil)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM votings WHERE id = ?`, v.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return voting.ErrVotingNotFound
	}
	if err != nil {
		return err
	}
	if status != expect.String() {
		return voting.ErrConflict
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE votings
		SET status = ?, start_date = ?, end_date = ?, pub_key = ?, tally = ?, postproc = ?, file = ?
		WHERE id = ?
	`, v.Status.String(), nullTime(v.StartDate), nullTime(v.EndDate), pk, tally, postproc, v.File, v.ID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) AddCensus(ctx context.Context, votingID int64, voterIDs ...int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM votings WHERE id = ?`, votingID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, voting.ErrVotingNotFound
	}
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO census (voting_id, voter_id) VALUES (?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	n := 0
	for _, id := range voterIDs {
		res, err := stmt.ExecContext(ctx, votingID, id)
		if err != nil {
			return 0, err
		}
		c, _ := res.RowsAffected()
		n += int(c)
	}
	return n, tx.Commit()
}

func (s *SQLiteStorage) RemoveCensus(ctx context.Context, votingID int64, voterIDs ...int64) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM census WHERE voting_id = ? AND voter_id = ?`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	n := 0
	for _, id := range voterIDs {
		res, err := stmt.ExecContext(ctx, votingID, id)
		if err != nil {
			return 0, err
		}
		c, _ := res.RowsAffected()
		n += int(c)
	}
	return n, tx.Commit()
}

func (s *SQLiteStorage) IsEligible(ctx context.Context, votingID, voterID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM census WHERE voting_id = ? AND voter_id = ?`, votingID, voterID).Scan(&n)
	return n > 0, err
}

func (s *SQLiteStorage) InsertBallot(ctx context.Context, b *voting.Ballot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM votings WHERE id = ?`, b.VotingID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return voting.ErrVotingNotFound
	}
	if err != nil {
		return err
	}
	var eligible, voted int
	err = tx.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM census WHERE voting_id = ? AND voter_id = ?),
			(SELECT COUNT(*) FROM ballots WHERE voting_id = ? AND voter_id = ?)
	`, b.VotingID, b.VoterID, b.VotingID, b.VoterID).Scan(&eligible, &voted)
	if err != nil {
		return err
	}
	switch {
	case eligible == 0:
		return voting.ErrNotEligible
	case voted > 0:
		return voting.ErrAlreadyVoted
	case status != voting.Started.String():
		return voting.ErrVotingNotOpen
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ballots (id, voting_id, voter_id, a, b, receipt, created_at)
		             VALUES (?,  ?,         ?,        ?, ?, ?,       ?)
	`, b.ID.String(), b.VotingID, b.VoterID,
		crypto.BigIntToString(b.Vote.A), crypto.BigIntToString(b.Vote.B),
		b.Receipt, b.CreatedAt.UnixNano())
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return voting.ErrAlreadyVoted
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStorage) Ballots(ctx context.Context, votingID int64) ([]*voting.Ballot, error) {
	stmt, err := s.db.PrepareContext(ctx, `
		SELECT id, voter_id, a, b, receipt, created_at
		FROM ballots
		WHERE voting_id = ?
		ORDER BY seq
	`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()
	rows, err := stmt.QueryContext(ctx, votingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*voting.Ballot{}
	for rows.Next() {
		var (
			id, a, bb string
			created   int64
		)
		b := &voting.Ballot{VotingID: votingID, Vote: &elgamal.CipherText{}}
		if err := rows.Scan(&id, &b.VoterID, &a, &bb, &b.Receipt, &created); err != nil {
			return nil, err
		}
		if b.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		if b.Vote.A, err = crypto.BigIntFromString(a); err != nil {
			return nil, err
		}
		if b.Vote.B, err = crypto.BigIntFromString(bb); err != nil {
			return nil, err
		}
		b.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}
