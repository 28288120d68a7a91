// Package pgstore is the Postgres backend of the voting store, on gorm.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/thechriswalker/go-decide/crypto"
	"github.com/thechriswalker/go-decide/crypto/elgamal"
	"github.com/thechriswalker/go-decide/voting"
)

type Store struct {
	db *gorm.DB
}

var _ voting.Store = (*Store)(nil)

// Open connects to postgres and makes sure the tables exist
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("resolve postgres sql db handle: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := db.AutoMigrate(&votingModel{}, &optionModel{}, &authModel{}, &censusModel{}, &ballotModel{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) CreateVoting(ctx context.Context, v *voting.Voting) error {
	row := votingModelFromEntity(v)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		for _, o := range v.Question.Options {
			if err := tx.Create(&optionModel{VotingID: row.ID, Number: o.Number, Option: o.Option}).Error; err != nil {
				return err
			}
		}
		for i, a := range v.Auths {
			if err := tx.Create(&authModel{VotingID: row.ID, Position: i, URL: a.URL, Name: a.Name, IsSelf: a.IsSelf}).Error; err != nil {
				return err
			}
		}
		v.ID = row.ID
		return nil
	})
}

func (s *Store) Voting(ctx context.Context, id int64) (*voting.Voting, error) {
	db := s.db.WithContext(ctx)
	var row votingModel
	if err := db.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, voting.ErrVotingNotFound
		}
		return nil, err
	}
	v, err := row.toEntity()
	if err != nil {
		return nil, err
	}
	var options []optionModel
	if err := db.Where("voting_id = ?", id).Order("number ASC").Find(&options).Error; err != nil {
		return nil, err
	}
	for _, o := range options {
		v.Question.Options = append(v.Question.Options, voting.QuestionOption{Number: o.Number, Option: o.Option})
	}
	var auths []authModel
	if err := db.Where("voting_id = ?", id).Order("position ASC").Find(&auths).Error; err != nil {
		return nil, err
	}
	for _, a := range auths {
		v.Auths = append(v.Auths, voting.Auth{URL: a.URL, Name: a.Name, IsSelf: a.IsSelf})
	}
	return v, nil
}

func (s *Store) UpdateVoting(ctx context.Context, v *voting.Voting, expect voting.Status) error {
	upd := votingModelFromEntity(v)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row votingModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, v.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return voting.ErrVotingNotFound
		}
		if err != nil {
			return err
		}
		if row.Status != expect.String() {
			return voting.ErrConflict
		}
		return tx.Model(&votingModel{}).Where("id = ?", v.ID).Updates(map[string]interface{}{
			"status":     upd.Status,
			"start_date": upd.StartDate,
			"end_date":   upd.EndDate,
			"pub_key":    upd.PubKey,
			"tally":      upd.Tally,
			"postproc":   upd.PostProc,
			"file":       upd.File,
		}).Error
	})
}

func (s *Store) AddCensus(ctx context.Context, votingID int64, voterIDs ...int64) (int, error) {
	n := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row votingModel
		if err := tx.Select("id").First(&row, votingID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return voting.ErrVotingNotFound
			}
			return err
		}
		for _, id := range voterIDs {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&censusModel{VotingID: votingID, VoterID: id})
			if res.Error != nil {
				return res.Error
			}
			n += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) RemoveCensus(ctx context.Context, votingID int64, voterIDs ...int64) (int, error) {
	if len(voterIDs) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("voting_id = ? AND voter_id IN ?", votingID, voterIDs).
		Delete(&censusModel{})
	return int(res.RowsAffected), res.Error
}

func (s *Store) IsEligible(ctx context.Context, votingID, voterID int64) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&censusModel{}).
		Where("voting_id = ? AND voter_id = ?", votingID, voterID).
		Count(&n).Error
	return n > 0, err
}

func (s *Store) InsertBallot(ctx context.Context, b *voting.Ballot) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// a shared lock on the voting row keeps its status fixed until we commit
		var row votingModel
		err := tx.Clauses(clause.Locking{Strength: "SHARE"}).Select("id", "status").First(&row, b.VotingID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return voting.ErrVotingNotFound
		}
		if err != nil {
			return err
		}
		var eligible, voted int64
		if err := tx.Model(&censusModel{}).Where("voting_id = ? AND voter_id = ?", b.VotingID, b.VoterID).Count(&eligible).Error; err != nil {
			return err
		}
		if eligible == 0 {
			return voting.ErrNotEligible
		}
		if err := tx.Model(&ballotModel{}).Where("voting_id = ? AND voter_id = ?", b.VotingID, b.VoterID).Count(&voted).Error; err != nil {
			return err
		}
		if voted > 0 {
			return voting.ErrAlreadyVoted
		}
		if row.Status != voting.Started.String() {
			return voting.ErrVotingNotOpen
		}
		err = tx.Create(&ballotModel{
			ID:        b.ID.String(),
			VotingID:  b.VotingID,
			VoterID:   b.VoterID,
			A:         crypto.BigIntToString(b.Vote.A),
			B:         crypto.BigIntToString(b.Vote.B),
			Receipt:   b.Receipt,
			CreatedAt: b.CreatedAt,
		}).Error
		if isUniqueViolation(err) {
			return voting.ErrAlreadyVoted
		}
		return err
	})
}

func (s *Store) Ballots(ctx context.Context, votingID int64) ([]*voting.Ballot, error) {
	var rows []ballotModel
	if err := s.db.WithContext(ctx).
		Where("voting_id = ?", votingID).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		log.Error().Err(err).Int64("voting", votingID).Msg("loading ballots failed")
		return nil, err
	}
	out := make([]*voting.Ballot, 0, len(rows))
	for _, r := range rows {
		b, err := r.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

type votingModel struct {
	ID          int64      `gorm:"column:id;primaryKey;autoIncrement"`
	Name        string     `gorm:"column:name;not null"`
	Description string     `gorm:"column:description;not null"`
	Question    string     `gorm:"column:question;not null"`
	IsYesNo     bool       `gorm:"column:is_yes_no"`
	Status      string     `gorm:"column:status;not null"`
	StartDate   *time.Time `gorm:"column:start_date"`
	EndDate     *time.Time `gorm:"column:end_date"`
	PubKey      *string    `gorm:"column:pub_key"`
	Tally       *string    `gorm:"column:tally"`
	PostProc    *string    `gorm:"column:postproc"`
	File        string     `gorm:"column:file"`
}

func (votingModel) TableName() string {
	return "votings"
}

func jsonColumn(v interface{}, isNil bool) *string {
	if isNil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

func votingModelFromEntity(v *voting.Voting) votingModel {
	return votingModel{
		ID:          v.ID,
		Name:        v.Name,
		Description: v.Desc,
		Question:    v.Question.Desc,
		IsYesNo:     v.Question.IsYesNo,
		Status:      v.Status.String(),
		StartDate:   v.StartDate,
		EndDate:     v.EndDate,
		PubKey:      jsonColumn(v.PublicKey, v.PublicKey == nil),
		Tally:       jsonColumn(v.Tally, v.Tally == nil),
		PostProc:    jsonColumn(v.PostProc, v.PostProc == nil),
		File:        v.File,
	}
}

func (m votingModel) toEntity() (*voting.Voting, error) {
	v := &voting.Voting{
		ID:        m.ID,
		Name:      m.Name,
		Desc:      m.Description,
		Question:  voting.Question{Desc: m.Question, IsYesNo: m.IsYesNo},
		StartDate: m.StartDate,
		EndDate:   m.EndDate,
		File:      m.File,
	}
	var err error
	if v.Status, err = voting.ParseStatus(m.Status); err != nil {
		return nil, err
	}
	if m.PubKey != nil {
		v.PublicKey = &elgamal.PublicKey{}
		if err := json.Unmarshal([]byte(*m.PubKey), v.PublicKey); err != nil {
			return nil, fmt.Errorf("voting %d public key: %w", m.ID, err)
		}
	}
	if m.Tally != nil {
		if err := json.Unmarshal([]byte(*m.Tally), &v.Tally); err != nil {
			return nil, fmt.Errorf("voting %d tally: %w", m.ID, err)
		}
	}
	if m.PostProc != nil {
		if err := json.Unmarshal([]byte(*m.PostProc), &v.PostProc); err != nil {
			return nil, fmt.Errorf("voting %d postproc: %w", m.ID, err)
		}
	}
	return v, nil
}

type optionModel struct {
	VotingID int64  `gorm:"column:voting_id;primaryKey;autoIncrement:false"`
	Number   int    `gorm:"column:number;primaryKey;autoIncrement:false"`
	Option   string `gorm:"column:option;not null"`
}

func (optionModel) TableName() string {
	return "question_options"
}

type authModel struct {
	VotingID int64  `gorm:"column:voting_id;primaryKey;autoIncrement:false"`
	Position int    `gorm:"column:position;primaryKey;autoIncrement:false"`
	URL      string `gorm:"column:url;not null"`
	Name     string `gorm:"column:name;not null"`
	IsSelf   bool   `gorm:"column:is_self"`
}

func (authModel) TableName() string {
	return "voting_auths"
}

type censusModel struct {
	VotingID int64 `gorm:"column:voting_id;primaryKey;autoIncrement:false"`
	VoterID  int64 `gorm:"column:voter_id;primaryKey;autoIncrement:false"`
}

func (censusModel) TableName() string {
	return "census"
}

type ballotModel struct {
	Seq       int64     `gorm:"column:seq;primaryKey;autoIncrement"`
	ID        string    `gorm:"column:id;uniqueIndex;not null"`
	VotingID  int64     `gorm:"column:voting_id;uniqueIndex:ballots_voting_voter;not null"`
	VoterID   int64     `gorm:"column:voter_id;uniqueIndex:ballots_voting_voter;not null"`
	A         string    `gorm:"column:a;not null"`
	B         string    `gorm:"column:b;not null"`
	Receipt   string    `gorm:"column:receipt;not null"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (ballotModel) TableName() string {
	return "ballots"
}

func (m ballotModel) toEntity() (*voting.Ballot, error) {
	id, err := uuid.Parse(m.ID)
	if err != nil {
		return nil, err
	}
	a, err := crypto.BigIntFromString(m.A)
	if err != nil {
		return nil, err
	}
	b, err := crypto.BigIntFromString(m.B)
	if err != nil {
		return nil, err
	}
	return &voting.Ballot{
		ID:        id,
		VotingID:  m.VotingID,
		VoterID:   m.VoterID,
		Vote:      &elgamal.CipherText{A: a, B: b},
		Receipt:   m.Receipt,
		CreatedAt: m.CreatedAt.UTC(),
	}, nil
}
