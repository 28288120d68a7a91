package voting

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thechriswalker/go-decide/crypto/elgamal"
)

// ReportFolder is the folder, relative to the report directory, reports are written to
const ReportFolder = "ficheros"

// ReportPath is the file name of the report of a voting:
//
//	ficheros/{id}-{name} - {end_date as dd-mm-yy}.txt
//
// The voting name is kept as is except for path separators.
func ReportPath(v *Voting, loc *time.Location) (string, error) {
	if v.EndDate == nil {
		return "", fmt.Errorf("voting %d has no end date", v.ID)
	}
	if loc == nil {
		loc = time.UTC
	}
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(v.Name)
	return ReportFolder + "/" + strconv.FormatInt(v.ID, 10) + "-" + name +
		" - " + v.EndDate.In(loc).Format("02-01-06") + ".txt", nil
}

// reportBody is the part of the voting the digest is computed over
type reportBody struct {
	ID       int64      `json:"id"`
	Name     string     `json:"name"`
	Tally    []int64    `json:"tally"`
	PostProc []PostProc `json:"postproc"`
}

// Report is a written result
type Report struct {
	Path      string
	Digest    []byte
	Signature *elgamal.Signature
}

// ReportWriter writes voting results under a directory
type ReportWriter struct {
	dir string
	loc *time.Location
}

func NewReportWriter(dir string, loc *time.Location) *ReportWriter {
	if dir == "" {
		dir = "."
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ReportWriter{dir: dir, loc: loc}
}

// Location is where a report path recorded on a voting lives on disk
func (w *ReportWriter) Location(file string) string {
	return filepath.Join(w.dir, filepath.FromSlash(file))
}

// Remove deletes a report. A missing file is not an error.
func (w *ReportWriter) Remove(file string) error {
	if err := os.Remove(w.Location(file)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Digest is the SHA-256 of the canonical JSON of the voting result
func Digest(v *Voting) ([]byte, error) {
	return canonicalJSON{}.Hash(nil, reportBody{ID: v.ID, Name: v.Name, Tally: v.Tally, PostProc: v.PostProc})
}

// Write creates the report for a tallied voting. If signer is not nil the digest is
// signed with the voting key. The file appears atomically, or not at all.
func (w *ReportWriter) Write(ctx context.Context, v *Voting, signer Signer) (*Report, error) {
	path, err := ReportPath(v, w.loc)
	if err != nil {
		return nil, err
	}
	digest, err := Digest(v)
	if err != nil {
		return nil, fmt.Errorf("report digest: %w", err)
	}
	r := &Report{Path: path, Digest: digest}
	if signer != nil {
		r.Signature, err = signer.SignReport(ctx, v.ID, digest)
		if err != nil {
			// the result is still valid without a signature
			log.Warn().Err(err).Int64("voting", v.ID).Msg("could not sign report")
			r.Signature = nil
		}
	}

	full := w.Location(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".report-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())
	if err := w.render(tmp, v, r); err != nil {
		tmp.Close()
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return nil, err
	}
	return r, nil
}

func (w *ReportWriter) render(out io.Writer, v *Voting, r *Report) error {
	ew := &errWriter{w: out}
	ew.printf("Voting %d: %s\n", v.ID, v.Name)
	if v.Desc != "" {
		ew.printf("%s\n", v.Desc)
	}
	ew.printf("\nQuestion: %s\n", v.Question.Desc)
	if v.StartDate != nil {
		ew.printf("Started: %s\n", v.StartDate.In(w.loc).Format(time.RFC3339))
	}
	ew.printf("Stopped: %s\n", v.EndDate.In(w.loc).Format(time.RFC3339))
	ew.printf("Ballots counted: %d\n\n", len(v.Tally))

	votes := make(map[int]int64, len(v.PostProc))
	for _, pp := range v.PostProc {
		votes[pp.Number] = pp.Votes
	}
	ew.printf("Results:\n")
	for _, o := range v.Question.Options {
		ew.printf("  %d. %s: %d\n", o.Number, o.Option, votes[o.Number])
	}
	ew.printf("\nTally: %v\n", v.Tally)
	ew.printf("Digest (sha256): %s\n", hex.EncodeToString(r.Digest))
	if r.Signature != nil {
		ew.printf("Signature: c=%s r=%s\n", r.Signature.C, r.Signature.R)
	} else {
		ew.printf("Signature: none\n")
	}
	return ew.err
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}

// VerifyReport checks a signature made over the voting digest
func VerifyReport(v *Voting, sig *elgamal.Signature) error {
	if v.PublicKey == nil {
		return errors.New("voting has no public key")
	}
	digest, err := Digest(v)
	if err != nil {
		return err
	}
	return v.PublicKey.VerifySignature(sig, digest)
}
