package trustee

import (
	"fmt"
	"math"

	big "github.com/ncw/gmp"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/thechriswalker/go-decide/crypto"
	"github.com/thechriswalker/go-decide/crypto/elgamal"
	"github.com/thechriswalker/go-decide/voting"
)

// Messages travel as google.protobuf.Struct so there is no generated code.
// Group elements are decimal strings, a Struct number is a double.
//
//	TallyRequest      {"voting": n, "pub_key": {"p","q","g","y"}, "ciphertexts": [{"a","b"}], "options": [n]}
//	TallyResult       {"tally": [n], "postproc": [{"number": n, "votes": n}]}
//	GenerateKeyRequest {"voting": n, "bits": n}
//	GenerateKeyResult  {"pub_key": {"p","q","g","y"}}

func publicKeyToMap(pk *elgamal.PublicKey) map[string]interface{} {
	return map[string]interface{}{
		"p": crypto.BigIntToString(pk.P),
		"q": crypto.BigIntToString(pk.Q),
		"g": crypto.BigIntToString(pk.G),
		"y": crypto.BigIntToString(pk.Y),
	}
}

func publicKeyFromMap(v interface{}) (*elgamal.PublicKey, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("pub_key: expecting an object")
	}
	pk := &elgamal.PublicKey{System: &elgamal.System{}}
	var err error
	for k, dst := range map[string]**big.Int{"p": &pk.P, "q": &pk.Q, "g": &pk.G, "y": &pk.Y} {
		if *dst, err = bigAt(m, k); err != nil {
			return nil, fmt.Errorf("pub_key: %w", err)
		}
	}
	if err := pk.System.Validate(); err != nil {
		return nil, err
	}
	if err := pk.Validate(); err != nil {
		return nil, err
	}
	return pk, nil
}

func bigAt(m map[string]interface{}, k string) (*big.Int, error) {
	s, ok := m[k].(string)
	if !ok {
		return nil, fmt.Errorf("field '%s' must be a string", k)
	}
	return crypto.BigIntFromString(s)
}

func intAt(m map[string]interface{}, k string) (int64, error) {
	return toInt(m[k], k)
}

func toInt(v interface{}, name string) (int64, error) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("field '%s' must be an integer", name)
	}
	return int64(f), nil
}

func listAt(m map[string]interface{}, k string) ([]interface{}, error) {
	v, ok := m[k]
	if !ok || v == nil {
		return nil, nil
	}
	l, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("field '%s' must be a list", k)
	}
	return l, nil
}

func tallyRequestToStruct(req *voting.TallyRequest) (*structpb.Struct, error) {
	cts := make([]interface{}, len(req.Ciphertexts))
	for i, ct := range req.Ciphertexts {
		cts[i] = map[string]interface{}{
			"a": crypto.BigIntToString(ct.A),
			"b": crypto.BigIntToString(ct.B),
		}
	}
	opts := make([]interface{}, len(req.Options))
	for i, n := range req.Options {
		opts[i] = n
	}
	m := map[string]interface{}{
		"voting":      req.VotingID,
		"ciphertexts": cts,
		"options":     opts,
	}
	if req.PublicKey != nil {
		m["pub_key"] = publicKeyToMap(req.PublicKey)
	}
	return structpb.NewStruct(m)
}

func tallyRequestFromStruct(s *structpb.Struct) (*voting.TallyRequest, error) {
	m := s.AsMap()
	req := &voting.TallyRequest{}
	var err error
	if req.VotingID, err = intAt(m, "voting"); err != nil {
		return nil, err
	}
	if v, ok := m["pub_key"]; ok && v != nil {
		if req.PublicKey, err = publicKeyFromMap(v); err != nil {
			return nil, err
		}
	}
	cts, err := listAt(m, "ciphertexts")
	if err != nil {
		return nil, err
	}
	req.Ciphertexts = make([]*elgamal.CipherText, len(cts))
	for i, v := range cts {
		c, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("ciphertexts[%d]: expecting an object", i)
		}
		ct := &elgamal.CipherText{}
		if ct.A, err = bigAt(c, "a"); err != nil {
			return nil, fmt.Errorf("ciphertexts[%d]: %w", i, err)
		}
		if ct.B, err = bigAt(c, "b"); err != nil {
			return nil, fmt.Errorf("ciphertexts[%d]: %w", i, err)
		}
		req.Ciphertexts[i] = ct
	}
	opts, err := listAt(m, "options")
	if err != nil {
		return nil, err
	}
	req.Options = make([]int, len(opts))
	for i, v := range opts {
		n, err := toInt(v, fmt.Sprintf("options[%d]", i))
		if err != nil {
			return nil, err
		}
		req.Options[i] = int(n)
	}
	return req, nil
}

func tallyResultToStruct(res *voting.TallyResult) (*structpb.Struct, error) {
	tally := make([]interface{}, len(res.Tally))
	for i, n := range res.Tally {
		tally[i] = n
	}
	pp := make([]interface{}, len(res.PostProc))
	for i, p := range res.PostProc {
		pp[i] = map[string]interface{}{"number": p.Number, "votes": p.Votes}
	}
	return structpb.NewStruct(map[string]interface{}{
		"tally":    tally,
		"postproc": pp,
	})
}

func tallyResultFromStruct(s *structpb.Struct) (*voting.TallyResult, error) {
	m := s.AsMap()
	res := &voting.TallyResult{}
	tally, err := listAt(m, "tally")
	if err != nil {
		return nil, err
	}
	res.Tally = make([]int64, len(tally))
	for i, v := range tally {
		if res.Tally[i], err = toInt(v, fmt.Sprintf("tally[%d]", i)); err != nil {
			return nil, err
		}
	}
	pp, err := listAt(m, "postproc")
	if err != nil {
		return nil, err
	}
	res.PostProc = make([]voting.PostProc, len(pp))
	for i, v := range pp {
		p, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("postproc[%d]: expecting an object", i)
		}
		n, err := intAt(p, "number")
		if err != nil {
			return nil, fmt.Errorf("postproc[%d]: %w", i, err)
		}
		votes, err := intAt(p, "votes")
		if err != nil {
			return nil, fmt.Errorf("postproc[%d]: %w", i, err)
		}
		res.PostProc[i] = voting.PostProc{Number: int(n), Votes: votes}
	}
	return res, nil
}

func generateKeyRequestToStruct(votingID int64, bits int) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{"voting": votingID, "bits": bits})
}

func generateKeyRequestFromStruct(s *structpb.Struct) (votingID int64, bits int, err error) {
	m := s.AsMap()
	if votingID, err = intAt(m, "voting"); err != nil {
		return 0, 0, err
	}
	b, err := intAt(m, "bits")
	if err != nil {
		return 0, 0, err
	}
	if b < 16 || b > 8192 {
		return 0, 0, fmt.Errorf("bits out of range: %d", b)
	}
	return votingID, int(b), nil
}

func publicKeyToStruct(pk *elgamal.PublicKey) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{"pub_key": publicKeyToMap(pk)})
}

func publicKeyFromStruct(s *structpb.Struct) (*elgamal.PublicKey, error) {
	return publicKeyFromMap(s.AsMap()["pub_key"])
}
