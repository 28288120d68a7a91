package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"

	big "github.com/ncw/gmp"
)

// Ballots arrive from clients that speak plain JSON integers, like `{"a": 1234, "b": 5678}`,
// so unlike the usual base64 encoding of bytes we keep the decimal representation on the wire.
// Decoding also accepts the same digits wrapped in a string, as some JSON libraries refuse to
// emit integers larger than 2^53.

// BigIntToJSON returns the raw JSON number for x
func BigIntToJSON(x *big.Int) json.RawMessage {
	if x == nil {
		return json.RawMessage("null")
	}
	return json.RawMessage(x.String())
}

// BigIntFromJSON parses a JSON number (or a string holding one) into a big.Int
func BigIntFromJSON(raw json.RawMessage) (*big.Int, error) {
	b := bytes.TrimSpace(raw)
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		b = b[1 : len(b)-1]
	}
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil, fmt.Errorf("Expecting an integer, got: %q", raw)
	}
	n, ok := new(big.Int).SetString(string(b), 10)
	if !ok {
		return nil, fmt.Errorf("Expecting a base 10 integer, got: %q", raw)
	}
	return n, nil
}

// BigIntToString is the textual form used inside string-only containers (protobuf structs, sql columns)
func BigIntToString(x *big.Int) string {
	if x == nil {
		return ""
	}
	return x.String()
}

// BigIntFromString reverses BigIntToString
func BigIntFromString(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("Expecting a base 10 integer, got: %q", s)
	}
	return n, nil
}

// slice of *big.Int s
type BigIntSlice []*big.Int

func (s BigIntSlice) MarshalJSON() ([]byte, error) {
	raws := make([]json.RawMessage, len(s))
	for i, n := range s {
		raws[i] = BigIntToJSON(n)
	}
	return json.Marshal(raws)
}

func (s *BigIntSlice) UnmarshalJSON(b []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(b, &raws); err != nil {
		return err
	}
	bs := make(BigIntSlice, len(raws))
	for i := range raws {
		n, err := BigIntFromJSON(raws[i])
		if err != nil {
			return fmt.Errorf("index %d: %w", i, err)
		}
		bs[i] = n
	}
	*s = bs
	return nil
}
