package elgamal

import (
	"encoding/json"
	"fmt"

	big "github.com/ncw/gmp"

	"github.com/thechriswalker/go-decide/crypto"
)

// The JSON shapes here are the ones ballots and voting records use on the wire:
//
//	system:     {"p": .., "q": .., "g": ..}
//	public key: {"p": .., "q": .., "g": .., "y": ..}
//	secret key: {"p": .., "q": .., "g": .., "y": .., "x": ..}
//	ciphertext: {"a": .., "b": ..}
//
// All values are decimal integers (see crypto.BigIntToJSON).
//
/////////////////// Helpers ///////////////////

type jsonObject map[string]json.RawMessage

func bigIntAtKey(k string, m jsonObject) (*big.Int, error) {
	v, ok := m[k]
	if !ok {
		return nil, fmt.Errorf("No field '%s' in JSON object", k)
	}
	n, err := crypto.BigIntFromJSON(v)
	if err != nil {
		return nil, fmt.Errorf("Invalid value at field '%s': %w", k, err)
	}
	return n, nil
}

func getMap(b []byte) (jsonObject, error) {
	m := jsonObject{}
	err := json.Unmarshal(b, &m)
	return m, err
}

/////////////////// type System ///////////////////

func (s *System) toJSON() jsonObject {
	return jsonObject{
		"p": crypto.BigIntToJSON(s.P),
		"q": crypto.BigIntToJSON(s.Q),
		"g": crypto.BigIntToJSON(s.G),
	}
}

func (s *System) fromJSON(m jsonObject) (err error) {
	// it should have P Q G
	s.P, err = bigIntAtKey("p", m)
	if err != nil {
		return err
	}
	s.Q, err = bigIntAtKey("q", m)
	if err != nil {
		return err
	}
	s.G, err = bigIntAtKey("g", m)
	if err != nil {
		return err
	}
	// now validate that those params are actually valid
	return s.Validate()
}

func (s *System) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.toJSON())
}

func (s *System) UnmarshalJSON(b []byte) error {
	m, err := getMap(b)
	if err != nil {
		return err
	}
	return s.fromJSON(m)
}

/////////////////// type Public Key ///////////////////

func (pk *PublicKey) toJSON() jsonObject {
	m := jsonObject{}
	if pk.System != nil {
		m = pk.System.toJSON()
	}
	m["y"] = crypto.BigIntToJSON(pk.Y)
	return m
}

func (pk *PublicKey) fromJSON(m jsonObject) (err error) {
	pk.System = &System{}
	if err = pk.System.fromJSON(m); err != nil {
		return err
	}
	pk.Y, err = bigIntAtKey("y", m)
	if err != nil {
		return err
	}
	return pk.Validate()
}

func (pk *PublicKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(pk.toJSON())
}

func (pk *PublicKey) UnmarshalJSON(b []byte) error {
	m, err := getMap(b)
	if err != nil {
		return err
	}
	return pk.fromJSON(m)
}

/////////////////// type Secret Key ///////////////////

func (sk *SecretKey) toJSON() jsonObject {
	m := sk.PublicKey.toJSON()
	m["x"] = crypto.BigIntToJSON(sk.X)
	return m
}

func (sk *SecretKey) fromJSON(m jsonObject) (err error) {
	sk.PublicKey = &PublicKey{}
	if err = sk.PublicKey.fromJSON(m); err != nil {
		return err
	}
	sk.X, err = bigIntAtKey("x", m)
	if err != nil {
		return err
	}
	return sk.Validate()
}

func (sk *SecretKey) MarshalJSON() ([]byte, error) {
	return json.Marshal(sk.toJSON())
}

func (sk *SecretKey) UnmarshalJSON(b []byte) error {
	m, err := getMap(b)
	if err != nil {
		return err
	}
	return sk.fromJSON(m)
}

/////////////////// type CipherText ///////////////////

func (ct *CipherText) toJSON() jsonObject {
	return jsonObject{
		"a": crypto.BigIntToJSON(ct.A),
		"b": crypto.BigIntToJSON(ct.B),
	}
}

func (ct *CipherText) MarshalJSON() ([]byte, error) {
	return json.Marshal(ct.toJSON())
}

// UnmarshalJSON does not range check, as the group is not known here.
// Use Validate with the voting public key for that.
func (ct *CipherText) UnmarshalJSON(b []byte) error {
	m, err := getMap(b)
	if err != nil {
		return err
	}
	ct.A, err = bigIntAtKey("a", m)
	if err != nil {
		return err
	}
	ct.B, err = bigIntAtKey("b", m)
	return err
}

/////////////////// type Signature ///////////////////

func (s *Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonObject{
		"c": crypto.BigIntToJSON(s.C),
		"r": crypto.BigIntToJSON(s.R),
	})
}

func (s *Signature) UnmarshalJSON(b []byte) error {
	m, err := getMap(b)
	if err != nil {
		return err
	}
	s.C, err = bigIntAtKey("c", m)
	if err != nil {
		return err
	}
	s.R, err = bigIntAtKey("r", m)
	return err
}

////////////////// type KeyPair /////////////////////

func (kp *KeyPair) MarshalJSON() ([]byte, error) {
	return json.Marshal(kp.sk)
}

func (kp *KeyPair) UnmarshalJSON(b []byte) error {
	kp.sk = &SecretKey{}
	return json.Unmarshal(b, kp.sk)
}
