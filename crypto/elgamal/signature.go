package elgamal

import (
	"bytes"
	"fmt"

	big "github.com/ncw/gmp"

	"github.com/thechriswalker/go-decide/crypto/random"
)

// Signature is a Schnorr signature over an arbitrary message
// based on https://tools.ietf.org/html/rfc8235
type Signature struct {
	C, R *big.Int
}

// defined on System so it is present on public and private keys
func (s *System) createSigningChallenge(V, A *big.Int, msg []byte) *big.Int {
	// we concat a fixed prefix, the randomness and the message
	var commit bytes.Buffer
	fmt.Fprintf(&commit, "sig|%x|%x|", V.Bytes(), A.Bytes())
	commit.Write(msg)
	// then hash and return the big.Int
	return random.Oracle(commit.Bytes(), s.Q)
}

// CreateSignature signs the given message with this key using Schnorr
func (sk *SecretKey) CreateSignature(msg []byte) (sig *Signature) {
	sig = new(Signature)
	v := random.Int(sk.Q)
	V := new(big.Int).Exp(sk.G, v, sk.P)
	sig.C = sk.createSigningChallenge(V, sk.Y, msg)
	// the response is now (v - sk.X * C) % Q
	sig.R = new(big.Int).Mul(sk.X, sig.C)
	sig.R.Sub(v, sig.R)
	sig.R.Mod(sig.R, sk.Q)
	return
}

// VerifySignature verifies a signature on a message
func (pk *PublicKey) VerifySignature(sig *Signature, message []byte) error {
	if err := pk.Validate(); err != nil {
		return fmt.Errorf("Signature invalid: public key not valid: %w", err)
	}
	if sig == nil || sig.C == nil || sig.R == nil {
		return fmt.Errorf("Signature invalid: missing components")
	}
	// g^r * y^c % p
	V := new(big.Int).Exp(pk.G, sig.R, pk.P)
	Ac := new(big.Int).Exp(pk.Y, sig.C, pk.P)
	V.Mul(V, Ac)
	V.Mod(V, pk.P)
	expected := pk.createSigningChallenge(V, pk.Y, message)
	if expected.Cmp(sig.C) != 0 {
		return fmt.Errorf("Signature invalid: calculated challenge does not match expected")
	}
	return nil
}
