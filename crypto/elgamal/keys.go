package elgamal

import (
	big "github.com/ncw/gmp"

	"github.com/thechriswalker/go-decide/crypto/random"
)

type KeyPair struct {
	sk *SecretKey
}

// Secret gets the private part of this keypair
func (kp *KeyPair) Secret() *SecretKey {
	return kp.sk
}

// Public gets the public half of this keypair
func (kp *KeyPair) Public() *PublicKey {
	return kp.sk.PublicKey
}

// GenerateKeyPair creates a new random key pair
func GenerateKeyPair(sys *System) *KeyPair {
	return keypairForSecret(sys, random.NonZeroInt(sys.Q))
}

// GenerateKey creates a fresh system of the given size and a key pair in it.
// This is what a voting gets before it opens.
func GenerateKey(bits int) *KeyPair {
	return GenerateKeyPair(New(bits))
}

// KeyPairFromSecret wraps an already loaded secret key
func KeyPairFromSecret(sk *SecretKey) *KeyPair {
	return &KeyPair{sk: sk}
}

func keypairForSecret(sys *System, x *big.Int) (kp *KeyPair) {
	kp = new(KeyPair)
	y := new(big.Int).Exp(sys.G, x, sys.P)
	kp.sk = &SecretKey{
		PublicKey: &PublicKey{System: sys, Y: y},
		X:         x,
	}
	return
}
