package elgamal

import (
	"errors"
	"fmt"

	big "github.com/ncw/gmp"

	"github.com/thechriswalker/go-decide/crypto/random"
)

// ErrEncoding is returned for plaintexts or ciphertext components that
// are not representable in the group. They are rejected, never reduced.
var ErrEncoding = errors.New("value outside of the group range")

// System represents the parameters for an ElGamal Cryptosystem
type System struct {
	P, Q, G *big.Int
}

var (
	bigZero = big.NewInt(0)
	bigOne  = big.NewInt(1)
)

// New creates a new ElGamal system with a prime of n-bits
// this is very slow for large primes (>1024bits)
// and sub-prime q = (p-1)/2
func New(bits int) (sys *System) {
	sys = &System{}
	sys.P, sys.Q = random.SafePrimes(bits)
	// find g, any element of order q will do (but not the identity)
	var test big.Int
	for {
		sys.G = random.Int(sys.P)
		if sys.G.Cmp(bigOne) != 1 {
			continue
		}
		if test.Exp(sys.G, sys.Q, sys.P).Cmp(bigOne) == 0 {
			break
		}
	}
	return
}

// Validate checks the system params are OK. That is that
// P = Q * 2 +1 and that P and Q are (probably) prime
// and that G satisfies the exponentation test
func (s *System) Validate() error {
	if s.P == nil || s.Q == nil || s.G == nil {
		return fmt.Errorf("ElGamal System Invalid: missing parameters")
	}
	if !s.P.ProbablyPrime(20) {
		return fmt.Errorf("ElGamal System Invalid: p is not prime")
	}
	if !s.Q.ProbablyPrime(20) {
		return fmt.Errorf("ElGamal System Invalid: q is not prime")
	}
	// check that q divides p-1
	pMinusOne := new(big.Int).Sub(s.P, bigOne)
	if new(big.Int).Rem(pMinusOne, s.Q).Cmp(bigZero) != 0 {
		return fmt.Errorf("ElGamal System Invalid: q does not divide p-1")
	}
	// now check g^q = 1 mod p
	if new(big.Int).Exp(s.G, s.Q, s.P).Cmp(bigOne) != 0 {
		return fmt.Errorf("ElGamal System invalid: g^q != 1 mod p")
	}
	return nil
}

// Bits is the size of the modulus
func (s *System) Bits() int {
	return s.P.BitLen()
}

// inRange is the test for any element we accept from outside: 1 <= x <= p-1
func (s *System) inRange(x *big.Int) bool {
	return x != nil && x.Cmp(bigOne) != -1 && x.Cmp(s.P) == -1
}

// PublicKey is an ElGamal public key for encryption and signature verification
type PublicKey struct {
	*System
	Y *big.Int
}

func (pk *PublicKey) String() string {
	return fmt.Sprintf("pk:Y=%s", pk.Y)
}

// Equals compares the full key material, including the system
func (pk *PublicKey) Equals(other *PublicKey) bool {
	if pk == nil || other == nil || pk.System == nil || other.System == nil {
		return false
	}
	return pk.P.Cmp(other.P) == 0 &&
		pk.G.Cmp(other.G) == 0 &&
		pk.Y.Cmp(other.Y) == 0
}

// SecretKey is an ElGamal secret key for decryption and signature creation
type SecretKey struct {
	*PublicKey
	X *big.Int
}

func (sk *SecretKey) String() string {
	// never print x
	return fmt.Sprintf("sk:Y=%s", sk.Y)
}

// CipherText is the output of encryption of a plaintext
type CipherText struct {
	A, B *big.Int
}

func (ct *CipherText) Equals(other *CipherText) bool {
	cmpA, cmpB := ct.A.Cmp(other.A), ct.B.Cmp(other.B)
	return cmpA == 0 && cmpB == 0
}

func (ct *CipherText) String() string {
	return fmt.Sprintf("CipherText[A=%s, B=%s]", ct.A, ct.B)
}

// Validate that both components are group elements for the given key.
func (ct *CipherText) Validate(pk *PublicKey) error {
	if pk == nil || pk.System == nil {
		return fmt.Errorf("CipherText invalid: No ElGamal System Parameters")
	}
	if !pk.inRange(ct.A) {
		return fmt.Errorf("CipherText invalid: a: %w", ErrEncoding)
	}
	if !pk.inRange(ct.B) {
		return fmt.Errorf("CipherText invalid: b: %w", ErrEncoding)
	}
	return nil
}

// Encrypt a plaintext with the public key. Each call picks fresh randomness
// so two encryptions of the same option are unlinkable.
// Plaintexts are in [1, q] and are encoded into the order q subgroup first.
func (pk *PublicKey) Encrypt(pt *big.Int) (*CipherText, error) {
	if pt.Cmp(bigOne) == -1 || pt.Cmp(pk.Q) == 1 {
		return nil, fmt.Errorf("plaintext %s: %w", pt, ErrEncoding)
	}
	return pk.encrypt(pk.encode(pt), random.NonZeroInt(pk.Q)), nil
}

// encode maps m in [1, q] to m or p-m, whichever is a quadratic residue.
// -1 is a non-residue for a safe prime p, so exactly one of them is.
func (s *System) encode(m *big.Int) *big.Int {
	if s.isMember(m) {
		return new(big.Int).Set(m)
	}
	return new(big.Int).Sub(s.P, m)
}

// decode reverses encode
func (s *System) decode(x *big.Int) *big.Int {
	if x.Cmp(s.Q) == 1 {
		return new(big.Int).Sub(s.P, x)
	}
	return new(big.Int).Set(x)
}

// isMember reports whether x is in the order q subgroup
func (s *System) isMember(x *big.Int) bool {
	return new(big.Int).Exp(x, s.Q, s.P).Cmp(bigOne) == 0
}

// EncryptInt is Encrypt for small plaintexts like option numbers
func (pk *PublicKey) EncryptInt(m int64) (*CipherText, error) {
	return pk.Encrypt(big.NewInt(m))
}

func (pk *PublicKey) encrypt(pt *big.Int, r *big.Int) (ct *CipherText) {
	ct = new(CipherText)
	// set alpha to g^r mod p
	ct.A = new(big.Int).Exp(pk.G, r, pk.P)
	// set beta to (m * (h^r mod p)) mod p
	ct.B = new(big.Int).Exp(pk.Y, r, pk.P) // h^r mod p
	ct.B.Mul(ct.B, pt)                     // m * prev
	ct.B.Mod(ct.B, pk.P)                   // prev mod p
	return
}

// Validate that the Y value is within range for the system params
func (pk *PublicKey) Validate() error {
	// all we know is that the Y value should be an element of Z_p.
	// and we should know the system by this time in order to verify
	if pk.System == nil {
		return fmt.Errorf("PublicKey invalid: No ElGamal System Parameters")
	}
	if pk.Y == nil {
		return fmt.Errorf("PublicKey invalid: no y")
	}
	// our signature scheme requires y \in [1, p-1]
	if pk.Y.Cmp(bigOne) == -1 {
		return fmt.Errorf("PublicKey invalid: y < 1")
	}
	if pk.Y.Cmp(pk.P) != -1 {
		return fmt.Errorf("PublicKey invalid: y > p-1")
	}
	return nil
}

// Decrypt a ciphertext with this single key
func (sk *SecretKey) Decrypt(ct *CipherText) (pt *big.Int) {
	pt = new(big.Int)
	// s = alpha^x
	pt.Exp(ct.A, sk.X, sk.P)
	// s^-1
	pt.ModInverse(pt, sk.P)
	// s^-1 * beta
	pt.Mul(pt, ct.B)
	pt.Mod(pt, sk.P)
	return
}

// DecryptInt decrypts a ciphertext expected to hold a small integer.
// Anything that is not the encoding of one is ErrEncoding.
func (sk *SecretKey) DecryptInt(ct *CipherText) (int64, error) {
	if err := ct.Validate(sk.PublicKey); err != nil {
		return 0, err
	}
	x := sk.Decrypt(ct)
	if !sk.isMember(x) {
		return 0, fmt.Errorf("plaintext is not in the subgroup: %w", ErrEncoding)
	}
	pt := sk.decode(x)
	if pt.BitLen() > 63 {
		return 0, fmt.Errorf("plaintext does not fit an int64: %w", ErrEncoding)
	}
	return pt.Int64(), nil
}

// Validate that the X value is within range for the system params
// and that the PublicKey is correct (or generate it!)
func (sk *SecretKey) Validate() error {
	if sk.PublicKey == nil || sk.System == nil {
		return fmt.Errorf("SecretKey invalid: No ElGamal System Parameters")
	}
	// the secret key is from range [0, q-1]
	if sk.X.Cmp(bigZero) == -1 {
		return fmt.Errorf("SecretKey invalid: x < 0")
	}
	if sk.X.Cmp(sk.Q) != -1 {
		return fmt.Errorf("SecretKey invalid: x > q-1")
	}
	expected := new(big.Int).Exp(sk.G, sk.X, sk.P)
	if sk.Y == nil {
		sk.Y = expected
		return nil
	}
	if err := sk.PublicKey.Validate(); err != nil {
		return fmt.Errorf("SecretKey invalid: %w", err)
	}
	if expected.Cmp(sk.Y) != 0 {
		return fmt.Errorf("SecretKey invalid: y != g^x")
	}
	return nil
}
