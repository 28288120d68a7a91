package elgamal

import (
	"testing"

	big "github.com/ncw/gmp"
)

func TestSchnorrSignature(t *testing.T) {
	kp := GenerateKey(64)
	m := []byte("hello")
	sig := kp.Secret().CreateSignature(m)
	if err := kp.Public().VerifySignature(sig, m); err != nil {
		t.Fatalf("signature verification failed: %v", err)
	}
	if err := kp.Public().VerifySignature(sig, []byte("hellO")); err == nil {
		t.Fatal("signature verified for a different message")
	}
	sig.R.Add(sig.R, big.NewInt(1))
	if err := kp.Public().VerifySignature(sig, m); err == nil {
		t.Fatal("signature verified after tampering")
	}
}
