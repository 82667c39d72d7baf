// Package sigs provides the signature scheme used for evaluation
// non-repudiation: ECDSA over P-256 with a SHA3-256 payload digest. ECDSA
// signing is probabilistic, so two signatures over the same payload differ,
// but any of them verifies against the reviewer's registered public key.
package sigs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

var (
	// ErrBadKey is returned when key material does not decode to a P-256 key.
	ErrBadKey = errors.New("sigs: malformed key material")
)

// GenerateKeyPair returns a fresh P-256 signing key pair. Public key is
// PKIX/DER, private key is EC/DER. The private half is handed to the caller
// and never retained here.
func GenerateKeyPair() (pub, priv []byte, err error) {
	sk, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	priv, err = x509.MarshalECPrivateKey(sk)
	if err != nil {
		return nil, nil, err
	}
	pub, err = x509.MarshalPKIXPublicKey(&sk.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// CanonicalPayload builds the exact byte sequence that is signed for an
// evaluation. The verifier must reproduce it byte for byte, so the format is
// fixed: the submission id in canonical UUID text form, the grade, and the
// feedback, joined by single newlines. Grade and feedback carry no newline
// escaping because the delimiter count is fixed and the id comes first; any
// mutation of either field changes the payload and breaks the signature.
func CanonicalPayload(submissionID uuid.UUID, grade, feedback string) []byte {
	return []byte(strings.Join([]string{submissionID.String(), grade, feedback}, "\n"))
}

// Sign signs payload with the DER-encoded private key.
func Sign(privDER, payload []byte) ([]byte, error) {
	sk, err := x509.ParseECPrivateKey(privDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	d := sha3.Sum256(payload)
	sig, err := ecdsa.SignASN1(rand.Reader, sk, d[:])
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// Verify reports whether sig is a valid signature over payload under the
// DER-encoded public key. A malformed key is an error; a mere mismatch is
// (false, nil).
func Verify(pubDER, payload, sig []byte) (bool, error) {
	k, err := x509.ParsePKIXPublicKey(pubDER)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	pk, ok := k.(*ecdsa.PublicKey)
	if !ok {
		return false, ErrBadKey
	}
	d := sha3.Sum256(payload)
	return ecdsa.VerifyASN1(pk, d[:], sig), nil
}
