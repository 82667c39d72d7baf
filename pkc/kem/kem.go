package kem

import (
	"io"

	"golang.org/x/crypto/sha3"

	"github.com/cloudflare/circl/kem/hybrid"
	"golang.org/x/crypto/hkdf"
)

// This package wraps the hybrid classical/post-quantum KEM we use to protect
// per-artifact content keys. Encapsulation against the recipient's public key
// yields a fresh shared secret and a ciphertext; the ciphertext is the
// "wrapped key" artifact, and only the private-key holder can recover the
// secret from it. The secret is never used raw: it passes through a
// CatKDF-style derivation (ETSI TS 103 744 §8.2.3, Campagna–Petcher ePrint
// 2020/1364) bound to a caller-supplied context string, so the same KEM can
// serve multiple protocols without cross-use.

// scheme selects the hybrid PQC/classical KEM used everywhere.
var scheme = hybrid.Kyber768X25519()

// KeySize is the length of derived content keys (AES-256).
const KeySize = 32

// GenerateKeyPair returns a fresh binary-encoded key pair for the scheme.
// The private half is handed to the caller and never retained here.
func GenerateKeyPair() (pub, priv []byte, err error) {
	pk, sk, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, nil, err
	}
	pub, err = pk.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	priv, err = sk.MarshalBinary()
	if err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// Wrap encapsulates against the recipient public key and derives a 32-byte
// content key bound to context.
//
// Inputs:
//
//	pub     – recipient public key (binary-encoded)
//	context – protocol label (application-defined)
//
// Output:
//
//	ct  – wire ciphertext (ct_dh || ct_pq), the wrapped-key artifact
//	key – HKDF-SHA3-256(context, secret)[0:KeySize]
func Wrap(pub, context []byte) (ct, key []byte, err error) {
	pk, err := scheme.UnmarshalBinaryPublicKey(pub)
	if err != nil {
		return nil, nil, err
	}
	ct, secret, err := scheme.Encapsulate(pk)
	if err != nil {
		return nil, nil, err
	}
	return ct, deriveKey(secret, context), nil
}

// Unwrap mirrors Wrap for the holder of the private key. Note the scheme uses
// implicit rejection: a tampered ct decapsulates without error but yields an
// unrelated key, so tampering surfaces at the AEAD layer, not here.
func Unwrap(priv, ct, context []byte) (key []byte, err error) {
	sk, err := scheme.UnmarshalBinaryPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	secret, err := scheme.Decapsulate(sk, ct)
	if err != nil {
		return nil, err
	}
	return deriveKey(secret, context), nil
}

// deriveKey implements CatKDF(context, secret) where
//
//	info   = SHA3-256(context)
//	secret = ss_dh || ss_pq (output of hybrid encapsulation)
func deriveKey(secret, context []byte) []byte {
	h := sha3.New256()
	h.Write(context)
	info := h.Sum(nil)

	hk := hkdf.New(sha3.New256, secret, nil, info)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hk, key); err != nil {
		panic(err)
	}
	return key
}
