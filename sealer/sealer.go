// Package sealer implements the seal/unseal pipeline for submitted content:
// digest, authenticated symmetric encryption under a fresh per-call content
// key, and KEM key wrap for the designated recipient.
package sealer

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/sha3"

	"github.com/collapsinghierarchy/gradeseal/pkc/kem"
)

// keyContext binds KEM key derivation to this protocol. Rotating the label
// invalidates all previously wrapped keys, so it is versioned.
var keyContext = []byte("gradeseal/v1 artifact content key")

var (
	// ErrUnwrap: the wrapped key could not be processed at all (malformed
	// private key or truncated wrap artifact).
	ErrUnwrap = errors.New("sealer: key unwrap failed")
	// ErrDecrypt: the AEAD integrity check failed. Wrong recipient key or any
	// tampering with cipherText, iv or wrappedKey lands here.
	ErrDecrypt = errors.New("sealer: decryption failed")
)

// IntegrityError reports a post-decryption digest mismatch: the ciphertext
// authenticated fine but the recovered plaintext does not hash to the stored
// ContentHash. Unseal hard-fails on it and returns no plaintext.
type IntegrityError struct {
	Stored   []byte
	Computed []byte
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("sealer: content hash mismatch: stored %s, computed %s",
		hex.EncodeToString(e.Stored), hex.EncodeToString(e.Computed))
}

// Sealed is the complete artifact set produced by one Seal call. The four
// fields are produced together or not at all.
type Sealed struct {
	ContentHash []byte
	IV          []byte
	CipherText  []byte
	WrappedKey  []byte
}

// Seal hashes raw, encrypts it under a fresh content key with AES-256-GCM and
// wraps that key for the recipient. The digest is computed over the plaintext
// independently of encryption, so it can be re-checked after unseal. The
// content key exists only inside this call.
func Seal(raw, recipientPub []byte) (*Sealed, error) {
	sum := sha3.Sum256(raw)

	wrapped, key, err := kem.Wrap(recipientPub, keyContext)
	if err != nil {
		return nil, fmt.Errorf("sealer: wrap content key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealer: cipher init: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealer: gcm init: %w", err)
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("sealer: nonce gen: %w", err)
	}

	return &Sealed{
		ContentHash: sum[:],
		IV:          iv,
		CipherText:  gcm.Seal(nil, iv, raw, nil),
		WrappedKey:  wrapped,
	}, nil
}

// Unseal reverses Seal for the holder of the recipient private key. The three
// failure modes stay distinct: ErrUnwrap (unusable key material), ErrDecrypt
// (AEAD rejection, i.e. wrong key or tampering) and IntegrityError (digest
// mismatch after successful decryption).
func Unseal(s *Sealed, recipientPriv []byte) ([]byte, error) {
	key, err := kem.Unwrap(recipientPriv, s.WrappedKey, keyContext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnwrap, err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(s.IV) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length", ErrDecrypt)
	}
	raw, err := gcm.Open(nil, s.IV, s.CipherText, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	sum := sha3.Sum256(raw)
	if subtle.ConstantTimeCompare(sum[:], s.ContentHash) != 1 {
		return nil, &IntegrityError{Stored: s.ContentHash, Computed: sum[:]}
	}
	return raw, nil
}
