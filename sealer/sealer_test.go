package sealer_test

import (
	"bytes"
	"crypto/rand"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/collapsinghierarchy/gradeseal/pkc/kem"
	"github.com/collapsinghierarchy/gradeseal/sealer"
)

func keyPair(t *testing.T) (pub, priv []byte) {
	t.Helper()
	pub, priv, err := kem.GenerateKeyPair()
	require.NoError(t, err)
	return pub, priv
}

func TestSealUnsealRoundTrip(t *testing.T) {
	pub, priv := keyPair(t)

	large := make([]byte, 4*1024*1024)
	_, err := io.ReadFull(rand.Reader, large)
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":     {},
		"short":     []byte("hello world"),
		"multi-meg": large,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			s, err := sealer.Seal(raw, pub)
			require.NoError(t, err)
			require.NotEmpty(t, s.ContentHash)
			require.NotEmpty(t, s.WrappedKey)
			require.NotEmpty(t, s.IV)
			if len(raw) > 0 {
				require.False(t, bytes.Contains(s.CipherText, raw),
					"ciphertext must not contain the plaintext")
			}

			got, err := sealer.Unseal(s, priv)
			require.NoError(t, err)
			require.True(t, bytes.Equal(raw, got))
		})
	}
}

func TestFreshKeyPerSeal(t *testing.T) {
	pub, _ := keyPair(t)
	raw := []byte("same input")

	a, err := sealer.Seal(raw, pub)
	require.NoError(t, err)
	b, err := sealer.Seal(raw, pub)
	require.NoError(t, err)

	require.False(t, bytes.Equal(a.WrappedKey, b.WrappedKey))
	require.False(t, bytes.Equal(a.CipherText, b.CipherText))
	require.Equal(t, a.ContentHash, b.ContentHash, "digest depends only on content")
}

func TestTamperedCipherTextFailsAtCryptoLayer(t *testing.T) {
	pub, priv := keyPair(t)
	s, err := sealer.Seal([]byte("payload under test"), pub)
	require.NoError(t, err)

	for i := range s.CipherText {
		tampered := *s
		tampered.CipherText = append([]byte(nil), s.CipherText...)
		tampered.CipherText[i] ^= 0x01

		_, err := sealer.Unseal(&tampered, priv)
		require.ErrorIs(t, err, sealer.ErrDecrypt, "bit flip at byte %d", i)

		var ie *sealer.IntegrityError
		require.False(t, errors.As(err, &ie), "must fail before the digest check")
	}
}

func TestTamperedWrappedKeyFailsAtCryptoLayer(t *testing.T) {
	pub, priv := keyPair(t)
	s, err := sealer.Seal([]byte("payload under test"), pub)
	require.NoError(t, err)

	tampered := *s
	tampered.WrappedKey = append([]byte(nil), s.WrappedKey...)
	tampered.WrappedKey[0] ^= 0x01

	// Implicit rejection in the KEM means the unwrap "succeeds" with a wrong
	// key and the AEAD rejects.
	_, err = sealer.Unseal(&tampered, priv)
	require.ErrorIs(t, err, sealer.ErrDecrypt)
}

func TestTamperedIVFailsAtCryptoLayer(t *testing.T) {
	pub, priv := keyPair(t)
	s, err := sealer.Seal([]byte("payload under test"), pub)
	require.NoError(t, err)

	tampered := *s
	tampered.IV = append([]byte(nil), s.IV...)
	tampered.IV[0] ^= 0x01

	_, err = sealer.Unseal(&tampered, priv)
	require.ErrorIs(t, err, sealer.ErrDecrypt)
}

func TestWrongRecipientCannotUnseal(t *testing.T) {
	pub, _ := keyPair(t)
	_, otherPriv := keyPair(t)

	s, err := sealer.Seal([]byte("for the assigned reviewer only"), pub)
	require.NoError(t, err)

	_, err = sealer.Unseal(s, otherPriv)
	require.ErrorIs(t, err, sealer.ErrDecrypt)
}

func TestDigestMismatchIsIntegrityError(t *testing.T) {
	pub, priv := keyPair(t)
	s, err := sealer.Seal([]byte("original"), pub)
	require.NoError(t, err)

	// Corrupt the stored digest only: crypto succeeds, integrity check fires,
	// and no plaintext is returned.
	s.ContentHash = append([]byte(nil), s.ContentHash...)
	s.ContentHash[0] ^= 0x01

	raw, err := sealer.Unseal(s, priv)
	require.Nil(t, raw)
	var ie *sealer.IntegrityError
	require.True(t, errors.As(err, &ie))
	require.NotEqual(t, ie.Stored, ie.Computed)
}
