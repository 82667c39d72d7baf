// Package keys owns per-principal key material handling: pair generation for
// the two key purposes and the public-key directory. Private halves are
// returned to the caller once and never stored, logged or transmitted by this
// package.
package keys

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/collapsinghierarchy/gradeseal/pkc/kem"
	"github.com/collapsinghierarchy/gradeseal/pkc/sigs"
)

// Purpose selects which of a principal's two key pairs is meant.
type Purpose string

const (
	// PurposeConfidentiality keys wrap content keys (KEM pairs).
	PurposeConfidentiality Purpose = "confidentiality"
	// PurposeIntegrity keys sign evaluations (ECDSA pairs).
	PurposeIntegrity Purpose = "integrity"
)

func (p Purpose) Valid() bool {
	return p == PurposeConfidentiality || p == PurposeIntegrity
}

var (
	ErrKeyNotFound    = errors.New("public key not registered")
	ErrUnknownPurpose = errors.New("unknown key purpose")
	ErrBadPublicKey   = errors.New("public key does not decode for purpose")
)

// Directory is the persistence seam for registered public keys. Writes are
// serialized per principal by the adapter (upsert); reads are unrestricted —
// any principal may look up any other principal's public keys.
type Directory interface {
	UpdatePublicKey(ctx context.Context, principalID uuid.UUID, purpose Purpose, pub []byte) error
	PublicKey(ctx context.Context, principalID uuid.UUID, purpose Purpose) ([]byte, error)
}

// Manager exposes generate/register/lookup with purpose-specific validation.
type Manager struct {
	dir Directory
}

func NewManager(dir Directory) *Manager { return &Manager{dir: dir} }

// GenerateKeyPair creates a fresh pair for the purpose. The private half goes
// to the caller's trust boundary; nothing is persisted here.
func (m *Manager) GenerateKeyPair(purpose Purpose) (pub, priv []byte, err error) {
	switch purpose {
	case PurposeConfidentiality:
		return kem.GenerateKeyPair()
	case PurposeIntegrity:
		return sigs.GenerateKeyPair()
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownPurpose, purpose)
	}
}

// RegisterPublicKey validates that pub decodes for the purpose and makes it
// discoverable under the principal id.
func (m *Manager) RegisterPublicKey(ctx context.Context, principalID uuid.UUID, purpose Purpose, pub []byte) error {
	if err := validate(purpose, pub); err != nil {
		return err
	}
	return m.dir.UpdatePublicKey(ctx, principalID, purpose, pub)
}

// LookupPublicKey returns the registered public key for (principal, purpose)
// or ErrKeyNotFound.
func (m *Manager) LookupPublicKey(ctx context.Context, principalID uuid.UUID, purpose Purpose) ([]byte, error) {
	if !purpose.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPurpose, purpose)
	}
	pub, err := m.dir.PublicKey(ctx, principalID, purpose)
	if err != nil {
		return nil, err
	}
	if len(pub) == 0 {
		return nil, ErrKeyNotFound
	}
	return pub, nil
}

func validate(purpose Purpose, pub []byte) error {
	switch purpose {
	case PurposeConfidentiality:
		// Round-trip through the KEM scheme: wrapping against a key that does
		// not unmarshal would fail later at seal time, reject it up front.
		if _, _, err := kem.Wrap(pub, []byte("keys/validate")); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPublicKey, err)
		}
	case PurposeIntegrity:
		k, err := x509.ParsePKIXPublicKey(pub)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadPublicKey, err)
		}
		if _, ok := k.(*ecdsa.PublicKey); !ok {
			return fmt.Errorf("%w: not an ECDSA key", ErrBadPublicKey)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPurpose, purpose)
	}
	return nil
}
