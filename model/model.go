package model

import (
	"time"

	"github.com/google/uuid"
)

// Role is the fixed set of principal roles known to the policy matrix.
type Role string

const (
	RoleStudent  Role = "student"
	RoleReviewer Role = "reviewer"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleReviewer, RoleAdmin:
		return true
	}
	return false
}

// Status is the workflow state of a submission.
type Status string

const (
	StatusPending   Status = "pending"
	StatusEvaluated Status = "evaluated"
	StatusPublished Status = "published"
	StatusDeleted   Status = "deleted"
)

// ResourceType partitions everything the policy matrix can guard.
type ResourceType string

const (
	// ResourceArtifact is the sealed submitted content.
	ResourceArtifact ResourceType = "artifact"
	// ResourceMetric is a reviewer's evaluation prior to publication.
	ResourceMetric ResourceType = "metric"
	// ResourceRecord is the published, verified final result.
	ResourceRecord ResourceType = "record"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionSign   Action = "sign"
	ActionVerify Action = "verify"
)

// Principal is an authenticated identity as seen by this core. Authentication
// happens upstream; we only keep the role and the registered public halves of
// the principal's key pairs. Private keys never appear here.
type Principal struct {
	ID     uuid.UUID
	Role   Role
	EncPub []byte // KEM public key (confidentiality purpose)
	SigPub []byte // ECDSA public key (integrity purpose)
}

// Submission carries the sealed artifact. Content fields are write-once;
// only Status is mutated after insert, and only by the workflow machine.
type Submission struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	ReviewerID  uuid.UUID
	Title       string
	ContentHash []byte // SHA3-256 of the plaintext, set at seal time
	IV          []byte
	CipherText  []byte
	WrappedKey  []byte
	Status      Status
	CreatedAt   time.Time
}

// Evaluation is frozen once signed: 1:1 with its submission, never updated.
type Evaluation struct {
	ID           uuid.UUID
	SubmissionID uuid.UUID
	EvaluatorID  uuid.UUID
	Grade        string
	Feedback     string
	Signature    []byte
	SignedAt     time.Time
}

// AccessDecision is one append-only audit row. Every policy check produces
// exactly one, allowed or denied.
type AccessDecision struct {
	PrincipalID uuid.UUID
	Role        Role
	Resource    ResourceType
	Action      Action
	Allowed     bool
	Reason      string
	TS          time.Time
}
