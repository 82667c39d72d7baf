package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/collapsinghierarchy/gradeseal/keys"
	"github.com/collapsinghierarchy/gradeseal/model"
	"github.com/collapsinghierarchy/gradeseal/workflow"
)

var (
	// ErrNotFound is returned for unknown ids. Adapters translate their
	// driver's no-rows error into this.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a compare-and-swap loses or a uniqueness
	// constraint fires (second evaluation on one submission).
	ErrConflict = errors.New("store: conflict")
)

// Store is the dependency-injected persistence seam. It doubles as the
// keys.Directory, the workflow.SubmissionStore and the audit.DecisionSink.
type Store interface {
	InsertPrincipal(ctx context.Context, p *model.Principal) error
	GetPrincipal(ctx context.Context, id uuid.UUID) (*model.Principal, error)

	// keys.Directory
	UpdatePublicKey(ctx context.Context, principalID uuid.UUID, purpose keys.Purpose, pub []byte) error
	PublicKey(ctx context.Context, principalID uuid.UUID, purpose keys.Purpose) ([]byte, error)

	InsertSubmission(ctx context.Context, s *model.Submission) error
	GetSubmission(ctx context.Context, id uuid.UUID) (*model.Submission, error)
	// ApplyTransition is the atomic transition commit: compare-and-swap on
	// the status (ErrConflict when the stored status no longer equals from)
	// plus the record mutation, applied in one transaction. A lost CAS leaves
	// mut unapplied; mut failing (duplicate evaluation) leaves the status
	// untouched.
	ApplyTransition(ctx context.Context, id uuid.UUID, from, to model.Status, mut *workflow.Mutation) error

	InsertEvaluation(ctx context.Context, e *model.Evaluation) error
	GetEvaluationBySubmission(ctx context.Context, submissionID uuid.UUID) (*model.Evaluation, error)
	DeleteEvaluationBySubmission(ctx context.Context, submissionID uuid.UUID) error

	InsertDecision(ctx context.Context, d *model.AccessDecision) error
	StreamDecisions(ctx context.Context, fn func(*model.AccessDecision) error) error
}
