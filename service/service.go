// Package service orchestrates the sealed-grading core: sealing on submit,
// signing on evaluate, signature verification on publish, all double-gated by
// the policy engine and the workflow machine.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/collapsinghierarchy/gradeseal/keys"
	"github.com/collapsinghierarchy/gradeseal/model"
	"github.com/collapsinghierarchy/gradeseal/pkc/sigs"
	"github.com/collapsinghierarchy/gradeseal/policy"
	"github.com/collapsinghierarchy/gradeseal/sealer"
	"github.com/collapsinghierarchy/gradeseal/store"
	"github.com/collapsinghierarchy/gradeseal/workflow"
)

var (
	// ErrNotFound covers unknown ids and, deliberately, policy denials based
	// on ownership or assignment: a denied caller learns nothing about
	// whether the resource exists.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is a plain role-matrix denial (no existence leak risk:
	// the caller was told only that their role lacks the action).
	ErrForbidden = errors.New("forbidden")
	// ErrValidation flags malformed or missing input.
	ErrValidation = errors.New("invalid input")
	// ErrContentTooLarge guards the configured size cap on submissions.
	ErrContentTooLarge = errors.New("content too large")
	// ErrSigningKeyUnavailable: the reviewer has no registered signing key.
	ErrSigningKeyUnavailable = errors.New("no registered signing key")
	// ErrSignatureInvalid: verification failed; the submission stays
	// Evaluated so the evidence is preserved for dispute resolution.
	ErrSignatureInvalid = errors.New("evaluation signature invalid")
)

type Service struct {
	store      store.Store
	keys       *keys.Manager
	policy     *policy.Engine
	flow       *workflow.Machine
	log        *logrus.Logger
	maxContent int64
}

func New(st store.Store, pol *policy.Engine, km *keys.Manager, maxContent int64, log *logrus.Logger) *Service {
	return &Service{
		store:      st,
		keys:       km,
		policy:     pol,
		flow:       workflow.NewMachine(st),
		log:        log,
		maxContent: maxContent,
	}
}

// mapDenial turns a policy denial into its caller-visible shape. Ownership
// and assignment denials are indistinguishable from a missing resource.
func mapDenial(d policy.Decision) error {
	switch d.Reason {
	case policy.ReasonNotOwner, policy.ReasonNotAssigned:
		return ErrNotFound
	default:
		return ErrForbidden
	}
}

// loadSubmission maps unknown and deleted submissions to ErrNotFound.
func (s *Service) loadSubmission(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	sub, err := s.store.GetSubmission(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if sub.Status == model.StatusDeleted {
		return nil, ErrNotFound
	}
	return sub, nil
}

// -------- principals & keys ------------------------------------------------

// RegisterPrincipal records a principal's id and role. Identity proofing
// happened upstream; this core only needs the role for the policy matrix.
func (s *Service) RegisterPrincipal(ctx context.Context, id uuid.UUID, role model.Role) (uuid.UUID, error) {
	if !role.Valid() {
		return uuid.Nil, fmt.Errorf("%w: unknown role %q", ErrValidation, role)
	}
	if id == uuid.Nil {
		id = uuid.New()
	}
	if err := s.store.InsertPrincipal(ctx, &model.Principal{ID: id, Role: role}); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Principal resolves the caller identity the transport layer extracted.
func (s *Service) Principal(ctx context.Context, id uuid.UUID) (*model.Principal, error) {
	p, err := s.store.GetPrincipal(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return p, err
}

// GenerateKeyPair mints a pair for the caller. The private half is returned
// once and not retained; registration of the public half is a separate step.
func (s *Service) GenerateKeyPair(purpose keys.Purpose) (pub, priv []byte, err error) {
	pub, priv, err = s.keys.GenerateKeyPair(purpose)
	if errors.Is(err, keys.ErrUnknownPurpose) {
		return nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return pub, priv, err
}

// RegisterPublicKey publishes the caller's own public key. Principals cannot
// register keys for anyone else.
func (s *Service) RegisterPublicKey(ctx context.Context, p model.Principal, purpose keys.Purpose, pub []byte) error {
	err := s.keys.RegisterPublicKey(ctx, p.ID, purpose, pub)
	switch {
	case errors.Is(err, keys.ErrBadPublicKey), errors.Is(err, keys.ErrUnknownPurpose):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	}
	return err
}

// LookupPublicKey is open to every principal: public halves are public.
func (s *Service) LookupPublicKey(ctx context.Context, principalID uuid.UUID, purpose keys.Purpose) ([]byte, error) {
	pub, err := s.keys.LookupPublicKey(ctx, principalID, purpose)
	switch {
	case errors.Is(err, keys.ErrUnknownPurpose):
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	}
	return pub, err
}

// -------- workflow operations ----------------------------------------------

// Submit seals raw for the assigned reviewer and creates the Pending
// submission. The seal is atomic: either all four artifacts are produced and
// stored in one insert, or nothing is persisted.
func (s *Service) Submit(ctx context.Context, p model.Principal, title string, raw []byte, reviewerID uuid.UUID) (uuid.UUID, error) {
	if title == "" {
		return uuid.Nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if int64(len(raw)) > s.maxContent {
		return uuid.Nil, ErrContentTooLarge
	}

	if d := s.policy.Check(ctx, p, model.ResourceArtifact, model.ActionCreate, policy.Context{OwnerID: &p.ID}); !d.Allowed {
		return uuid.Nil, mapDenial(d)
	}

	reviewer, err := s.store.GetPrincipal(ctx, reviewerID)
	if errors.Is(err, store.ErrNotFound) {
		return uuid.Nil, fmt.Errorf("%w: unknown reviewer", ErrValidation)
	}
	if err != nil {
		return uuid.Nil, err
	}
	if reviewer.Role != model.RoleReviewer {
		return uuid.Nil, fmt.Errorf("%w: assigned principal is not a reviewer", ErrValidation)
	}

	encPub, err := s.keys.LookupPublicKey(ctx, reviewerID, keys.PurposeConfidentiality)
	if err != nil {
		return uuid.Nil, fmt.Errorf("reviewer encryption key: %w", err)
	}

	sealed, err := sealer.Seal(raw, encPub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("seal content: %w", err)
	}

	sub := &model.Submission{
		ID:          uuid.New(),
		OwnerID:     p.ID,
		ReviewerID:  reviewerID,
		Title:       title,
		ContentHash: sealed.ContentHash,
		IV:          sealed.IV,
		CipherText:  sealed.CipherText,
		WrappedKey:  sealed.WrappedKey,
		Status:      model.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertSubmission(ctx, sub); err != nil {
		return uuid.Nil, err
	}

	s.log.WithFields(logrus.Fields{
		"submission": sub.ID,
		"owner":      p.ID,
		"reviewer":   reviewerID,
	}).Info("submission sealed")
	return sub.ID, nil
}

// Unseal returns the plaintext to a caller who clears the read policy and
// holds the matching private key. The key travels in from the caller's trust
// boundary for this one call and is never persisted.
func (s *Service) Unseal(ctx context.Context, p model.Principal, submissionID uuid.UUID, recipientPriv []byte) ([]byte, error) {
	sub, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	rc := policy.Context{OwnerID: &sub.OwnerID, ReviewerID: &sub.ReviewerID}
	if d := s.policy.Check(ctx, p, model.ResourceArtifact, model.ActionRead, rc); !d.Allowed {
		return nil, mapDenial(d)
	}

	raw, err := sealer.Unseal(&sealer.Sealed{
		ContentHash: sub.ContentHash,
		IV:          sub.IV,
		CipherText:  sub.CipherText,
		WrappedKey:  sub.WrappedKey,
	}, recipientPriv)
	if err != nil {
		var ie *sealer.IntegrityError
		if errors.As(err, &ie) {
			// Hard-fail policy: an artifact whose plaintext no longer matches
			// its recorded digest is never released.
			s.log.WithField("submission", submissionID).Error("content integrity violation on unseal")
		}
		return nil, err
	}
	return raw, nil
}

// Evaluate signs (submission, grade, feedback) with the reviewer's private
// signing key and moves the submission to Evaluated. At most one evaluation
// ever exists per submission: the transition is serialized per submission and
// the store enforces uniqueness underneath.
func (s *Service) Evaluate(ctx context.Context, p model.Principal, submissionID uuid.UUID, grade, feedback string, signPriv []byte) (uuid.UUID, error) {
	if grade == "" {
		return uuid.Nil, fmt.Errorf("%w: grade is required", ErrValidation)
	}

	sub, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return uuid.Nil, err
	}

	rc := policy.Context{OwnerID: &sub.OwnerID, ReviewerID: &sub.ReviewerID}
	if d := s.policy.Check(ctx, p, model.ResourceArtifact, model.ActionRead, rc); !d.Allowed {
		return uuid.Nil, mapDenial(d)
	}
	if d := s.policy.Check(ctx, p, model.ResourceMetric, model.ActionSign, policy.Context{}); !d.Allowed {
		return uuid.Nil, mapDenial(d)
	}

	// The signing key must be registered before evaluating, otherwise the
	// signature could never be verified against the directory.
	if _, err := s.keys.LookupPublicKey(ctx, p.ID, keys.PurposeIntegrity); err != nil {
		if errors.Is(err, keys.ErrKeyNotFound) {
			return uuid.Nil, ErrSigningKeyUnavailable
		}
		return uuid.Nil, err
	}

	var evalID uuid.UUID
	err = s.flow.Advance(ctx, submissionID, model.StatusEvaluated, func(*model.Submission) (*workflow.Mutation, error) {
		payload := sigs.CanonicalPayload(submissionID, grade, feedback)
		sig, err := sigs.Sign(signPriv, payload)
		if err != nil {
			return nil, fmt.Errorf("sign evaluation: %w", err)
		}
		eval := &model.Evaluation{
			ID:           uuid.New(),
			SubmissionID: submissionID,
			EvaluatorID:  p.ID,
			Grade:        grade,
			Feedback:     feedback,
			Signature:    sig,
			SignedAt:     time.Now().UTC(),
		}
		evalID = eval.ID
		// Inserted by the store together with the Pending→Evaluated write, so
		// an evaluation row never exists on a Pending submission.
		return &workflow.Mutation{InsertEvaluation: eval}, nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.log.WithFields(logrus.Fields{
		"submission": submissionID,
		"evaluation": evalID,
		"evaluator":  p.ID,
	}).Info("evaluation signed")
	return evalID, nil
}

// VerifyAndPublish recomputes the canonical payload from the stored
// evaluation, verifies the signature against the evaluator's registered
// public key and publishes on success. Publishing an already published
// submission is a no-op. On verification failure the submission stays
// Evaluated and ErrSignatureInvalid is returned.
func (s *Service) VerifyAndPublish(ctx context.Context, p model.Principal, submissionID uuid.UUID) error {
	if _, err := s.loadSubmission(ctx, submissionID); err != nil {
		return err
	}

	if d := s.policy.Check(ctx, p, model.ResourceMetric, model.ActionVerify, policy.Context{}); !d.Allowed {
		return mapDenial(d)
	}

	err := s.flow.Advance(ctx, submissionID, model.StatusPublished, func(*model.Submission) (*workflow.Mutation, error) {
		eval, err := s.store.GetEvaluationBySubmission(ctx, submissionID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		if err != nil {
			return nil, err
		}

		sigPub, err := s.keys.LookupPublicKey(ctx, eval.EvaluatorID, keys.PurposeIntegrity)
		if err != nil {
			return nil, fmt.Errorf("evaluator signing key: %w", err)
		}

		payload := sigs.CanonicalPayload(eval.SubmissionID, eval.Grade, eval.Feedback)
		ok, err := sigs.Verify(sigPub, payload, eval.Signature)
		if err != nil {
			return nil, fmt.Errorf("verify evaluation: %w", err)
		}
		if !ok {
			return nil, ErrSignatureInvalid
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"submission": submissionID,
		"verifier":   p.ID,
	}).Info("evaluation verified, submission published")
	return nil
}

// Delete retires a submission. Owners may delete while Pending; admins from
// Pending or Evaluated. Published submissions are never deletable. Deletion
// cascades to the attached evaluation.
func (s *Service) Delete(ctx context.Context, p model.Principal, submissionID uuid.UUID) error {
	sub, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return err
	}

	if d := s.policy.Check(ctx, p, model.ResourceArtifact, model.ActionDelete, policy.Context{OwnerID: &sub.OwnerID}); !d.Allowed {
		return mapDenial(d)
	}
	if p.Role == model.RoleStudent && sub.Status != model.StatusPending {
		return &workflow.TransitionError{From: sub.Status, To: model.StatusDeleted}
	}

	// The cascade rides in the same transaction as the status write, so a
	// submission that ends up Published keeps its evaluation evidence even
	// when a delete raced the publish.
	return s.flow.Advance(ctx, submissionID, model.StatusDeleted, func(*model.Submission) (*workflow.Mutation, error) {
		return &workflow.Mutation{DeleteEvaluation: true}, nil
	})
}

// Evaluation returns the stored evaluation for a submission the caller may
// read as a Metric (reviewer or admin).
func (s *Service) Evaluation(ctx context.Context, p model.Principal, submissionID uuid.UUID) (*model.Evaluation, error) {
	if _, err := s.loadSubmission(ctx, submissionID); err != nil {
		return nil, err
	}
	if d := s.policy.Check(ctx, p, model.ResourceMetric, model.ActionRead, policy.Context{}); !d.Allowed {
		return nil, mapDenial(d)
	}
	eval, err := s.store.GetEvaluationBySubmission(ctx, submissionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return eval, err
}

// Decisions streams the audit trail. Export is gated on the verify privilege,
// which only the admin role holds in the matrix, so the recorded decision and
// the caller-visible outcome always agree.
func (s *Service) Decisions(ctx context.Context, p model.Principal, fn func(*model.AccessDecision) error) error {
	if d := s.policy.Check(ctx, p, model.ResourceMetric, model.ActionVerify, policy.Context{}); !d.Allowed {
		return mapDenial(d)
	}
	return s.store.StreamDecisions(ctx, fn)
}
