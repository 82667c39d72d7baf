// Package memory provides an in-process Store used by tests and single-node
// deployments. Semantics mirror the postgres adapter: copies in, copies out,
// CAS on status, unique evaluation per submission.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/collapsinghierarchy/gradeseal/keys"
	"github.com/collapsinghierarchy/gradeseal/model"
	"github.com/collapsinghierarchy/gradeseal/store"
	"github.com/collapsinghierarchy/gradeseal/workflow"
)

type memStore struct {
	mu          sync.RWMutex
	principals  map[uuid.UUID]*model.Principal
	submissions map[uuid.UUID]*model.Submission
	evaluations map[uuid.UUID]*model.Evaluation // keyed by submission id
	decisions   []*model.AccessDecision
}

func NewStore() store.Store {
	return &memStore{
		principals:  map[uuid.UUID]*model.Principal{},
		submissions: map[uuid.UUID]*model.Submission{},
		evaluations: map[uuid.UUID]*model.Evaluation{},
	}
}

// -------- principals / key directory --------------------------------------

func (m *memStore) InsertPrincipal(_ context.Context, p *model.Principal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.principals[p.ID]; ok {
		return store.ErrConflict
	}
	cp := *p
	m.principals[p.ID] = &cp
	return nil
}

func (m *memStore) GetPrincipal(_ context.Context, id uuid.UUID) (*model.Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) UpdatePublicKey(_ context.Context, id uuid.UUID, purpose keys.Purpose, pub []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return store.ErrNotFound
	}
	cp := append([]byte(nil), pub...)
	switch purpose {
	case keys.PurposeConfidentiality:
		p.EncPub = cp
	case keys.PurposeIntegrity:
		p.SigPub = cp
	default:
		return keys.ErrUnknownPurpose
	}
	return nil
}

func (m *memStore) PublicKey(_ context.Context, id uuid.UUID, purpose keys.Purpose) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	var pub []byte
	switch purpose {
	case keys.PurposeConfidentiality:
		pub = p.EncPub
	case keys.PurposeIntegrity:
		pub = p.SigPub
	default:
		return nil, keys.ErrUnknownPurpose
	}
	if len(pub) == 0 {
		return nil, keys.ErrKeyNotFound
	}
	return append([]byte(nil), pub...), nil
}

// -------- submissions ------------------------------------------------------

func (m *memStore) InsertSubmission(_ context.Context, s *model.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.submissions[s.ID]; ok {
		return store.ErrConflict
	}
	cp := *s
	m.submissions[s.ID] = &cp
	return nil
}

func (m *memStore) GetSubmission(_ context.Context, id uuid.UUID) (*model.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) ApplyTransition(_ context.Context, id uuid.UUID, from, to model.Status, mut *workflow.Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return store.ErrNotFound
	}
	if s.Status != from {
		return store.ErrConflict
	}
	// All-or-nothing under the lock: the mutation is validated before the
	// status flips, so neither half ever lands alone.
	if mut != nil {
		if mut.InsertEvaluation != nil {
			if _, ok := m.evaluations[mut.InsertEvaluation.SubmissionID]; ok {
				return store.ErrConflict
			}
			cp := *mut.InsertEvaluation
			m.evaluations[cp.SubmissionID] = &cp
		}
		if mut.DeleteEvaluation {
			delete(m.evaluations, id)
		}
	}
	s.Status = to
	return nil
}

// -------- evaluations ------------------------------------------------------

func (m *memStore) InsertEvaluation(_ context.Context, e *model.Evaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.evaluations[e.SubmissionID]; ok {
		return store.ErrConflict
	}
	cp := *e
	m.evaluations[e.SubmissionID] = &cp
	return nil
}

func (m *memStore) GetEvaluationBySubmission(_ context.Context, submissionID uuid.UUID) (*model.Evaluation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.evaluations[submissionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memStore) DeleteEvaluationBySubmission(_ context.Context, submissionID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.evaluations, submissionID)
	return nil
}

// -------- audit trail ------------------------------------------------------

func (m *memStore) InsertDecision(_ context.Context, d *model.AccessDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.decisions = append(m.decisions, &cp)
	return nil
}

func (m *memStore) StreamDecisions(_ context.Context, fn func(*model.AccessDecision) error) error {
	m.mu.RLock()
	snapshot := make([]*model.AccessDecision, len(m.decisions))
	copy(snapshot, m.decisions)
	m.mu.RUnlock()

	for _, d := range snapshot {
		cp := *d
		if err := fn(&cp); err != nil {
			return err
		}
	}
	return nil
}
