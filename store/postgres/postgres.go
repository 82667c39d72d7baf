package postgres

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/collapsinghierarchy/gradeseal/keys"
	"github.com/collapsinghierarchy/gradeseal/model"
	"github.com/collapsinghierarchy/gradeseal/store"
	"github.com/collapsinghierarchy/gradeseal/workflow"
)

type pgStore struct{ db *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) store.Store { return &pgStore{db: db} }

const uniqueViolation = "23505"

func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// -------- principals / key directory ---------------------------------------

func (p *pgStore) InsertPrincipal(ctx context.Context, pr *model.Principal) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO principals (id, role) VALUES ($1,$2)`,
		pr.ID, pr.Role)
	if isUnique(err) {
		return store.ErrConflict
	}
	return err
}

func (p *pgStore) GetPrincipal(ctx context.Context, id uuid.UUID) (*model.Principal, error) {
	var pr model.Principal
	err := p.db.QueryRow(ctx,
		`SELECT id, role, COALESCE(enc_pub,''::bytea), COALESCE(sig_pub,''::bytea)
         FROM principals WHERE id=$1`, id).
		Scan(&pr.ID, &pr.Role, &pr.EncPub, &pr.SigPub)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pr, nil
}

func column(purpose keys.Purpose) (string, error) {
	switch purpose {
	case keys.PurposeConfidentiality:
		return "enc_pub", nil
	case keys.PurposeIntegrity:
		return "sig_pub", nil
	}
	return "", keys.ErrUnknownPurpose
}

func (p *pgStore) UpdatePublicKey(ctx context.Context, id uuid.UUID, purpose keys.Purpose, pub []byte) error {
	col, err := column(purpose)
	if err != nil {
		return err
	}
	tag, err := p.db.Exec(ctx,
		`UPDATE principals SET `+col+`=$2 WHERE id=$1`, id, pub)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (p *pgStore) PublicKey(ctx context.Context, id uuid.UUID, purpose keys.Purpose) ([]byte, error) {
	col, err := column(purpose)
	if err != nil {
		return nil, err
	}
	var pub []byte
	err = p.db.QueryRow(ctx,
		`SELECT COALESCE(`+col+`,''::bytea) FROM principals WHERE id=$1`, id).Scan(&pub)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(pub) == 0 {
		return nil, keys.ErrKeyNotFound
	}
	return pub, nil
}

// -------- submissions ------------------------------------------------------

func (p *pgStore) InsertSubmission(ctx context.Context, s *model.Submission) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO submissions
           (id, owner_id, reviewer_id, title, content_hash, iv, cipher_text, wrapped_key, status, created_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		s.ID, s.OwnerID, s.ReviewerID, s.Title, s.ContentHash, s.IV, s.CipherText, s.WrappedKey, s.Status, s.CreatedAt)
	if isUnique(err) {
		return store.ErrConflict
	}
	return err
}

func (p *pgStore) GetSubmission(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	var s model.Submission
	err := p.db.QueryRow(ctx,
		`SELECT id, owner_id, reviewer_id, title, content_hash, iv, cipher_text, wrapped_key, status, created_at
         FROM submissions WHERE id=$1`, id).
		Scan(&s.ID, &s.OwnerID, &s.ReviewerID, &s.Title, &s.ContentHash, &s.IV, &s.CipherText, &s.WrappedKey, &s.Status, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ApplyTransition commits a workflow transition in a single transaction: the
// submission row is locked, the status re-checked against from, the record
// mutation applied and the status written. A concurrent transition in another
// process blocks on the row lock and then loses the CAS with ErrConflict,
// with none of its mutation applied; a crash mid-transition rolls back both
// halves together.
func (p *pgStore) ApplyTransition(ctx context.Context, id uuid.UUID, from, to model.Status, mut *workflow.Mutation) error {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var current model.Status
	err = tx.QueryRow(ctx,
		`SELECT status FROM submissions WHERE id=$1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if current != from {
		return store.ErrConflict
	}

	if mut != nil {
		if e := mut.InsertEvaluation; e != nil {
			_, err := tx.Exec(ctx,
				`INSERT INTO evaluations
				   (id, submission_id, evaluator_id, grade, feedback, signature, signed_at)
				 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				e.ID, e.SubmissionID, e.EvaluatorID, e.Grade, e.Feedback, e.Signature, e.SignedAt)
			if isUnique(err) {
				return store.ErrConflict
			}
			if err != nil {
				return err
			}
		}
		if mut.DeleteEvaluation {
			if _, err := tx.Exec(ctx,
				`DELETE FROM evaluations WHERE submission_id=$1`, id); err != nil {
				return err
			}
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE submissions SET status=$2 WHERE id=$1`, id, to); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// -------- evaluations ------------------------------------------------------

func (p *pgStore) InsertEvaluation(ctx context.Context, e *model.Evaluation) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO evaluations
           (id, submission_id, evaluator_id, grade, feedback, signature, signed_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.ID, e.SubmissionID, e.EvaluatorID, e.Grade, e.Feedback, e.Signature, e.SignedAt)
	if isUnique(err) {
		return store.ErrConflict
	}
	return err
}

func (p *pgStore) GetEvaluationBySubmission(ctx context.Context, submissionID uuid.UUID) (*model.Evaluation, error) {
	var e model.Evaluation
	err := p.db.QueryRow(ctx,
		`SELECT id, submission_id, evaluator_id, grade, feedback, signature, signed_at
         FROM evaluations WHERE submission_id=$1`, submissionID).
		Scan(&e.ID, &e.SubmissionID, &e.EvaluatorID, &e.Grade, &e.Feedback, &e.Signature, &e.SignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *pgStore) DeleteEvaluationBySubmission(ctx context.Context, submissionID uuid.UUID) error {
	_, err := p.db.Exec(ctx,
		`DELETE FROM evaluations WHERE submission_id=$1`, submissionID)
	return err
}

// -------- audit trail ------------------------------------------------------

func (p *pgStore) InsertDecision(ctx context.Context, d *model.AccessDecision) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO access_decisions
           (principal_id, role, resource, action, allowed, reason, ts)
         VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		d.PrincipalID, d.Role, d.Resource, d.Action, d.Allowed, d.Reason, d.TS)
	return err
}

func (p *pgStore) StreamDecisions(ctx context.Context, fn func(*model.AccessDecision) error) error {
	rows, err := p.db.Query(ctx,
		`SELECT principal_id, role, resource, action, allowed, reason, ts
         FROM access_decisions
         ORDER BY ts ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var d model.AccessDecision
		if err := rows.Scan(&d.PrincipalID, &d.Role, &d.Resource, &d.Action, &d.Allowed, &d.Reason, &d.TS); err != nil {
			return err
		}
		if err := fn(&d); err != nil {
			return err
		}
	}
	return rows.Err()
}
