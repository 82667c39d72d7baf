package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is idempotent; the daemon applies it at boot. The unique index on
// evaluations.submission_id is the cross-process backstop for the
// one-evaluation-per-submission invariant.
const Schema = `
CREATE TABLE IF NOT EXISTS principals (
    id       UUID PRIMARY KEY,
    role     TEXT NOT NULL,
    enc_pub  BYTEA,
    sig_pub  BYTEA
);

CREATE TABLE IF NOT EXISTS submissions (
    id           UUID PRIMARY KEY,
    owner_id     UUID NOT NULL REFERENCES principals(id),
    reviewer_id  UUID NOT NULL REFERENCES principals(id),
    title        TEXT NOT NULL,
    content_hash BYTEA NOT NULL,
    iv           BYTEA NOT NULL,
    cipher_text  BYTEA NOT NULL,
    wrapped_key  BYTEA NOT NULL,
    status       TEXT NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS evaluations (
    id            UUID PRIMARY KEY,
    submission_id UUID NOT NULL UNIQUE REFERENCES submissions(id),
    evaluator_id  UUID NOT NULL REFERENCES principals(id),
    grade         TEXT NOT NULL,
    feedback      TEXT NOT NULL,
    signature     BYTEA NOT NULL,
    signed_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS access_decisions (
    principal_id UUID NOT NULL,
    role         TEXT NOT NULL,
    resource     TEXT NOT NULL,
    action       TEXT NOT NULL,
    allowed      BOOLEAN NOT NULL,
    reason       TEXT NOT NULL,
    ts           TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS access_decisions_ts ON access_decisions (ts);
`

// EnsureSchema applies the schema.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, Schema)
	return err
}
