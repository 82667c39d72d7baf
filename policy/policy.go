// Package policy evaluates the fixed role×resource×action matrix plus
// ownership/assignment context. Every check, allowed or denied, emits one
// audit decision.
package policy

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/collapsinghierarchy/gradeseal/audit"
	"github.com/collapsinghierarchy/gradeseal/model"
)

// Denial reasons are part of the engine's contract: the service layer maps
// ReasonNotOwner and ReasonNotAssigned to not-found-shaped responses so that
// denied callers cannot probe for resource existence.
const (
	ReasonRoleLacksAction = "role lacks action"
	ReasonNotOwner        = "not owner"
	ReasonNotAssigned     = "not assigned"
	ReasonOwner           = "owner"
	ReasonMatrix          = "granted by role matrix"
)

// Context carries the ownership/assignment facts of the resource under check.
// Nil pointers mean "not applicable", not "unknown owner".
type Context struct {
	OwnerID    *uuid.UUID
	ReviewerID *uuid.UUID
}

// Decision is the engine's answer. Deterministic for identical inputs.
type Decision struct {
	Allowed bool
	Reason  string
}

// matrix is the fixed role × resource → actions table. It never changes at
// runtime; ownership and assignment are layered on top by Check.
var matrix = map[model.Role]map[model.ResourceType][]model.Action{
	model.RoleStudent: {
		model.ResourceArtifact: {model.ActionCreate, model.ActionRead},
		model.ResourceRecord:   {model.ActionRead},
	},
	model.RoleReviewer: {
		model.ResourceArtifact: {model.ActionRead},
		model.ResourceMetric:   {model.ActionCreate, model.ActionRead, model.ActionSign},
	},
	model.RoleAdmin: {
		model.ResourceArtifact: {model.ActionRead, model.ActionDelete},
		model.ResourceMetric:   {model.ActionRead, model.ActionVerify},
		model.ResourceRecord:   {model.ActionCreate, model.ActionRead, model.ActionUpdate, model.ActionDelete},
	},
}

type Engine struct {
	rec audit.Recorder
}

func NewEngine(rec audit.Recorder) *Engine { return &Engine{rec: rec} }

// Check evaluates one (principal, resource, action, context) tuple and records
// the decision on the audit trail regardless of outcome.
func (e *Engine) Check(ctx context.Context, p model.Principal, res model.ResourceType, act model.Action, rc Context) Decision {
	d := eval(p, res, act, rc)
	e.rec.Record(ctx, model.AccessDecision{
		PrincipalID: p.ID,
		Role:        p.Role,
		Resource:    res,
		Action:      act,
		Allowed:     d.Allowed,
		Reason:      d.Reason,
		TS:          time.Now().UTC(),
	})
	return d
}

func eval(p model.Principal, res model.ResourceType, act model.Action, rc Context) Decision {
	// Ownership exception: a student may delete their own artifact. The
	// workflow machine additionally restricts owner deletes to the pending
	// phase; this engine only answers "whose artifact is it".
	if p.Role == model.RoleStudent && res == model.ResourceArtifact && act == model.ActionDelete {
		if rc.OwnerID != nil && *rc.OwnerID == p.ID {
			return Decision{Allowed: true, Reason: ReasonOwner}
		}
		return Decision{Allowed: false, Reason: ReasonNotOwner}
	}

	if !contains(matrix[p.Role][res], act) {
		return Decision{Allowed: false, Reason: ReasonRoleLacksAction}
	}

	if p.Role == model.RoleStudent &&
		(res == model.ResourceArtifact || res == model.ResourceRecord) &&
		rc.OwnerID != nil && *rc.OwnerID != p.ID {
		return Decision{Allowed: false, Reason: ReasonNotOwner}
	}

	if p.Role == model.RoleReviewer && res == model.ResourceArtifact && act == model.ActionRead &&
		rc.ReviewerID != nil && *rc.ReviewerID != p.ID {
		return Decision{Allowed: false, Reason: ReasonNotAssigned}
	}

	return Decision{Allowed: true, Reason: ReasonMatrix}
}

func contains(actions []model.Action, a model.Action) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}
