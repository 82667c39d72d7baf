// Package audit records access decisions. The trail is append-only and best
// effort towards the caller: a failing sink must never turn an allow into a
// deny or vice versa, so sink errors are logged and swallowed here.
package audit

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/collapsinghierarchy/gradeseal/model"
)

// Recorder accepts one decision per policy check.
type Recorder interface {
	Record(ctx context.Context, d model.AccessDecision)
}

// LogRecorder writes decisions as structured log lines.
type LogRecorder struct {
	Log *logrus.Logger
}

func NewLogRecorder(log *logrus.Logger) *LogRecorder { return &LogRecorder{Log: log} }

func (r *LogRecorder) Record(_ context.Context, d model.AccessDecision) {
	r.Log.WithFields(logrus.Fields{
		"principal": d.PrincipalID,
		"role":      d.Role,
		"resource":  d.Resource,
		"action":    d.Action,
		"allowed":   d.Allowed,
		"reason":    d.Reason,
		"ts":        d.TS,
	}).Info("access decision")
}

// DecisionSink is the persistence seam for the stored trail.
type DecisionSink interface {
	InsertDecision(ctx context.Context, d *model.AccessDecision) error
}

// StoreRecorder appends decisions to a persistent sink.
type StoreRecorder struct {
	Sink DecisionSink
	Log  *logrus.Logger
}

func NewStoreRecorder(sink DecisionSink, log *logrus.Logger) *StoreRecorder {
	return &StoreRecorder{Sink: sink, Log: log}
}

func (r *StoreRecorder) Record(ctx context.Context, d model.AccessDecision) {
	if err := r.Sink.InsertDecision(ctx, &d); err != nil {
		r.Log.WithError(err).Warn("audit insert failed")
	}
}

// Multi fans one decision out to several recorders.
func Multi(recorders ...Recorder) Recorder { return multi(recorders) }

type multi []Recorder

func (m multi) Record(ctx context.Context, d model.AccessDecision) {
	for _, r := range m {
		r.Record(ctx, d)
	}
}
