// Package ctxutil attaches request/trace correlation data to a
// context.Context so log lines and trace spans across the coordinator,
// worker, and monitor can be joined by project/job id.
package ctxutil

import "context"

type traceDataKey struct{}

type TraceData struct {
	ProjectID string
	JobID     string
	CommandID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	if td == nil {
		return ctx
	}
	return context.WithValue(ctx, traceDataKey{}, td)
}

func TraceFrom(ctx context.Context) *TraceData {
	td, _ := ctx.Value(traceDataKey{}).(*TraceData)
	return td
}
