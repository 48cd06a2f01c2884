package logging

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	workflowIDKey contextKey = iota
	agentIDKey
	policyIDKey
)

// WithWorkflowID adds a workflow ID to the context.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workflowIDKey, id)
}

// WithAgentID adds an agent ID to the context.
func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, agentIDKey, id)
}

// WithPolicyID adds a policy ID to the context.
func WithPolicyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, policyIDKey, id)
}

// contextFields returns the logging fields stored in ctx.
func contextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	if v, ok := ctx.Value(workflowIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("workflow_id", v))
	}
	if v, ok := ctx.Value(agentIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("agent_id", v))
	}
	if v, ok := ctx.Value(policyIDKey).(string); ok && v != "" {
		attrs = append(attrs, slog.String("policy_id", v))
	}
	return attrs
}

// contextHandler adds context fields to records logged with a *Context method.
type contextHandler struct {
	slog.Handler
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := contextFields(ctx); len(attrs) > 0 {
		r = r.Clone()
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{Handler: h.Handler.WithGroup(name)}
}
