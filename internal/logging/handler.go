package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	MSISDNKey    contextKey = "msisdn"
	SessionIDKey contextKey = "session_id"
	CommandIDKey contextKey = "cmd_id"
	SeqNumberKey contextKey = "seq_num"
	WorkerIDKey  contextKey = "worker_id"
)

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if msisdn, ok := ctx.Value(MSISDNKey).(string); ok {
		r.AddAttrs(slog.String("msisdn", msisdn))
	}
	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok {
		r.AddAttrs(slog.String("session_id", sessionID))
	}
	if cmdID, ok := ctx.Value(CommandIDKey).(string); ok {
		r.AddAttrs(slog.String("cmd_id", cmdID))
	}
	if seq, ok := ctx.Value(SeqNumberKey).(int32); ok {
		r.AddAttrs(slog.Int("seq_num", int(seq)))
	}
	if workerID, ok := ctx.Value(WorkerIDKey).(int); ok {
		r.AddAttrs(slog.Int("worker_id", workerID))
	}
	return h.Handler.Handle(ctx, r)
}

// Helper functions to add values to context

func ContextWithMSISDN(ctx context.Context, msisdn string) context.Context {
	return context.WithValue(ctx, MSISDNKey, msisdn)
}

func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func ContextWithPDUInfo(ctx context.Context, commandID string, seqNumber int32) context.Context {
	ctx = context.WithValue(ctx, CommandIDKey, commandID)
	return context.WithValue(ctx, SeqNumberKey, seqNumber)
}

func ContextWithWorkerID(ctx context.Context, workerID int) context.Context {
	return context.WithValue(ctx, WorkerIDKey, workerID)
}
