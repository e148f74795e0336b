package session

import (
	"context"

	"github.com/go-go-golems/chatfold/pkg/helpers"
)

type sessionMetaContextKey string

const (
	sessionIDContextKey sessionMetaContextKey = "session_id"
	runIDContextKey     sessionMetaContextKey = "run_id"
)

// WithRunMeta stores the session and run ids in ctx. The run id doubles as
// the watermill correlation id, so updates published from ctx are tagged
// with it.
func WithRunMeta(ctx context.Context, sessionID, runID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if sessionID != "" {
		ctx = context.WithValue(ctx, sessionIDContextKey, sessionID)
	}
	if runID != "" {
		ctx = context.WithValue(ctx, runIDContextKey, runID)
		ctx = helpers.ContextWithCorrelationID(ctx, runID)
	}
	return ctx
}

func SessionIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(sessionIDContextKey).(string)
	return id
}

func RunIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(runIDContextKey).(string)
	return id
}
