// Package audit writes the best-effort per-turn trace record. Audit never
// affects the reply: failures are logged and dropped.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"projectos/internal/store"
	"projectos/internal/types"
)

// Schema identifies the audit record shape.
const Schema = "audit_v1"

type ctxKey int

const (
	traceIDKey ctxKey = iota
	decisionKey
)

// WithTrace attaches a fresh trace id to the context.
func WithTrace(ctx context.Context) context.Context {
	return context.WithValue(ctx, traceIDKey, uuid.NewString())
}

// TraceID returns the context's trace id, "" when unset.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// decisionContext collects per-turn decision annotations. Shallow merges
// only: last write per key wins.
type decisionContext struct {
	mu      sync.Mutex
	entries map[string]interface{}
}

// WithDecisions attaches an empty decision context.
func WithDecisions(ctx context.Context) context.Context {
	return context.WithValue(ctx, decisionKey, &decisionContext{entries: map[string]interface{}{}})
}

// Record notes one decision on the context, no-op when no decision context
// is attached.
func Record(ctx context.Context, key string, value interface{}) {
	dc, _ := ctx.Value(decisionKey).(*decisionContext)
	if dc == nil {
		return
	}
	dc.mu.Lock()
	dc.entries[key] = value
	dc.mu.Unlock()
}

// Decisions snapshots the recorded decision map.
func Decisions(ctx context.Context) map[string]interface{} {
	dc, _ := ctx.Value(decisionKey).(*decisionContext)
	if dc == nil {
		return nil
	}
	dc.mu.Lock()
	defer dc.mu.Unlock()
	out := make(map[string]interface{}, len(dc.entries))
	for k, v := range dc.entries {
		out[k] = v
	}
	return out
}

// Event is the per-turn audit record.
type Event struct {
	Schema       string                 `json:"schema"`
	TraceID      string                 `json:"trace_id"`
	ProjectFull  string                 `json:"project_full"`
	CleanUserMsg string                 `json:"clean_user_msg"`
	DoSearch     bool                   `json:"do_search"`
	SearchLen    int                    `json:"search_len"`
	ActiveExpert string                 `json:"active_expert,omitempty"`
	IntentObj    types.Intent           `json:"intent_obj"`
	LookupMode   bool                   `json:"lookup_mode"`
	AnswerLen    int                    `json:"answer_len"`
	ElapsedMS    int64                  `json:"elapsed_ms"`
	Timestamp    string                 `json:"timestamp"`
	DecisionCtx  map[string]interface{} `json:"decision_ctx,omitempty"`
}

// Writer appends audit events, at most one per turn (the pipeline calls it
// exactly once, after generation).
type Writer struct {
	disk   *store.Store
	logger *zap.Logger
}

// NewWriter creates an audit writer.
func NewWriter(disk *store.Store, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{disk: disk, logger: logger}
}

// Write fills in the context-derived fields and appends the event.
// Best-effort: errors never propagate.
func (w *Writer) Write(ctx context.Context, user, project string, ev Event) {
	ev.Schema = Schema
	ev.TraceID = TraceID(ctx)
	ev.DecisionCtx = Decisions(ctx)
	ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if ev.ProjectFull == "" {
		ev.ProjectFull = user + "/" + project
	}
	path := w.disk.ProjectFile(user, project, store.FileAuditLog)
	if err := store.AppendJSONL(path, ev); err != nil {
		w.logger.Warn("audit write failed", zap.Error(err), zap.String("trace_id", ev.TraceID))
	}
}
