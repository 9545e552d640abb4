// Package audit persists raw webhook traffic for traceability. Writes are
// best-effort: a failed audit write is logged and swallowed, never surfaced
// to the request path.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"wabridge/internal/domain"
	"wabridge/internal/metrics"
)

// timestampLayout matches an ISO-8601 instant with microseconds, which keeps
// object keys lexically sorted by arrival time.
const timestampLayout = "2006-01-02T15:04:05.000000"

// Envelope describes one inbound request minus its body.
type Envelope struct {
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Query      map[string]string `json:"query,omitempty"`
	RequestID  string            `json:"requestId"`
	ReceivedAt time.Time         `json:"receivedAt"`
}

// Recorder writes one event/ and one body/ object per invocation.
type Recorder struct {
	store  domain.AuditStore
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(store domain.AuditStore, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, logger: logger, now: time.Now}
}

// Record stores the request envelope under event/<timestamp>.json and the raw
// body under body/<timestamp>.json. Both writes share one timestamp so the
// pair can be correlated.
func (r *Recorder) Record(ctx context.Context, env Envelope, body []byte) {
	if r == nil || r.store == nil {
		return
	}

	ts := r.now().UTC().Format(timestampLayout)

	envJSON, err := json.Marshal(env)
	if err != nil {
		r.logger.Error("audit: cannot marshal request envelope", "err", err)
		envJSON = []byte("{}")
	}

	r.put(ctx, "event/"+ts+".json", envJSON)
	r.put(ctx, "body/"+ts+".json", body)
}

func (r *Recorder) put(ctx context.Context, key string, content []byte) {
	if err := r.store.Put(ctx, key, content, "application/json"); err != nil {
		metrics.Default.Counter("wabridge_audit_write_failures_total",
			"Audit store writes that failed and were swallowed.").Inc()
		r.logger.Error("audit write failed", "key", key, "err", err)
	}
}
