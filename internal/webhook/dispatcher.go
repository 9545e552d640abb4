// Package webhook dispatches inbound WhatsApp webhook requests: the GET
// verification handshake, POST delivery events routed through the agent and
// back out to the sender, and rejection of everything else.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"wabridge/internal/audit"
	"wabridge/internal/domain"
	"wabridge/internal/metrics"
)

const maxBodyBytes = 1 << 20 // 1MB

// AgentAsker produces a reply for a query within a sender's session. It never
// fails; backend trouble comes back as error-describing text.
type AgentAsker interface {
	Ask(ctx context.Context, query, sessionID string) string
}

// RequestRecorder persists the raw request for traceability.
type RequestRecorder interface {
	Record(ctx context.Context, env audit.Envelope, body []byte)
}

// Dispatcher is the top-level webhook controller. It owns no cross-request
// state; every collaborator it holds is safe for concurrent reuse.
type Dispatcher struct {
	verifyToken string
	agent       AgentAsker
	notifier    domain.Notifier
	recorder    RequestRecorder
	logger      *slog.Logger
}

type DispatcherConfig struct {
	VerifyToken string
	Agent       AgentAsker
	Notifier    domain.Notifier
	Recorder    RequestRecorder // optional
	Logger      *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		verifyToken: cfg.VerifyToken,
		agent:       cfg.Agent,
		notifier:    cfg.Notifier,
		recorder:    cfg.Recorder,
		logger:      cfg.Logger,
	}
}

func (d *Dispatcher) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	logger := d.logger.With("request_id", reqID)

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("panic while dispatching", "panic", rec)
			writeJSON(rw, http.StatusInternalServerError,
				map[string]string{"error": fmt.Sprint(rec)})
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		logger.Error("cannot read request body", "err", err)
		body = nil
	}
	defer r.Body.Close()

	// Audit before branching on method so malformed and rejected requests
	// are recorded too.
	if d.recorder != nil {
		d.recorder.Record(r.Context(), audit.Envelope{
			Method:     r.Method,
			Path:       r.URL.Path,
			Query:      flattenQuery(r.URL.Query()),
			RequestID:  reqID,
			ReceivedAt: time.Now().UTC(),
		}, body)
	}

	var status int
	switch r.Method {
	case http.MethodGet:
		status = d.handleVerification(rw, r, logger)
	case http.MethodPost:
		status = d.handleDelivery(r.Context(), rw, body, logger)
	default:
		logger.Warn("unsupported method", "method", r.Method)
		status = writeJSON(rw, http.StatusMethodNotAllowed,
			map[string]string{"error": fmt.Sprintf("Method %s not allowed", r.Method)})
	}

	metrics.Default.Counter("wabridge_webhook_requests_total",
		"Webhook requests by method and status.",
		"method", r.Method, "status", strconv.Itoa(status)).Inc()
}

// handleVerification answers the subscription handshake. Mode and token are
// compared by exact equality; the rejection response does not distinguish
// which one was wrong.
func (d *Dispatcher) handleVerification(rw http.ResponseWriter, r *http.Request, logger *slog.Logger) int {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && token == d.verifyToken {
		logger.Info("webhook verified")
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		rw.WriteHeader(http.StatusOK)
		// The platform requires the challenge echoed back verbatim.
		io.WriteString(rw, challenge)
		return http.StatusOK
	}

	logger.Warn("webhook verification failed", "mode", mode)
	return writeJSON(rw, http.StatusForbidden,
		map[string]string{"error": "Invalid verification token"})
}

func (d *Dispatcher) handleDelivery(ctx context.Context, rw http.ResponseWriter, body []byte, logger *slog.Logger) int {
	var payload deliveryPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		logger.Error("cannot parse delivery body", "err", err)
		return writeJSON(rw, http.StatusInternalServerError,
			map[string]string{"error": err.Error()})
	}

	msg, ok := extractMessage(payload)
	if !ok {
		// Status-update callbacks arrive on this webhook with no messages
		// array; acknowledging them is the correct outcome.
		logger.Info("delivery event without message object")
		return writeJSON(rw, http.StatusOK,
			map[string]string{"message": "No message object found in webhook"})
	}

	logger.Info("message received", "from", msg.From, "text_len", len(msg.Text))

	reply := d.agent.Ask(ctx, msg.Text, msg.From)

	if err := d.notifier.Send(ctx, msg.From, reply); err != nil {
		// The platform expects acknowledgment of receipt, not delivery
		// confirmation, so a failed send still acknowledges the event.
		logger.Error("reply delivery failed", "to", msg.From, "err", err)
	}

	return writeJSON(rw, http.StatusOK,
		map[string]string{"message": "Message processed"})
}

func writeJSON(rw http.ResponseWriter, status int, v any) int {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
	return status
}

func flattenQuery(q url.Values) map[string]string {
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]string, len(q))
	for k, vs := range q {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
