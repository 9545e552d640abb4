// Package agent invokes the conversational agent backend and aggregates its
// streamed completion into a single reply string.
package agent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"wabridge/internal/domain"
	"wabridge/internal/metrics"
)

// noResponseFallback is returned when the backend completes without emitting
// any answer text.
const noResponseFallback = "No response from the agent."

// Invoker calls the agent backend and turns whatever happens into text. Ask
// never fails from the caller's point of view: backend errors become an
// error-describing reply so the sender always receives something.
type Invoker struct {
	runtime domain.AgentRuntime
	agentID string
	aliasID string
	logger  *slog.Logger
}

type InvokerConfig struct {
	Runtime domain.AgentRuntime
	AgentID string
	AliasID string
	Logger  *slog.Logger
}

func NewInvoker(cfg InvokerConfig) *Invoker {
	return &Invoker{
		runtime: cfg.Runtime,
		agentID: cfg.AgentID,
		aliasID: cfg.AliasID,
		logger:  cfg.Logger,
	}
}

// Ask sends query to the agent under sessionID and aggregates the completion
// stream: chunks are concatenated in delivery order, traces are logged,
// unrecognized events are skipped. Session state beyond the session id is the
// backend's business.
func (inv *Invoker) Ask(ctx context.Context, query, sessionID string) string {
	start := time.Now()
	metrics.Default.Counter("wabridge_agent_invocations_total",
		"Agent backend invocations.").Inc()

	events, err := inv.runtime.Invoke(ctx, domain.AgentQuery{
		AgentID:   inv.agentID,
		AliasID:   inv.aliasID,
		SessionID: sessionID,
		InputText: query,
	})
	if err != nil {
		inv.fail("agent invocation failed", sessionID, err.Error())
		return "Error invoking agent: " + err.Error()
	}
	if events == nil {
		return noResponseFallback
	}

	var sb strings.Builder
	sawChunk := false
	for ev := range events {
		switch ev.Kind {
		case domain.AgentChunk:
			sawChunk = true
			sb.Write(ev.Bytes)
		case domain.AgentTrace:
			inv.logger.Debug("agent trace", "session", sessionID, "trace", ev.Trace)
		case domain.AgentStreamError:
			inv.fail("agent stream failed", sessionID, ev.Err)
			return "Error invoking agent: " + ev.Err
		default:
			inv.logger.Warn("unexpected agent event", "session", sessionID,
				"kind", string(ev.Kind), "raw", ev.Raw)
		}
	}

	metrics.Default.Histogram("wabridge_agent_latency_seconds",
		"Agent invocation latency.").Observe(time.Since(start).Seconds())

	if !sawChunk {
		return noResponseFallback
	}
	return sb.String()
}

func (inv *Invoker) fail(msg, sessionID, detail string) {
	metrics.Default.Counter("wabridge_agent_failures_total",
		"Agent invocations that degraded to an error reply.").Inc()
	inv.logger.Error(msg, "session", sessionID, "err", detail)
}
