package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"

	"wabridge/internal/domain"
)

const (
	defaultReadTimeout    = 10 * time.Minute
	defaultConnectTimeout = 10 * time.Second
)

// BedrockRuntime adapts the Bedrock agent runtime client to
// domain.AgentRuntime, translating the SDK's response-stream union into
// domain.AgentEvent values.
type BedrockRuntime struct {
	client *bedrockagentruntime.Client
	logger *slog.Logger
}

type BedrockConfig struct {
	AWSConfig aws.Config
	// ReadTimeout bounds how long one response may take to stream in. Agent
	// reasoning is minutes-scale, so this is deliberately long.
	ReadTimeout time.Duration
	// ConnectTimeout bounds dialing only; connectivity failure fails fast.
	ConnectTimeout time.Duration
	Logger         *slog.Logger
}

func NewBedrockRuntime(cfg BedrockConfig) *BedrockRuntime {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	httpClient := awshttp.NewBuildableClient().
		WithDialerOptions(func(d *net.Dialer) {
			d.Timeout = cfg.ConnectTimeout
		}).
		WithTransportOptions(func(tr *http.Transport) {
			tr.ResponseHeaderTimeout = cfg.ReadTimeout
		})

	client := bedrockagentruntime.NewFromConfig(cfg.AWSConfig, func(o *bedrockagentruntime.Options) {
		o.HTTPClient = httpClient
	})

	return &BedrockRuntime{client: client, logger: cfg.Logger}
}

func (b *BedrockRuntime) Invoke(ctx context.Context, q domain.AgentQuery) (<-chan domain.AgentEvent, error) {
	input := &bedrockagentruntime.InvokeAgentInput{
		AgentId:      aws.String(q.AgentID),
		AgentAliasId: aws.String(q.AliasID),
		SessionId:    aws.String(q.SessionID),
		InputText:    aws.String(q.InputText),
	}
	if q.SessionState != nil {
		input.SessionState = &brtypes.SessionState{
			SessionAttributes:       q.SessionState.SessionAttributes,
			PromptSessionAttributes: q.SessionState.PromptSessionAttributes,
		}
	}

	b.logger.Debug("invoking agent", "agent", q.AgentID, "alias", q.AliasID, "session", q.SessionID)

	out, err := b.client.InvokeAgent(ctx, input)
	if err != nil {
		return nil, err
	}

	stream := out.GetStream()
	if stream == nil {
		// Backend accepted the call but produced no completion object.
		return nil, nil
	}

	ch := make(chan domain.AgentEvent)
	go func() {
		defer close(ch)
		defer stream.Close()

		for ev := range stream.Events() {
			var translated domain.AgentEvent
			switch v := ev.(type) {
			case *brtypes.ResponseStreamMemberChunk:
				translated = domain.AgentEvent{Kind: domain.AgentChunk, Bytes: v.Value.Bytes}
			case *brtypes.ResponseStreamMemberTrace:
				translated = domain.AgentEvent{Kind: domain.AgentTrace, Trace: traceSummary(v.Value)}
			default:
				translated = domain.AgentEvent{Kind: domain.AgentUnknown, Raw: fmt.Sprintf("%T", ev)}
			}
			select {
			case ch <- translated:
			case <-ctx.Done():
				return
			}
		}

		if err := stream.Err(); err != nil {
			select {
			case ch <- domain.AgentEvent{Kind: domain.AgentStreamError, Err: err.Error()}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

func traceSummary(p brtypes.TracePart) string {
	if p.Trace == nil {
		return "trace"
	}
	return fmt.Sprintf("%T", p.Trace)
}
