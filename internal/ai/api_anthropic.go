package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/neboloop/nexus/internal/logging"
)

const (
	defaultMaxTokens      = 8192
	defaultAnthropicModel = "claude-sonnet-4-5"
	thinkingBudget        = 10000
)

// AnthropicProvider implements the Anthropic Messages API using the official SDK
type AnthropicProvider struct {
	opts []option.RequestOption
}

// NewAnthropicProvider creates a new Anthropic provider. Extra options apply to every request.
func NewAnthropicProvider(opts ...option.RequestOption) *AnthropicProvider {
	return &AnthropicProvider{opts: opts}
}

// ID returns the provider identifier
func (p *AnthropicProvider) ID() string {
	return "anthropic"
}

// Send streams the request and collects the reply.
func (p *AnthropicProvider) Send(ctx context.Context, req *ChatRequest) (*Reply, error) {
	return Collect(ctx, p, req)
}

// Stream sends a request and returns streaming events
func (p *AnthropicProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	if req.APIKey == "" {
		return nil, &ProviderError{Kind: KindConfig, Provider: p.ID(), Message: "Anthropic API Key is missing"}
	}

	opts := append([]option.RequestOption{option.WithAPIKey(req.APIKey)}, p.opts...)
	if req.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(req.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := req.Model
	if model == "" {
		model = defaultAnthropicModel
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(defaultMaxTokens),
		Messages:  p.buildMessages(req),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	// Extended thinking only at the "high" level
	if req.ThinkingLevel == "high" {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(thinkingBudget)
		params.MaxTokens = 16384
	}

	logging.Debugf("[Anthropic] Sending request: model=%s messages=%d", model, len(params.Messages))

	stream := client.Messages.NewStreaming(ctx, params)

	events := make(chan StreamEvent, 100)
	go p.handleStream(ctx, stream, events)
	return events, nil
}

// buildMessages converts history and the current ask to Anthropic format
func (p *AnthropicProvider) buildMessages(req *ChatRequest) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	for _, turn := range req.History {
		if turn.Role == "model" {
			// Skip empty messages to avoid "text content blocks must be non-empty" error
			if turn.Text != "" {
				result = append(result, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Text)))
			}
			continue
		}
		if blocks := anthropicBlocks(turn.Text, turn.Attachments); len(blocks) > 0 {
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}
	return append(result, anthropic.NewUserMessage(anthropicBlocks(req.Text, req.Attachments)...))
}

func anthropicBlocks(text string, attachments []Attachment) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(attachments)+1)
	for _, a := range attachments {
		blocks = append(blocks, anthropic.NewImageBlockBase64(a.MimeType, a.RawData()))
	}
	if text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}
	return blocks
}

// handleStream processes the streaming response
func (p *AnthropicProvider) handleStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], events chan<- StreamEvent) {
	defer close(events)
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "content_block_delta":
			var ev StreamEvent
			switch d := event.AsContentBlockDelta().Delta.AsAny().(type) {
			case anthropic.TextDelta:
				ev = StreamEvent{Type: EventTypeText, Text: d.Text}
			case anthropic.ThinkingDelta:
				ev = StreamEvent{Type: EventTypeThinking, Text: d.Thinking}
			case anthropic.SignatureDelta:
				ev = StreamEvent{Type: EventTypeSignature, Text: d.Signature}
			default:
				continue
			}
			if !send(ctx, events, ev) {
				return
			}

		case "message_stop":
			send(ctx, events, StreamEvent{Type: EventTypeDone})
			return

		case "error":
			send(ctx, events, StreamEvent{
				Type:  EventTypeError,
				Error: &ProviderError{Kind: ClassifyMessage(event.RawJSON()), Provider: p.ID(), Message: "stream error: " + event.RawJSON()},
			})
			return
		}
	}

	if err := stream.Err(); err != nil {
		logging.Debugf("[Anthropic] Stream error: %v", err)
		send(ctx, events, StreamEvent{Type: EventTypeError, Error: p.classify(ctx, err)})
		return
	}
	send(ctx, events, StreamEvent{Type: EventTypeDone})
}

func (p *AnthropicProvider) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return Wrap(KindCanceled, p.ID(), ctx.Err())
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe := Wrap(KindOfStatus(apiErr.StatusCode), p.ID(), err)
		pe.Status = apiErr.StatusCode
		pe.Message = fmt.Sprintf("%d: %s", apiErr.StatusCode, err.Error())
		return pe
	}
	return &ProviderError{Kind: KindTransient, Provider: p.ID(), Message: "Network Error: " + err.Error(), Err: err}
}
