package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"

	"github.com/neboloop/nexus/internal/logging"
)

const defaultOpenAIModel = "gpt-4o"

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint
// using the official SDK. Base URL and key come with each request.
type OpenAIProvider struct {
	opts []option.RequestOption
}

// NewOpenAIProvider creates a new OpenAI provider. Extra options apply to every request.
func NewOpenAIProvider(opts ...option.RequestOption) *OpenAIProvider {
	return &OpenAIProvider{opts: opts}
}

// ID returns the provider identifier
func (p *OpenAIProvider) ID() string {
	return "openai"
}

// Send streams the request and collects the reply.
func (p *OpenAIProvider) Send(ctx context.Context, req *ChatRequest) (*Reply, error) {
	return Collect(ctx, p, req)
}

// Stream sends a request and returns streaming events
func (p *OpenAIProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	if req.APIKey == "" {
		return nil, &ProviderError{Kind: KindConfig, Provider: p.ID(), Message: "OpenAI API Key is missing"}
	}

	opts := append([]option.RequestOption{option.WithAPIKey(req.APIKey)}, p.opts...)
	if req.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(req.BaseURL))
	}
	client := openai.NewClient(opts...)

	model := req.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: p.buildMessages(req),
	}

	logging.Debugf("[OpenAI] Sending request: model=%s messages=%d", model, len(params.Messages))

	stream := client.Chat.Completions.NewStreaming(ctx, params)

	events := make(chan StreamEvent, 100)
	go p.handleStream(ctx, stream, events)
	return events, nil
}

// buildMessages converts history and the current ask to OpenAI format
func (p *OpenAIProvider) buildMessages(req *ChatRequest) []openai.ChatCompletionMessageParamUnion {
	var result []openai.ChatCompletionMessageParamUnion

	if req.System != "" {
		result = append(result, openai.SystemMessage(req.System))
	}

	for _, turn := range req.History {
		if turn.Role == "model" {
			if turn.Text != "" {
				result = append(result, openai.AssistantMessage(turn.Text))
			}
			continue
		}
		result = append(result, openAIUserMessage(turn.Text, turn.Attachments))
	}

	return append(result, openAIUserMessage(req.Text, req.Attachments))
}

func openAIUserMessage(text string, attachments []Attachment) openai.ChatCompletionMessageParamUnion {
	if len(attachments) == 0 {
		return openai.UserMessage(text)
	}
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(attachments)+1)
	if text != "" {
		parts = append(parts, openai.TextContentPart(text))
	}
	for _, a := range attachments {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: "data:" + a.MimeType + ";base64," + a.RawData(),
		}))
	}
	return openai.UserMessage(parts)
}

// handleStream processes the streaming response
func (p *OpenAIProvider) handleStream(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk], events chan<- StreamEvent) {
	defer close(events)
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}

		// reasoning_content is a non-standard field sent by DeepSeek-style servers
		if reasoning := gjson.Get(chunk.RawJSON(), "choices.0.delta.reasoning_content").String(); reasoning != "" {
			if !send(ctx, events, StreamEvent{Type: EventTypeThinking, Text: reasoning}) {
				return
			}
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			if !send(ctx, events, StreamEvent{Type: EventTypeText, Text: content}) {
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		logging.Debugf("[OpenAI] Stream error: %v", err)
		send(ctx, events, StreamEvent{Type: EventTypeError, Error: p.classify(ctx, err)})
		return
	}
	send(ctx, events, StreamEvent{Type: EventTypeDone})
}

func (p *OpenAIProvider) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return Wrap(KindCanceled, p.ID(), ctx.Err())
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		pe := Wrap(KindOfStatus(apiErr.StatusCode), p.ID(), err)
		pe.Status = apiErr.StatusCode
		pe.Message = fmt.Sprintf("%d: %s", apiErr.StatusCode, apiErr.Message)
		return pe
	}
	return &ProviderError{Kind: KindTransient, Provider: p.ID(), Message: "Network Error: " + err.Error(), Err: err}
}
