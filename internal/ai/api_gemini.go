package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/neboloop/nexus/internal/logging"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.5-flash"
)

// GeminiProvider talks to the Gemini generateContent REST API with an API key.
type GeminiProvider struct {
	baseURL string
	client  *http.Client
}

// GeminiContent represents content in Gemini format
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart represents a part of content
type GeminiPart struct {
	Text             string            `json:"text,omitempty"`
	InlineData       *GeminiInlineData `json:"inlineData,omitempty"`
	Thought          bool              `json:"thought,omitempty"`
	ThoughtSignature string            `json:"thoughtSignature,omitempty"`
}

// GeminiInlineData is a base64 encoded file part.
type GeminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GeminiRequest represents a request to Gemini
type GeminiRequest struct {
	Contents          []GeminiContent  `json:"contents"`
	SystemInstruction *GeminiContent   `json:"systemInstruction,omitempty"`
	GenerationConfig  *GeminiGenConfig `json:"generationConfig,omitempty"`
}

// GeminiGenConfig represents generation configuration
type GeminiGenConfig struct {
	ThinkingConfig *GeminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

// GeminiThinkingConfig selects the reasoning depth.
type GeminiThinkingConfig struct {
	ThinkingLevel   string `json:"thinkingLevel,omitempty"`
	IncludeThoughts bool   `json:"includeThoughts"`
}

// GeminiStreamResponse represents a streaming response
type GeminiStreamResponse struct {
	Candidates []struct {
		Content struct {
			Parts []GeminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(baseURL string, timeout time.Duration) *GeminiProvider {
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &GeminiProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// ID returns the provider identifier
func (p *GeminiProvider) ID() string {
	return "gemini"
}

// Send streams the request and collects the reply.
func (p *GeminiProvider) Send(ctx context.Context, req *ChatRequest) (*Reply, error) {
	return Collect(ctx, p, req)
}

// Stream sends a request to Gemini and streams the response
func (p *GeminiProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	if req.APIKey == "" {
		return nil, &ProviderError{Kind: KindConfig, Provider: p.ID(), Message: "API Key is missing"}
	}

	model := req.Model
	if model == "" {
		model = defaultGeminiModel
	}

	body, err := json.Marshal(p.buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", req.APIKey)

	logging.Debugf("[Gemini] Sending request: model=%s history=%d attachments=%d",
		model, len(req.History), len(req.Attachments))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Wrap(KindCanceled, p.ID(), ctx.Err())
		}
		return nil, &ProviderError{Kind: KindTransient, Provider: p.ID(), Message: "Network Error: " + err.Error(), Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, StatusError(p.ID(), resp.StatusCode, geminiErrorMessage(data))
	}

	events := make(chan StreamEvent, 100)
	go p.handleStream(ctx, resp.Body, events)
	return events, nil
}

func (p *GeminiProvider) buildRequest(req *ChatRequest) GeminiRequest {
	contents := make([]GeminiContent, 0, len(req.History)+1)
	for _, turn := range req.History {
		role := turn.Role
		if role != "model" {
			role = "user"
		}
		contents = append(contents, GeminiContent{Role: role, Parts: geminiParts(turn.Text, turn.Attachments)})
	}
	contents = append(contents, GeminiContent{Role: "user", Parts: geminiParts(req.Text, req.Attachments)})

	gr := GeminiRequest{Contents: normalizeContents(contents)}
	if req.System != "" {
		gr.SystemInstruction = &GeminiContent{Parts: []GeminiPart{{Text: req.System}}}
	}
	if req.ThinkingLevel != "" {
		gr.GenerationConfig = &GeminiGenConfig{
			ThinkingConfig: &GeminiThinkingConfig{ThinkingLevel: req.ThinkingLevel, IncludeThoughts: true},
		}
	}
	return gr
}

func geminiParts(text string, attachments []Attachment) []GeminiPart {
	parts := make([]GeminiPart, 0, len(attachments)+1)
	for _, a := range attachments {
		parts = append(parts, GeminiPart{InlineData: &GeminiInlineData{MimeType: a.MimeType, Data: a.RawData()}})
	}
	if text != "" || len(parts) == 0 {
		parts = append(parts, GeminiPart{Text: text})
	}
	return parts
}

// normalizeContents merges consecutive same-role turns; Gemini requires alternation.
func normalizeContents(contents []GeminiContent) []GeminiContent {
	normalized := make([]GeminiContent, 0, len(contents))
	for _, c := range contents {
		if n := len(normalized); n > 0 && normalized[n-1].Role == c.Role {
			normalized[n-1].Parts = append(normalized[n-1].Parts, c.Parts...)
			continue
		}
		if len(normalized) == 0 && c.Role != "user" {
			normalized = append(normalized, GeminiContent{Role: "user", Parts: []GeminiPart{{Text: "Continue."}}})
		}
		normalized = append(normalized, c)
	}
	return normalized
}

func (p *GeminiProvider) handleStream(ctx context.Context, body io.ReadCloser, events chan<- StreamEvent) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		// SSE format: "data: {...}"
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" {
			continue
		}

		var chunk GeminiStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.Error != nil {
			send(ctx, events, StreamEvent{
				Type:  EventTypeError,
				Error: StatusError(p.ID(), chunk.Error.Code, chunk.Error.Message),
			})
			return
		}

		for _, candidate := range chunk.Candidates {
			for _, part := range candidate.Content.Parts {
				if part.ThoughtSignature != "" {
					if !send(ctx, events, StreamEvent{Type: EventTypeSignature, Text: part.ThoughtSignature}) {
						return
					}
				}
				var ev StreamEvent
				switch {
				case part.InlineData != nil:
					ev = StreamEvent{Type: EventTypeImage, Text: "data:" + part.InlineData.MimeType + ";base64," + part.InlineData.Data}
				case part.Thought:
					ev = StreamEvent{Type: EventTypeThinking, Text: part.Text}
				case part.Text != "":
					ev = StreamEvent{Type: EventTypeText, Text: part.Text}
				default:
					continue
				}
				if !send(ctx, events, ev) {
					return
				}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		kind := KindTransient
		if ctx.Err() != nil {
			kind = KindCanceled
		}
		send(ctx, events, StreamEvent{
			Type:  EventTypeError,
			Error: &ProviderError{Kind: kind, Provider: p.ID(), Message: "stream read error: " + err.Error(), Err: err},
		})
		return
	}
	send(ctx, events, StreamEvent{Type: EventTypeDone})
}

// geminiErrorMessage extracts error.message from a Gemini error body.
func geminiErrorMessage(body []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return string(body)
}
