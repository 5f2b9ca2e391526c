package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"mime/multipart"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/neboloop/nexus/internal/logging"
)

const (
	defaultWebBaseURL   = "https://gemini.google.com"
	defaultWebUploadURL = "https://content-push.googleapis.com/upload"
	defaultUserAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	streamGeneratePath  = "/_/BardChatUi/data/assistant.lamda.BardFrontendService/StreamGenerate"
	uploadPushID        = "feeds/mcudyrk2a4khkz"
	frameGuard          = ")]}'"
)

// WebModelHeaders maps model names to the x-goog-ext-525001261-jspb header
// value that selects them. Unknown models use the account default.
var WebModelHeaders = map[string]string{
	"gemini-2.5-flash": `[1,null,null,null,"71c2d248d3b102ff",null,null,0,[4]]`,
	"gemini-2.5-pro":   `[1,null,null,null,"4af6c7f5da75d65d",null,null,0,[4]]`,
}

var (
	atTokenRe    = regexp.MustCompile(`"SNlM0e":"(.*?)"`)
	buildLabelRe = regexp.MustCompile(`"cfb2h":"(.*?)"`)
	sessionIDRe  = regexp.MustCompile(`"FdrFJe":"(.*?)"`)
)

// WebContext is the session state of the web backend: page tokens scraped
// from the app page plus the ids that continue a conversation.
type WebContext struct {
	AtValue    string    `json:"atValue"`
	BuildLabel string    `json:"blValue"`
	SessionID  string    `json:"sid"`
	AuthUser   string    `json:"authUser"`
	ContextIDs [3]string `json:"contextIds"` // conversation, response, choice
}

// CookieSource returns the Cookie header for an account.
type CookieSource func(ctx context.Context, accountIndex int) (string, error)

// WebConfig configures a WebClient.
type WebConfig struct {
	BaseURL   string
	UploadURL string
	UserAgent string
	Timeout   time.Duration
	Cookies   CookieSource
}

// WebClient speaks the Gemini web app protocol using a signed-in browser session.
type WebClient struct {
	baseURL   string
	uploadURL string
	userAgent string
	cookies   CookieSource
	client    *http.Client
}

// NewWebClient creates a web session client.
func NewWebClient(cfg WebConfig) *WebClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultWebBaseURL
	}
	if cfg.UploadURL == "" {
		cfg.UploadURL = defaultWebUploadURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &WebClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		uploadURL: cfg.UploadURL,
		userAgent: cfg.UserAgent,
		cookies:   cfg.Cookies,
		client:    &http.Client{Timeout: cfg.Timeout},
	}
}

// ID returns the provider identifier
func (c *WebClient) ID() string {
	return "web"
}

// Send streams the request and collects the reply.
func (c *WebClient) Send(ctx context.Context, req *ChatRequest) (*Reply, error) {
	return Collect(ctx, c, req)
}

// FetchContext loads the app page for an account and scrapes its session tokens.
func (c *WebClient) FetchContext(ctx context.Context, accountIndex int) (*WebContext, error) {
	pageURL := fmt.Sprintf("%s/u/%d/app", c.baseURL, accountIndex)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	if err := c.setHeaders(ctx, httpReq, accountIndex); err != nil {
		return nil, err
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, c.networkError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.networkError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp.StatusCode, string(body))
	}

	at := firstMatch(atTokenRe, body)
	if at == "" {
		return nil, &ProviderError{Kind: KindAuth, Provider: c.ID(), Message: "Not logged in"}
	}
	wc := &WebContext{
		AtValue:    at,
		BuildLabel: firstMatch(buildLabelRe, body),
		SessionID:  firstMatch(sessionIDRe, body),
		AuthUser:   strconv.Itoa(accountIndex),
	}
	logging.Debugf("[Web] Fetched context for account %d (bl=%s)", accountIndex, wc.BuildLabel)
	return wc, nil
}

// Stream sends a prompt over StreamGenerate and streams the response
func (c *WebClient) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	wc := req.Context
	if wc == nil {
		var err error
		if wc, err = c.FetchContext(ctx, req.AccountIndex); err != nil {
			return nil, err
		}
	}

	files := make([]any, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		id, err := c.upload(ctx, req.AccountIndex, a)
		if err != nil {
			return nil, err
		}
		files = append(files, []any{[]any{id}, a.Name})
	}

	form, err := buildStreamForm(wc, req.Text, files)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	if wc.BuildLabel != "" {
		q.Set("bl", wc.BuildLabel)
	}
	if wc.SessionID != "" {
		q.Set("f.sid", wc.SessionID)
	}
	q.Set("hl", "en")
	q.Set("_reqid", strconv.Itoa(100000+rand.IntN(900000)))
	q.Set("rt", "c")

	endpoint := fmt.Sprintf("%s/u/%s%s?%s", c.baseURL, authUser(wc, req.AccountIndex), streamGeneratePath, q.Encode())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	if err := c.setHeaders(ctx, httpReq, req.AccountIndex); err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")
	httpReq.Header.Set("X-Same-Domain", "1")
	if h, ok := WebModelHeaders[req.Model]; ok {
		httpReq.Header.Set("x-goog-ext-525001261-jspb", h)
	}

	logging.Debugf("[Web] StreamGenerate: account=%d model=%s files=%d continuing=%v",
		req.AccountIndex, req.Model, len(files), wc.ContextIDs[0] != "")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, c.networkError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, c.statusError(resp.StatusCode, string(body))
	}

	events := make(chan StreamEvent, 100)
	go c.handleStream(ctx, resp.Body, wc, events)
	return events, nil
}

func buildStreamForm(wc *WebContext, prompt string, files []any) (url.Values, error) {
	var message []any
	if len(files) > 0 {
		message = []any{prompt, 0, nil, files}
	} else {
		message = []any{prompt}
	}
	ids := []any{wc.ContextIDs[0], wc.ContextIDs[1], wc.ContextIDs[2]}
	inner, err := json.Marshal([]any{message, nil, ids})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	outer, err := json.Marshal([]any{nil, string(inner)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return url.Values{"at": {wc.AtValue}, "f.req": {string(outer)}}, nil
}

// upload pushes an attachment to the content-push service and returns its file id.
func (c *WebClient) upload(ctx context.Context, accountIndex int, a Attachment) (string, error) {
	data, err := base64.StdEncoding.DecodeString(a.RawData())
	if err != nil {
		return "", &ProviderError{Kind: KindConfig, Provider: c.ID(), Message: "invalid attachment data: " + a.Name, Err: err}
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", a.Name)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, &buf)
	if err != nil {
		return "", err
	}
	if err := c.setHeaders(ctx, httpReq, accountIndex); err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Push-ID", uploadPushID)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", c.networkError(ctx, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", c.networkError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp.StatusCode, string(body))
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *WebClient) handleStream(ctx context.Context, body io.ReadCloser, wc *WebContext, events chan<- StreamEvent) {
	defer close(events)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 1024*1024), 32*1024*1024)

	var text, thoughts string
	var images []string
	next := *wc
	found := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == frameGuard || !strings.HasPrefix(line, "[") {
			continue
		}
		for _, frame := range parseFrames(line) {
			if code := frame.errorCode; code != 0 {
				send(ctx, events, StreamEvent{Type: EventTypeError, Error: c.frameError(code)})
				return
			}
			found = true
			if frame.cid != "" {
				next.ContextIDs = [3]string{frame.cid, frame.rid, frame.rcid}
			}
			if len(frame.thoughts) > len(thoughts) && strings.HasPrefix(frame.thoughts, thoughts) {
				if !send(ctx, events, StreamEvent{Type: EventTypeThinking, Text: frame.thoughts[len(thoughts):]}) {
					return
				}
				thoughts = frame.thoughts
			}
			if len(frame.text) > len(text) && strings.HasPrefix(frame.text, text) {
				if !send(ctx, events, StreamEvent{Type: EventTypeText, Text: frame.text[len(text):]}) {
					return
				}
				text = frame.text
			}
			if len(frame.images) > 0 {
				images = frame.images
			}
		}
	}

	if err := scanner.Err(); err != nil {
		send(ctx, events, StreamEvent{Type: EventTypeError, Error: c.networkError(ctx, err)})
		return
	}
	if !found || (text == "" && len(images) == 0) {
		send(ctx, events, StreamEvent{
			Type:  EventTypeError,
			Error: &ProviderError{Kind: KindTransient, Provider: c.ID(), Message: "No valid response found"},
		})
		return
	}
	for _, img := range images {
		if !send(ctx, events, StreamEvent{Type: EventTypeImage, Text: img}) {
			return
		}
	}
	send(ctx, events, StreamEvent{Type: EventTypeDone, Context: &next})
}

type webFrame struct {
	cid, rid, rcid string
	text, thoughts string
	images         []string
	errorCode      int64
}

// parseFrames extracts the payloads of a StreamGenerate line:
// [["wrb.fr",null,"<inner json>"],...]
func parseFrames(line string) []webFrame {
	if !gjson.Valid(line) {
		return nil
	}
	var frames []webFrame
	gjson.Parse(line).ForEach(func(_, entry gjson.Result) bool {
		if entry.Get("0").String() != "wrb.fr" {
			return true
		}
		inner := entry.Get("2")
		if inner.Type != gjson.String {
			// ["wrb.fr",null,null,null,null,[<code>]] signals a server side error
			if code := entry.Get("5.0").Int(); code != 0 {
				frames = append(frames, webFrame{errorCode: code})
			}
			return true
		}
		payload := gjson.Parse(inner.String())
		candidate := payload.Get("4.0")
		if !candidate.Exists() {
			return true
		}
		f := webFrame{
			cid:      payload.Get("1.0").String(),
			rid:      payload.Get("1.1").String(),
			rcid:     candidate.Get("0").String(),
			text:     candidate.Get("1.0").String(),
			thoughts: candidate.Get("37.0.0").String(),
		}
		candidate.Get("12.7.0").ForEach(func(_, img gjson.Result) bool {
			if u := img.Get("0.3.3").String(); u != "" {
				f.images = append(f.images, u)
			}
			return true
		})
		candidate.Get("12.1").ForEach(func(_, img gjson.Result) bool {
			if u := img.Get("0.0.0").String(); u != "" {
				f.images = append(f.images, u)
			}
			return true
		})
		frames = append(frames, f)
		return true
	})
	return frames
}

func (c *WebClient) setHeaders(ctx context.Context, req *http.Request, accountIndex int) error {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("Referer", c.baseURL+"/")
	if c.cookies == nil {
		return nil
	}
	cookie, err := c.cookies(ctx, accountIndex)
	if err != nil {
		return fmt.Errorf("load cookies: %w", err)
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	return nil
}

func (c *WebClient) networkError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return Wrap(KindCanceled, c.ID(), ctx.Err())
	}
	return &ProviderError{Kind: KindTransient, Provider: c.ID(), Message: "Network Error: " + err.Error(), Err: err}
}

// statusError maps a failed response. 401/403 are Auth, 429 is RateLimit
// and 5xx is Transient; any other status stays unclassified and is not retried.
func (c *WebClient) statusError(status int, body string) error {
	return StatusError(c.ID(), status, truncate(body, 200))
}

// frameError maps a StreamGenerate error code. Only the known limit codes
// are retryable.
func (c *WebClient) frameError(code int64) error {
	kind := KindUnknown
	switch code {
	case 1037, 1060: // usage limit, IP temporarily blocked
		kind = KindRateLimit
	}
	return &ProviderError{Kind: kind, Provider: c.ID(), Code: strconv.FormatInt(code, 10), Message: fmt.Sprintf("StreamGenerate error code %d", code)}
}

func authUser(wc *WebContext, accountIndex int) string {
	if wc.AuthUser != "" {
		return wc.AuthUser
	}
	return strconv.Itoa(accountIndex)
}

func firstMatch(re *regexp.Regexp, body []byte) string {
	m := re.FindSubmatch(body)
	if len(m) < 2 {
		return ""
	}
	return string(m[1])
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
