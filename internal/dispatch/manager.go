// Package dispatch routes an ask to the configured backend and turns the
// outcome into a single normalized reply.
package dispatch

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/neboloop/nexus/internal/ai"
	"github.com/neboloop/nexus/internal/logging"
	"github.com/neboloop/nexus/internal/settings"
)

var (
	// ErrCanceled is returned when a dispatch was cancelled or superseded.
	// No reply is produced in that case.
	ErrCanceled = errors.New("request canceled")

	// ErrMissingAPIKey is reported when the authenticated backend has no key.
	ErrMissingAPIKey = &ai.ProviderError{Kind: ai.KindConfig, Message: "API Key is missing. Please check settings."}
)

// HistoryStore returns the prior turns of a session.
type HistoryStore interface {
	GetHistory(ctx context.Context, sessionID string) ([]ai.Turn, error)
}

// AuthSession tracks web accounts and the web session context.
type AuthSession interface {
	EnsureInitialized(ctx context.Context) error
	GetOrFetchContext(ctx context.Context) (*ai.WebContext, error)
	UpdateContext(ctx context.Context, wc *ai.WebContext, model string) error
	ResetContext(ctx context.Context) error
	ForceContextRefresh()
	CheckModelChange(model string) bool
	RotateAccount(ctx context.Context) (int, error)
	CurrentIndex() int
	AccountIndices() []int
}

// Adapters holds one adapter per backend. Nil adapters report a configuration error.
type Adapters struct {
	Authenticated ai.Adapter
	OpenAI        ai.Adapter
	Anthropic     ai.Adapter
	Web           ai.Adapter
}

// Options configures a Manager.
type Options struct {
	Settings settings.Store
	History  HistoryStore
	Auth     AuthSession
	Adapters Adapters
	Locale   string

	// BackoffUnit scales the wait between web attempts (2^attempt units
	// plus up to one unit of jitter). Defaults to one second.
	BackoffUnit time.Duration
	// Jitter returns the random part of a wait given the unit. Defaults to uniform [0, unit).
	Jitter func(unit time.Duration) time.Duration
}

// Manager dispatches asks. At most one request is in flight per manager;
// a new request cancels the previous one.
type Manager struct {
	resolver *Resolver
	history  HistoryStore
	auth     AuthSession
	adapters Adapters
	locale   Locale

	backoffUnit time.Duration
	jitter      func(time.Duration) time.Duration
	onRetry     func(attempt int, wait time.Duration)

	mu       sync.Mutex
	inflight *inflight
}

type inflight struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a dispatch manager.
func NewManager(opts Options) *Manager {
	m := &Manager{
		resolver:    NewResolver(opts.Settings),
		history:     opts.History,
		auth:        opts.Auth,
		adapters:    opts.Adapters,
		locale:      ParseLocale(opts.Locale),
		backoffUnit: opts.BackoffUnit,
		jitter:      opts.Jitter,
	}
	if m.backoffUnit <= 0 {
		m.backoffUnit = time.Second
	}
	if m.jitter == nil {
		m.jitter = func(unit time.Duration) time.Duration {
			if unit <= 0 {
				return 0
			}
			return rand.N(unit)
		}
	}
	return m
}

// Dispatch runs one ask to completion. It returns exactly one reply, or
// ErrCanceled when the request was cancelled or replaced by a newer one.
func (m *Manager) Dispatch(ctx context.Context, req *Request, onUpdate ai.UpdateFunc) (*Reply, error) {
	h, err := m.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer m.finish(h)

	reply, provider, err := m.dispatch(h.ctx, req, onUpdate)
	if h.ctx.Err() != nil || (err != nil && ai.KindOf(err) == ai.KindCanceled) {
		logging.Debugf("[Dispatch] Request canceled")
		return nil, ErrCanceled
	}
	if err != nil {
		logging.Errorf("[Dispatch] %s request failed: %v", provider, err)
		return m.translate(h.ctx, err, provider), nil
	}
	return reply, nil
}

// begin cancels any in-flight request, waits for it to unwind, then installs a new handle.
func (m *Manager) begin(parent context.Context) (*inflight, error) {
	ctx, cancel := context.WithCancel(parent)
	h := &inflight{ctx: ctx, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	prev := m.inflight
	m.inflight = h
	m.mu.Unlock()

	if prev != nil {
		prev.cancel()
		select {
		case <-prev.done:
		case <-ctx.Done():
			m.finish(h)
			return nil, ErrCanceled
		}
	}
	return h, nil
}

// finish releases h. The handle is cleared only if it is still the current one.
func (m *Manager) finish(h *inflight) {
	m.mu.Lock()
	if m.inflight == h {
		m.inflight = nil
	}
	m.mu.Unlock()
	h.cancel()
	close(h.done)
}

// CancelCurrentRequest cancels the in-flight request, if any, and reports whether one existed.
func (m *Manager) CancelCurrentRequest() bool {
	m.mu.Lock()
	h := m.inflight
	m.inflight = nil
	m.mu.Unlock()

	if h == nil {
		return false
	}
	h.cancel()
	logging.Infof("[Dispatch] Cancelled current request")
	return true
}

// SetContext stores a web session context produced elsewhere.
func (m *Manager) SetContext(ctx context.Context, wc *ai.WebContext, model string) error {
	return m.auth.UpdateContext(ctx, wc, model)
}

// ResetContext clears the web session context.
func (m *Manager) ResetContext(ctx context.Context) error {
	return m.auth.ResetContext(ctx)
}

func (m *Manager) dispatch(ctx context.Context, req *Request, onUpdate ai.UpdateFunc) (*Reply, Provider, error) {
	cs, err := m.resolver.Resolve(ctx)
	if err != nil {
		return nil, "", err
	}
	attachments := req.Attachments()

	switch cs.Provider {
	case ProviderAuthenticated:
		if cs.ActiveCredential == "" {
			return nil, cs.Provider, ErrMissingAPIKey
		}
		reply, err := m.sendStateless(ctx, m.adapters.Authenticated, req, &ai.ChatRequest{
			Model:         req.Model,
			APIKey:        cs.ActiveCredential,
			ThinkingLevel: cs.ThinkingLevel,
			Attachments:   attachments,
			OnUpdate:      onUpdate,
		})
		return reply, cs.Provider, err

	case ProviderOpenAI:
		reply, err := m.sendStateless(ctx, m.adapters.OpenAI, req, &ai.ChatRequest{
			Model:       cs.OpenAI.Model,
			APIKey:      cs.OpenAI.APIKey,
			BaseURL:     cs.OpenAI.BaseURL,
			Attachments: attachments,
			OnUpdate:    onUpdate,
		})
		return reply, cs.Provider, err

	case ProviderAnthropic:
		reply, err := m.sendStateless(ctx, m.adapters.Anthropic, req, &ai.ChatRequest{
			Model:         cs.Anthropic.Model,
			APIKey:        cs.Anthropic.APIKey,
			ThinkingLevel: cs.ThinkingLevel,
			Attachments:   attachments,
			OnUpdate:      onUpdate,
		})
		return reply, cs.Provider, err

	default:
		reply, err := m.runWebFlow(ctx, req, attachments, onUpdate)
		return reply, ProviderWeb, err
	}
}

// sendStateless loads history once and calls the adapter once. No retries.
func (m *Manager) sendStateless(ctx context.Context, adapter ai.Adapter, req *Request, chat *ai.ChatRequest) (*Reply, error) {
	if adapter == nil {
		return nil, &ai.ProviderError{Kind: ai.KindConfig, Message: "provider not configured"}
	}

	if m.history != nil {
		history, err := m.history.GetHistory(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		chat.History = history
	}
	chat.Text = req.Text
	chat.System = req.SystemInstruction

	reply, err := adapter.Send(ctx, chat)
	if err != nil {
		return nil, err
	}
	return successReply(reply, nil), nil
}
