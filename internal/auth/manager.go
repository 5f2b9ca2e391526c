// Package auth tracks the signed-in web accounts and the session context
// used to talk to the web backend.
package auth

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/neboloop/nexus/internal/ai"
	"github.com/neboloop/nexus/internal/logging"
	"github.com/neboloop/nexus/internal/settings"
)

// ContextFetcher loads a fresh session context for an account.
type ContextFetcher interface {
	FetchContext(ctx context.Context, accountIndex int) (*ai.WebContext, error)
}

// Manager owns the account ring and the current web session context.
type Manager struct {
	store   settings.Store
	fetcher ContextFetcher

	mu          sync.Mutex
	initialized bool
	accounts    []int
	cursor      int
	current     *ai.WebContext
	model       string
}

// NewManager creates an account manager. The fetcher may be set later with SetFetcher.
func NewManager(store settings.Store, fetcher ContextFetcher) *Manager {
	return &Manager{store: store, fetcher: fetcher}
}

// SetFetcher replaces the context fetcher.
func (m *Manager) SetFetcher(f ContextFetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetcher = f
}

// EnsureInitialized loads accounts, cursor and any persisted context once.
func (m *Manager) EnsureInitialized(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}
	return m.loadLocked(ctx)
}

// Reload re-reads the persisted state, picking up changes made by other processes.
func (m *Manager) Reload(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadLocked(ctx)
}

func (m *Manager) loadLocked(ctx context.Context) error {
	vals, err := m.store.GetMany(ctx, settings.KeyAccountIndices, settings.KeyAccountPointer, settings.KeyWebContext, settings.KeyWebContextModel)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}

	m.accounts = ParseIndices(vals[settings.KeyAccountIndices])
	m.cursor = 0
	if p, err := strconv.Atoi(vals[settings.KeyAccountPointer]); err == nil && p >= 0 && p < len(m.accounts) {
		m.cursor = p
	}

	m.current, m.model = nil, ""
	var wc ai.WebContext
	if ok, err := settings.GetJSON(ctx, m.store, settings.KeyWebContext, &wc); err != nil {
		logging.Warnf("[Auth] Ignoring unreadable stored context: %v", err)
	} else if ok {
		m.current = &wc
		m.model = vals[settings.KeyWebContextModel]
	}

	m.initialized = true
	return nil
}

// GetOrFetchContext returns the current context, fetching one for the
// current account when none is held.
func (m *Manager) GetOrFetchContext(ctx context.Context) (*ai.WebContext, error) {
	m.mu.Lock()
	if m.current != nil {
		wc := *m.current
		m.mu.Unlock()
		return &wc, nil
	}
	idx := m.currentIndexLocked()
	fetcher := m.fetcher
	m.mu.Unlock()

	if fetcher == nil {
		return nil, &ai.ProviderError{Kind: ai.KindConfig, Provider: "web", Message: "web client not configured"}
	}
	logging.Debugf("[Auth] Fetching context for account %d", idx)
	wc, err := fetcher.FetchContext(ctx, idx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = wc
	m.mu.Unlock()
	cp := *wc
	return &cp, nil
}

// UpdateContext stores the context produced by a successful call for model.
func (m *Manager) UpdateContext(ctx context.Context, wc *ai.WebContext, model string) error {
	if wc == nil {
		return nil
	}
	cp := *wc
	m.mu.Lock()
	m.current = &cp
	m.model = model
	m.mu.Unlock()

	if err := settings.SetJSON(ctx, m.store, settings.KeyWebContext, cp); err != nil {
		return err
	}
	return m.store.Set(ctx, settings.KeyWebContextModel, model)
}

// ResetContext clears the held and persisted context.
func (m *Manager) ResetContext(ctx context.Context) error {
	m.mu.Lock()
	m.current = nil
	m.model = ""
	m.mu.Unlock()
	return m.store.Delete(ctx, settings.KeyWebContext, settings.KeyWebContextModel)
}

// ForceContextRefresh drops the held context so the next call fetches a new one.
func (m *Manager) ForceContextRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
}

// CheckModelChange drops the held context when it was produced for another model.
func (m *Manager) CheckModelChange(model string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil && m.model != "" && m.model != model {
		logging.Infof("[Auth] Model changed from %s to %s, resetting context", m.model, model)
		m.current = nil
		return true
	}
	return false
}

// RotateAccount advances the cursor to the next account and returns its index.
func (m *Manager) RotateAccount(ctx context.Context) (int, error) {
	m.mu.Lock()
	n := len(m.accounts)
	m.mu.Unlock()
	if n <= 1 {
		return m.CurrentIndex(), nil
	}

	next, err := m.store.Update(ctx, settings.KeyAccountPointer, func(cur string, _ bool) (string, error) {
		p, err := strconv.Atoi(cur)
		if err != nil || p < 0 || p >= n {
			p = 0
		}
		return strconv.Itoa((p + 1) % n), nil
	})
	if err != nil {
		return 0, fmt.Errorf("rotate account: %w", err)
	}

	p, _ := strconv.Atoi(next)
	m.mu.Lock()
	m.cursor = p
	m.current = nil
	idx := m.currentIndexLocked()
	m.mu.Unlock()

	logging.Infof("[Auth] Rotated to account index %d", idx)
	return idx, nil
}

// CurrentIndex returns the account index at the cursor.
func (m *Manager) CurrentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentIndexLocked()
}

func (m *Manager) currentIndexLocked() int {
	if len(m.accounts) == 0 {
		return 0
	}
	if m.cursor < 0 || m.cursor >= len(m.accounts) {
		m.cursor = 0
	}
	return m.accounts[m.cursor]
}

// AccountIndices returns the configured account indices.
func (m *Manager) AccountIndices() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, len(m.accounts))
	copy(out, m.accounts)
	return out
}

// SetAccounts replaces the account ring and resets the cursor and context.
func (m *Manager) SetAccounts(ctx context.Context, indices []int) error {
	if len(indices) == 0 {
		indices = []int{0}
	}
	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = strconv.Itoa(idx)
	}
	if err := m.store.Set(ctx, settings.KeyAccountIndices, strings.Join(parts, ",")); err != nil {
		return err
	}
	if err := m.store.Set(ctx, settings.KeyAccountPointer, "0"); err != nil {
		return err
	}

	m.mu.Lock()
	m.accounts = append([]int(nil), indices...)
	m.cursor = 0
	m.current = nil
	m.initialized = true
	m.mu.Unlock()
	return m.store.Delete(ctx, settings.KeyWebContext, settings.KeyWebContextModel)
}

// Snapshot returns the held context and its model, if any.
func (m *Manager) Snapshot() (*ai.WebContext, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, m.model
	}
	cp := *m.current
	return &cp, m.model
}

// Cookie returns the stored browser cookie. Google serves every signed-in
// account from one cookie jar, so the account index only selects the /u/ path.
func (m *Manager) Cookie(ctx context.Context, _ int) (string, error) {
	v, _, err := m.store.Get(ctx, settings.KeyWebCookie)
	return v, err
}

// ParseIndices parses "0,2" or "[0,2]" into account indices. Invalid and
// negative entries are dropped; an empty result defaults to [0].
func ParseIndices(s string) []int {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return []int{0}
	}
	return out
}
