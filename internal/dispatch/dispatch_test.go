package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/nexus/internal/ai"
	"github.com/neboloop/nexus/internal/auth"
	"github.com/neboloop/nexus/internal/settings"
)

// scriptedAdapter answers each call with the next scripted function.
type scriptedAdapter struct {
	mu    sync.Mutex
	calls []ai.ChatRequest
	fn    func(ctx context.Context, call int, req *ai.ChatRequest) (*ai.Reply, error)
}

func (a *scriptedAdapter) Send(ctx context.Context, req *ai.ChatRequest) (*ai.Reply, error) {
	a.mu.Lock()
	a.calls = append(a.calls, *req)
	n := len(a.calls)
	a.mu.Unlock()
	return a.fn(ctx, n, req)
}

func (a *scriptedAdapter) Calls() []ai.ChatRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ai.ChatRequest(nil), a.calls...)
}

func replyWith(text string) func(context.Context, int, *ai.ChatRequest) (*ai.Reply, error) {
	return func(context.Context, int, *ai.ChatRequest) (*ai.Reply, error) {
		return &ai.Reply{Text: text}, nil
	}
}

func failWith(err error) func(context.Context, int, *ai.ChatRequest) (*ai.Reply, error) {
	return func(context.Context, int, *ai.ChatRequest) (*ai.Reply, error) {
		return nil, err
	}
}

type countingFetcher struct {
	mu    sync.Mutex
	calls []int
}

func (f *countingFetcher) FetchContext(_ context.Context, idx int) (*ai.WebContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, idx)
	return &ai.WebContext{AtValue: "at", ContextIDs: [3]string{"", "", ""}}, nil
}

type memHistory map[string][]ai.Turn

func (h memHistory) GetHistory(_ context.Context, id string) ([]ai.Turn, error) {
	return h[id], nil
}

type fixture struct {
	store   *settings.MemoryStore
	auth    *auth.Manager
	fetcher *countingFetcher
	web     *scriptedAdapter
	gemini  *scriptedAdapter
	openai  *scriptedAdapter
	manager *Manager
	waits   []time.Duration
}

func newFixture(t *testing.T, seed map[string]string, locale string) *fixture {
	t.Helper()
	f := &fixture{
		store:   settings.NewMemoryStore(seed),
		fetcher: &countingFetcher{},
		web:     &scriptedAdapter{fn: replyWith("web reply")},
		gemini:  &scriptedAdapter{fn: replyWith("gemini reply")},
		openai:  &scriptedAdapter{fn: replyWith("openai reply")},
	}
	f.auth = auth.NewManager(f.store, f.fetcher)
	f.manager = NewManager(Options{
		Settings: f.store,
		History:  memHistory{"s1": {{Role: "user", Text: "earlier"}, {Role: "model", Text: "answer"}}},
		Auth:     f.auth,
		Adapters: Adapters{Authenticated: f.gemini, OpenAI: f.openai, Web: f.web},
		Locale:   locale,

		BackoffUnit: time.Millisecond,
		Jitter:      func(time.Duration) time.Duration { return 0 },
	})
	f.manager.onRetry = func(_ int, wait time.Duration) {
		f.waits = append(f.waits, wait)
	}
	return f
}

func TestResolverRoundRobin(t *testing.T) {
	ctx := context.Background()
	store := settings.NewMemoryStore(map[string]string{
		settings.KeyProvider: "official",
		settings.KeyAPIKey:   " k1, k2 ,,k3 ",
	})
	r := NewResolver(store)

	var got []string
	for i := 0; i < 4; i++ {
		cs, err := r.Resolve(ctx)
		require.NoError(t, err)
		got = append(got, cs.ActiveCredential)
	}
	assert.Equal(t, []string{"k1", "k2", "k3", "k1"}, got)

	p, ok, err := settings.GetInt(ctx, store, settings.KeyAPIKeyPointer)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, p)
}

func TestResolverPointerReset(t *testing.T) {
	for _, stored := range []string{"5", "-1", "abc"} {
		t.Run(stored, func(t *testing.T) {
			ctx := context.Background()
			store := settings.NewMemoryStore(map[string]string{
				settings.KeyProvider:      "official",
				settings.KeyAPIKey:        "a,b",
				settings.KeyAPIKeyPointer: stored,
			})
			cs, err := NewResolver(store).Resolve(ctx)
			require.NoError(t, err)
			assert.Equal(t, "a", cs.ActiveCredential)

			v, _, _ := store.Get(ctx, settings.KeyAPIKeyPointer)
			assert.Equal(t, "1", v)
		})
	}
}

func TestResolverProviderSelection(t *testing.T) {
	tests := []struct {
		name       string
		seed       map[string]string
		provider   Provider
		credential string
	}{
		{"legacy official", map[string]string{settings.KeyUseOfficialAPI: "true", settings.KeyAPIKey: " key "}, ProviderAuthenticated, "key"},
		{"legacy web", map[string]string{settings.KeyUseOfficialAPI: "false"}, ProviderWeb, ""},
		{"nothing stored", map[string]string{}, ProviderWeb, ""},
		{"explicit wins", map[string]string{settings.KeyProvider: "openai", settings.KeyUseOfficialAPI: "true"}, ProviderOpenAI, ""},
		{"no rotation for other providers", map[string]string{settings.KeyProvider: "web", settings.KeyAPIKey: "a,b"}, ProviderWeb, "a,b"},
		{"anthropic", map[string]string{settings.KeyProvider: "anthropic"}, ProviderAnthropic, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := settings.NewMemoryStore(tt.seed)
			cs, err := NewResolver(store).Resolve(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.provider, cs.Provider)
			assert.Equal(t, tt.credential, cs.ActiveCredential)
			assert.Equal(t, "low", cs.ThinkingLevel)

			_, rotated, _ := store.Get(context.Background(), settings.KeyAPIKeyPointer)
			assert.False(t, rotated, "pointer must only move for the authenticated provider with several keys")
		})
	}
}

func TestRequestAttachments(t *testing.T) {
	legacy := &Request{Image: "QUJD"}
	got := legacy.Attachments()
	require.Len(t, got, 1)
	assert.Equal(t, "image.png", got[0].Name)
	assert.Equal(t, "image/png", got[0].MimeType)

	both := &Request{
		Image: "ignored",
		Files: []ai.Attachment{{Data: "a", MimeType: "application/pdf", Name: "a.pdf"}, {Data: "b", MimeType: "image/jpeg", Name: "b.jpg"}},
	}
	assert.Len(t, both.Attachments(), 2)
	assert.Nil(t, (&Request{}).Attachments())
}

func TestStatelessDispatch(t *testing.T) {
	f := newFixture(t, map[string]string{
		settings.KeyProvider: "official",
		settings.KeyAPIKey:   "k1,k2",
	}, "en")

	reply, err := f.manager.Dispatch(context.Background(), &Request{
		Text: "hi", SystemInstruction: "sys", SessionID: "s1", Model: "gemini-x", Image: "QUJD",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionReply, reply.Action)
	assert.Equal(t, StatusSuccess, reply.Status)
	assert.Equal(t, "gemini reply", reply.Text)
	assert.Nil(t, reply.Context)

	calls := f.gemini.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "k1", calls[0].APIKey)
	assert.Equal(t, "gemini-x", calls[0].Model)
	assert.Equal(t, "sys", calls[0].System)
	assert.Equal(t, "low", calls[0].ThinkingLevel)
	assert.Len(t, calls[0].History, 2)
	assert.Len(t, calls[0].Attachments, 1)
	assert.Empty(t, f.web.Calls())
}

func TestStatelessNeverRetries(t *testing.T) {
	f := newFixture(t, map[string]string{
		settings.KeyProvider:     "openai",
		settings.KeyOpenAIAPIKey: "sk",
		settings.KeyOpenAIModel:  "local",
	}, "en")
	f.openai.fn = failWith(&ai.ProviderError{Kind: ai.KindTransient, Message: "Network Error"})

	reply, err := f.manager.Dispatch(context.Background(), &Request{Text: "hi", Model: "ignored"}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusError, reply.Status)
	assert.Equal(t, "Error: Network Error", reply.Text)

	calls := f.openai.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "local", calls[0].Model)
	assert.Empty(t, f.waits)
}

func TestMissingAPIKey(t *testing.T) {
	f := newFixture(t, map[string]string{settings.KeyProvider: "official"}, "en")
	reply, err := f.manager.Dispatch(context.Background(), &Request{Text: "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "Error: API Key is missing. Please check settings.", reply.Text)
	assert.Empty(t, f.gemini.Calls())
}

func TestRateLimitTranslation(t *testing.T) {
	for _, tt := range []struct{ locale, want string }{
		{"en-US", "Error: Too many requests, please try again later (429)"},
		{"zh_CN.UTF-8", "Error: 请求过于频繁，请稍后再试 (429)"},
	} {
		t.Run(tt.locale, func(t *testing.T) {
			f := newFixture(t, map[string]string{settings.KeyProvider: "openai", settings.KeyOpenAIAPIKey: "sk"}, tt.locale)
			f.openai.fn = failWith(errors.New("429 Too Many Requests"))
			reply, err := f.manager.Dispatch(context.Background(), &Request{Text: "hi"}, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply.Text)
		})
	}
}

func TestNewRequestCancelsPrevious(t *testing.T) {
	f := newFixture(t, map[string]string{settings.KeyProvider: "openai", settings.KeyOpenAIAPIKey: "sk"}, "en")
	started := make(chan struct{})
	f.openai.fn = func(ctx context.Context, call int, req *ai.ChatRequest) (*ai.Reply, error) {
		if call == 1 {
			close(started)
			<-ctx.Done()
			return nil, ai.Wrap(ai.KindCanceled, "openai", ctx.Err())
		}
		return &ai.Reply{Text: "B"}, nil
	}

	type result struct {
		reply *Reply
		err   error
	}
	aDone := make(chan result, 1)
	go func() {
		r, err := f.manager.Dispatch(context.Background(), &Request{Text: "A"}, nil)
		aDone <- result{r, err}
	}()
	<-started

	b, err := f.manager.Dispatch(context.Background(), &Request{Text: "B"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "B", b.Text)

	a := <-aDone
	assert.ErrorIs(t, a.err, ErrCanceled)
	assert.Nil(t, a.reply, "a superseded request must not produce a reply")
	assert.False(t, f.manager.CancelCurrentRequest(), "handle should be cleared after completion")
}

func TestCancelCurrentRequest(t *testing.T) {
	f := newFixture(t, map[string]string{settings.KeyProvider: "openai", settings.KeyOpenAIAPIKey: "sk"}, "en")
	started := make(chan struct{})
	f.openai.fn = func(ctx context.Context, _ int, _ *ai.ChatRequest) (*ai.Reply, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.manager.Dispatch(context.Background(), &Request{Text: "A"}, nil)
		done <- err
	}()
	<-started

	assert.True(t, f.manager.CancelCurrentRequest())
	assert.ErrorIs(t, <-done, ErrCanceled)
	assert.False(t, f.manager.CancelCurrentRequest())
}

func TestWebAttemptBudget(t *testing.T) {
	tests := []struct {
		name     string
		accounts string
		err      error
		calls    int
	}{
		{"single account", "0", errors.New("Network Error"), 2},
		{"two accounts", "0,1", errors.New("Network Error"), 3},
		{"rate limited", "0", errors.New("HTTP 429"), 2},
		{"fatal error", "0,1", errors.New("content blocked"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string]string{settings.KeyAccountIndices: tt.accounts}, "en")
			f.web.fn = failWith(tt.err)

			reply, err := f.manager.Dispatch(context.Background(), &Request{Text: "hi", Model: "m1"}, nil)
			require.NoError(t, err)
			assert.Equal(t, StatusError, reply.Status)
			assert.Len(t, f.web.Calls(), tt.calls)
		})
	}
}

func TestWebAuthFailureRotatesAccounts(t *testing.T) {
	f := newFixture(t, map[string]string{settings.KeyAccountIndices: "0,1,2"}, "en")
	f.web.fn = failWith(errors.New("401 Unauthorized"))

	reply, err := f.manager.Dispatch(context.Background(), &Request{Text: "hi", Model: "m1"}, nil)
	require.NoError(t, err)

	var accounts []int
	for _, c := range f.web.Calls() {
		accounts = append(accounts, c.AccountIndex)
	}
	assert.Equal(t, []int{0, 1, 2}, accounts)
	assert.Equal(t, []int{0, 1, 2}, f.fetcher.calls, "each retry must fetch a fresh context")
	assert.Contains(t, reply.Text, "Account (Index: 2) not logged in")
}

func TestWebSuccessPersistsContext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "en")
	newCtx := &ai.WebContext{AtValue: "at", ContextIDs: [3]string{"c1", "r1", "rc1"}}
	var updates []ai.Update
	f.web.fn = func(_ context.Context, _ int, req *ai.ChatRequest) (*ai.Reply, error) {
		req.OnUpdate(ai.Update{Text: "Hel"})
		return &ai.Reply{Text: "Hello", Context: newCtx}, nil
	}

	reply, err := f.manager.Dispatch(ctx, &Request{Text: "hi", Model: "m1", SystemInstruction: "S"},
		func(u ai.Update) { updates = append(updates, u) })
	require.NoError(t, err)
	assert.Equal(t, "Hello", reply.Text)
	assert.Equal(t, StatusSuccess, reply.Status)
	assert.Equal(t, newCtx, reply.Context)
	assert.Len(t, updates, 1)

	assert.Equal(t, "S\n\nQuestion: hi", f.web.Calls()[0].Text)

	var stored ai.WebContext
	ok, err := settings.GetJSON(ctx, f.store, settings.KeyWebContext, &stored)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c1", stored.ContextIDs[0])
	model, _, _ := f.store.Get(ctx, settings.KeyWebContextModel)
	assert.Equal(t, "m1", model)
}

func TestWebSingleAccountForbidden(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "en")
	f.web.fn = failWith(errors.New("403 Forbidden"))
	require.NoError(t, f.auth.UpdateContext(ctx, &ai.WebContext{AtValue: "stale"}, "m1"))

	reply, err := f.manager.Dispatch(ctx, &Request{Text: "hi", Model: "m1"}, nil)
	require.NoError(t, err)

	assert.Len(t, f.web.Calls(), 2)
	assert.Equal(t, StatusError, reply.Status)
	assert.Equal(t, `Error: Account (Index: 0) not logged in. Please log in at <a href="https://gemini.google.com/u/0/" target="_blank" style="color: inherit; text-decoration: underline;">gemini.google.com/u/0/</a>.`, reply.Text)

	_, ok, _ := f.store.Get(ctx, settings.KeyWebContext)
	assert.False(t, ok, "login failure must clear the stored context")
}

func TestLoginMessageChinese(t *testing.T) {
	f := newFixture(t, nil, "zh-Hans")
	f.web.fn = failWith(errors.New("未登录"))
	reply, err := f.manager.Dispatch(context.Background(), &Request{Text: "hi"}, nil)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "账号 (Index: 0) 未登录或会话已过期")
}

func TestBackoffIncreases(t *testing.T) {
	f := newFixture(t, map[string]string{settings.KeyAccountIndices: "0,1"}, "en")
	f.web.fn = failWith(errors.New("No valid response found"))

	_, err := f.manager.Dispatch(context.Background(), &Request{Text: "hi"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Millisecond, 4 * time.Millisecond}, f.waits)

	for attempt := 1; attempt <= 4; attempt++ {
		base := time.Duration(1<<attempt) * time.Second
		d := backoffDelay(attempt, time.Second, NewManager(Options{}).jitter(time.Second))
		assert.GreaterOrEqual(t, d, base)
		assert.Less(t, d, base+time.Second)
	}
}

func TestModelChangeInvalidatesContext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "en")
	f.web.fn = func(_ context.Context, _ int, req *ai.ChatRequest) (*ai.Reply, error) {
		return &ai.Reply{Text: "ok", Context: req.Context}, nil
	}

	_, err := f.manager.Dispatch(ctx, &Request{Text: "1", Model: "m1"}, nil)
	require.NoError(t, err)
	_, err = f.manager.Dispatch(ctx, &Request{Text: "2", Model: "m1"}, nil)
	require.NoError(t, err)
	assert.Len(t, f.fetcher.calls, 1, "same model reuses the context")

	_, err = f.manager.Dispatch(ctx, &Request{Text: "3", Model: "m2"}, nil)
	require.NoError(t, err)
	assert.Len(t, f.fetcher.calls, 2, "a model change must fetch a new context")
}

func TestSetAndResetContext(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, "en")
	require.NoError(t, f.manager.SetContext(ctx, &ai.WebContext{AtValue: "x"}, "m9"))
	model, _, _ := f.store.Get(ctx, settings.KeyWebContextModel)
	assert.Equal(t, "m9", model)

	require.NoError(t, f.manager.ResetContext(ctx))
	_, ok, _ := f.store.Get(ctx, settings.KeyWebContext)
	assert.False(t, ok)
}

func TestParseLocale(t *testing.T) {
	tests := map[string]Locale{
		"":            LocaleEN,
		"en":          LocaleEN,
		"zh":          LocaleZH,
		"zh-TW":       LocaleZH,
		"zh_CN.UTF-8": LocaleZH,
		"fr-FR":       LocaleEN,
		"garbage!!":   LocaleEN,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLocale(in), in)
	}
}

func TestAttemptBudget(t *testing.T) {
	assert.Equal(t, 2, attemptBudget(0))
	assert.Equal(t, 2, attemptBudget(1))
	assert.Equal(t, 3, attemptBudget(2))
	assert.Equal(t, 3, attemptBudget(5))
}

func TestResolverSeparatorOnlyRing(t *testing.T) {
	ctx := context.Background()
	store := settings.NewMemoryStore(map[string]string{
		settings.KeyProvider: "official",
		settings.KeyAPIKey:   ",,,",
	})
	cs, err := NewResolver(store).Resolve(ctx)
	require.NoError(t, err)
	assert.Empty(t, cs.ActiveCredential)

	_, ok, err := settings.GetInt(ctx, store, settings.KeyAPIKeyPointer)
	require.NoError(t, err)
	assert.False(t, ok, "pointer must not be written for an empty ring")
}

func TestWebUnclassifiedStatusIsNotRetried(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `<script>{"SNlM0e":"at-token","cfb2h":"bl","FdrFJe":"1"}</script>`)
			return
		}
		posts.Add(1)
		http.Error(w, "malformed f.req", http.StatusBadRequest)
	}))
	defer srv.Close()

	web := ai.NewWebClient(ai.WebConfig{BaseURL: srv.URL, UploadURL: srv.URL + "/upload", Timeout: time.Second})
	store := settings.NewMemoryStore(map[string]string{settings.KeyAccountIndices: "0,1"})
	am := auth.NewManager(store, web)
	m := NewManager(Options{
		Settings:    store,
		Auth:        am,
		Adapters:    Adapters{Web: web},
		BackoffUnit: time.Millisecond,
		Jitter:      func(time.Duration) time.Duration { return 0 },
	})

	reply, err := m.Dispatch(context.Background(), &Request{Text: "hi", Model: "m1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusError, reply.Status)
	assert.Contains(t, reply.Text, "400")
	assert.Equal(t, int32(1), posts.Load())
	assert.Equal(t, 0, am.CurrentIndex())
}

func TestWebBackoffInterrupted(t *testing.T) {
	t.Run("cancel", func(t *testing.T) {
		f := newFixture(t, nil, "en")
		f.manager.backoffUnit = time.Hour
		waiting := make(chan struct{})
		var once sync.Once
		f.manager.onRetry = func(int, time.Duration) { once.Do(func() { close(waiting) }) }
		f.web.fn = failWith(errors.New("Network Error"))

		done := make(chan error, 1)
		go func() {
			_, err := f.manager.Dispatch(context.Background(), &Request{Text: "hi"}, nil)
			done <- err
		}()

		select {
		case <-waiting:
		case <-time.After(2 * time.Second):
			t.Fatal("dispatch never reached backoff")
		}
		assert.True(t, f.manager.CancelCurrentRequest())

		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrCanceled)
		case <-time.After(2 * time.Second):
			t.Fatal("dispatch kept waiting after cancel")
		}
		assert.Len(t, f.web.Calls(), 1)
	})

	t.Run("superseded", func(t *testing.T) {
		f := newFixture(t, nil, "en")
		f.manager.backoffUnit = time.Hour
		waiting := make(chan struct{})
		var once sync.Once
		f.manager.onRetry = func(int, time.Duration) { once.Do(func() { close(waiting) }) }
		f.web.fn = func(_ context.Context, call int, _ *ai.ChatRequest) (*ai.Reply, error) {
			if call == 1 {
				return nil, errors.New("Network Error")
			}
			return &ai.Reply{Text: "second"}, nil
		}

		done := make(chan error, 1)
		go func() {
			_, err := f.manager.Dispatch(context.Background(), &Request{Text: "first"}, nil)
			done <- err
		}()

		select {
		case <-waiting:
		case <-time.After(2 * time.Second):
			t.Fatal("dispatch never reached backoff")
		}

		reply, err := f.manager.Dispatch(context.Background(), &Request{Text: "second"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "second", reply.Text)

		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrCanceled)
		case <-time.After(2 * time.Second):
			t.Fatal("first dispatch never returned")
		}
		calls := f.web.Calls()
		require.Len(t, calls, 2)
		assert.Equal(t, "first", calls[0].Text)
		assert.Equal(t, "second", calls[1].Text)
	})
}

func TestWebFlowClassify(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	for _, tt := range []struct {
		name    string
		ctx     context.Context
		err     error
		attempt int
		want    webState
	}{
		{"success", context.Background(), nil, 1, stateSuccess},
		{"retryable", context.Background(), errors.New("Network Error"), 1, stateRetryableFailure},
		{"budget spent", context.Background(), errors.New("Network Error"), 2, stateFatalFailure},
		{"not retryable", context.Background(), errors.New("content blocked"), 1, stateFatalFailure},
		{"canceled", canceled, errors.New("Network Error"), 1, stateFatalFailure},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := &webFlow{attempt: tt.attempt, maxAttempts: 2}
			assert.Equal(t, tt.want, f.classify(tt.ctx, tt.err))
		})
	}
}
