package dispatch

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/neboloop/nexus/internal/ai"
	"github.com/neboloop/nexus/internal/logging"
)

// webState is the position of the web retry state machine.
type webState int

const (
	stateIdle webState = iota
	stateAttempting
	stateSuccess
	stateRetryableFailure
	stateFatalFailure
)

func (s webState) String() string {
	switch s {
	case stateAttempting:
		return "attempting"
	case stateSuccess:
		return "success"
	case stateRetryableFailure:
		return "retryable"
	case stateFatalFailure:
		return "fatal"
	default:
		return "idle"
	}
}

// attemptBudget is the number of web attempts for a ring of n accounts:
// one retry for a single account, two when there are others to fail over to.
func attemptBudget(n int) int {
	if n > 1 {
		return 3
	}
	return 2
}

// backoffDelay is the wait after the given 1-based attempt: 2^attempt units plus jitter.
func backoffDelay(attempt int, unit, jitter time.Duration) time.Duration {
	return time.Duration(1<<uint(attempt))*unit + jitter
}

// webFlow carries one web dispatch through its attempts.
type webFlow struct {
	m           *Manager
	req         *Request
	prompt      string
	attachments []ai.Attachment
	onUpdate    ai.UpdateFunc

	state       webState
	attempt     int
	maxAttempts int
	reply       *Reply
}

func (m *Manager) runWebFlow(ctx context.Context, req *Request, attachments []ai.Attachment, onUpdate ai.UpdateFunc) (*Reply, error) {
	if m.adapters.Web == nil {
		return nil, &ai.ProviderError{Kind: ai.KindConfig, Provider: "web", Message: "web client not configured"}
	}
	if err := m.auth.EnsureInitialized(ctx); err != nil {
		return nil, err
	}

	// The web app has no system instruction field; it rides in the prompt.
	prompt := req.Text
	if req.SystemInstruction != "" {
		prompt = req.SystemInstruction + "\n\nQuestion: " + req.Text
	}

	f := &webFlow{
		m:           m,
		req:         req,
		prompt:      prompt,
		attachments: attachments,
		onUpdate:    onUpdate,
		state:       stateIdle,
		maxAttempts: attemptBudget(len(m.auth.AccountIndices())),
	}

	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		wait := backoffDelay(f.attempt, m.backoffUnit, m.jitter(m.backoffUnit))
		if m.onRetry != nil {
			m.onRetry(f.attempt, wait)
		}
		return wait, false
	})

	err := retry.Do(ctx, backoff, f.step)
	if err != nil {
		f.state = stateFatalFailure
	}
	logging.Debugf("[WebFlow] Finished in state %s after %d/%d attempt(s)", f.state, f.attempt, f.maxAttempts)
	if err != nil {
		return nil, err
	}
	return f.reply, nil
}

// step runs one attempt and acts on the state it lands in. Retryable
// failures get the remediation (rotate, refresh) before go-retry waits.
func (f *webFlow) step(ctx context.Context) error {
	f.attempt++
	f.state = stateAttempting

	reply, err := f.try(ctx)
	f.state = f.classify(ctx, err)
	switch f.state {
	case stateSuccess:
		f.reply = reply
		return nil
	case stateFatalFailure:
		return err
	}

	kind := ai.KindOf(err)
	logging.Warnf("[WebFlow] %s error (%v), retrying... (Attempt %d/%d)", kind, err, f.attempt, f.maxAttempts)

	if len(f.m.auth.AccountIndices()) > 1 {
		if _, rerr := f.m.auth.RotateAccount(ctx); rerr != nil {
			logging.Warnf("[WebFlow] Account rotation failed: %v", rerr)
		}
	}
	f.m.auth.ForceContextRefresh()
	return retry.RetryableError(err)
}

// classify maps the outcome of the current attempt to the next state.
func (f *webFlow) classify(ctx context.Context, err error) webState {
	switch {
	case err == nil:
		return stateSuccess
	case ctx.Err() != nil, !ai.IsRetryable(err), f.attempt >= f.maxAttempts:
		return stateFatalFailure
	default:
		return stateRetryableFailure
	}
}

func (f *webFlow) try(ctx context.Context) (*Reply, error) {
	auth := f.m.auth
	auth.CheckModelChange(f.req.Model)

	wc, err := auth.GetOrFetchContext(ctx)
	if err != nil {
		return nil, err
	}

	reply, err := f.m.adapters.Web.Send(ctx, &ai.ChatRequest{
		Text:         f.prompt,
		Model:        f.req.Model,
		Attachments:  f.attachments,
		Context:      wc,
		AccountIndex: auth.CurrentIndex(),
		OnUpdate:     f.onUpdate,
	})
	if err != nil {
		return nil, err
	}

	next := reply.Context
	if next == nil {
		next = wc
	}
	if err := auth.UpdateContext(ctx, next, f.req.Model); err != nil {
		logging.Warnf("[WebFlow] Failed to persist context: %v", err)
	}
	return successReply(reply, next), nil
}
