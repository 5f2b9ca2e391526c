package dispatch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/neboloop/nexus/internal/logging"
	"github.com/neboloop/nexus/internal/settings"
)

// Provider selects the backend for a dispatch.
type Provider string

const (
	ProviderAuthenticated Provider = "official"
	ProviderOpenAI        Provider = "openai"
	ProviderAnthropic     Provider = "anthropic"
	ProviderWeb           Provider = "web"
)

const defaultThinkingLevel = "low"

// ParseProvider maps a stored provider value. Unknown values select the web backend.
func ParseProvider(s string) Provider {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "official", "authenticated", "gemini":
		return ProviderAuthenticated
	case "openai":
		return ProviderOpenAI
	case "anthropic":
		return ProviderAnthropic
	default:
		return ProviderWeb
	}
}

// OpenAISettings configures the OpenAI-compatible backend.
type OpenAISettings struct {
	BaseURL string
	APIKey  string
	Model   string
}

// AnthropicSettings configures the Anthropic backend.
type AnthropicSettings struct {
	APIKey string
	Model  string
}

// ConnectionSettings is derived from the settings store on every dispatch.
type ConnectionSettings struct {
	Provider         Provider
	ActiveCredential string
	ThinkingLevel    string
	OpenAI           OpenAISettings
	Anthropic        AnthropicSettings
}

// CredentialRing is an ordered set of API keys used round-robin.
type CredentialRing struct {
	Keys    []string
	Pointer int
}

// ParseCredentialRing splits a comma-delimited key list, trimming and
// dropping empty entries. A pointer outside [0,len) resets to 0.
func ParseCredentialRing(raw string, pointer int) CredentialRing {
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if pointer < 0 || pointer >= len(keys) {
		pointer = 0
	}
	return CredentialRing{Keys: keys, Pointer: pointer}
}

// Current returns the key at the pointer.
func (r CredentialRing) Current() string {
	if len(r.Keys) == 0 {
		return ""
	}
	return r.Keys[r.Pointer]
}

// Next returns the pointer after the current one.
func (r CredentialRing) Next() int {
	if len(r.Keys) == 0 {
		return 0
	}
	return (r.Pointer + 1) % len(r.Keys)
}

// Resolver derives ConnectionSettings from the settings store.
type Resolver struct {
	store settings.Store
}

// NewResolver creates a resolver over store.
func NewResolver(store settings.Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve reads the current settings. For the authenticated provider with
// several keys it consumes the key at the stored pointer and persists the
// advanced pointer before returning, whether or not the call succeeds.
func (r *Resolver) Resolve(ctx context.Context) (*ConnectionSettings, error) {
	vals, err := r.store.GetMany(ctx,
		settings.KeyProvider, settings.KeyUseOfficialAPI, settings.KeyAPIKey, settings.KeyThinkingLevel,
		settings.KeyOpenAIBaseURL, settings.KeyOpenAIAPIKey, settings.KeyOpenAIModel,
		settings.KeyAnthropicAPIKey, settings.KeyAnthropicModel,
	)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	cs := &ConnectionSettings{
		ThinkingLevel: vals[settings.KeyThinkingLevel],
		OpenAI: OpenAISettings{
			BaseURL: vals[settings.KeyOpenAIBaseURL],
			APIKey:  strings.TrimSpace(vals[settings.KeyOpenAIAPIKey]),
			Model:   vals[settings.KeyOpenAIModel],
		},
		Anthropic: AnthropicSettings{
			APIKey: strings.TrimSpace(vals[settings.KeyAnthropicAPIKey]),
			Model:  vals[settings.KeyAnthropicModel],
		},
	}
	if cs.ThinkingLevel == "" {
		cs.ThinkingLevel = defaultThinkingLevel
	}

	// Legacy installs only stored a boolean
	if p, ok := vals[settings.KeyProvider]; ok && p != "" {
		cs.Provider = ParseProvider(p)
	} else if official, _ := strconv.ParseBool(vals[settings.KeyUseOfficialAPI]); official {
		cs.Provider = ProviderAuthenticated
	} else {
		cs.Provider = ProviderWeb
	}

	key := vals[settings.KeyAPIKey]
	if cs.Provider == ProviderAuthenticated && strings.Contains(key, ",") {
		cs.ActiveCredential, err = r.rotate(ctx, key)
		if err != nil {
			return nil, err
		}
	} else {
		cs.ActiveCredential = strings.TrimSpace(key)
	}
	return cs, nil
}

func (r *Resolver) rotate(ctx context.Context, raw string) (string, error) {
	// Separators only: nothing to rotate, leave the pointer alone
	if len(ParseCredentialRing(raw, 0).Keys) == 0 {
		return "", nil
	}
	var ring CredentialRing
	_, err := r.store.Update(ctx, settings.KeyAPIKeyPointer, func(cur string, _ bool) (string, error) {
		p, err := strconv.Atoi(cur)
		if err != nil {
			p = 0
		}
		ring = ParseCredentialRing(raw, p)
		return strconv.Itoa(ring.Next()), nil
	})
	if err != nil {
		return "", fmt.Errorf("advance key pointer: %w", err)
	}
	logging.Infof("[Dispatch] Rotating API key (index %d of %d)", ring.Pointer, len(ring.Keys))
	return ring.Current(), nil
}
