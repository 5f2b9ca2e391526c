// Package settings persists runtime connection settings: provider choice,
// credentials, rotation pointers and the web session context.
package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
)

// Persisted keys.
const (
	KeyProvider       = "provider"
	KeyUseOfficialAPI = "use_official_api"
	KeyAPIKey         = "api_key"
	KeyAPIKeyPointer  = "api_key_pointer"
	KeyThinkingLevel  = "thinking_level"

	KeyOpenAIBaseURL = "openai_base_url"
	KeyOpenAIAPIKey  = "openai_api_key"
	KeyOpenAIModel   = "openai_model"

	KeyAnthropicAPIKey = "anthropic_api_key"
	KeyAnthropicModel  = "anthropic_model"

	KeyAccountIndices  = "account_indices"
	KeyAccountPointer  = "account_pointer"
	KeyWebContext      = "web_context"
	KeyWebContextModel = "web_context_model"
	KeyWebCookie       = "web_cookie"
)

// Keys lists every known key, in display order.
var Keys = []string{
	KeyProvider, KeyUseOfficialAPI, KeyAPIKey, KeyAPIKeyPointer, KeyThinkingLevel,
	KeyOpenAIBaseURL, KeyOpenAIAPIKey, KeyOpenAIModel,
	KeyAnthropicAPIKey, KeyAnthropicModel,
	KeyAccountIndices, KeyAccountPointer, KeyWebContext, KeyWebContextModel, KeyWebCookie,
}

// UpdateFunc computes the next value of a key from its current value.
// Returning an error aborts the update and leaves the key unchanged.
type UpdateFunc func(current string, ok bool) (string, error)

// Store is a string key/value store. Update is an atomic read-modify-write.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	GetMany(ctx context.Context, keys ...string) (map[string]string, error)
	All(ctx context.Context) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
	Update(ctx context.Context, key string, fn UpdateFunc) (string, error)
}

// GetString returns the value of key or def when unset.
func GetString(ctx context.Context, s Store, key, def string) (string, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// GetInt parses an integer value. A missing or unparseable value reports ok=false.
func GetInt(ctx context.Context, s Store, key string) (int, bool, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return 0, false, err
	}
	n, perr := strconv.Atoi(v)
	if perr != nil {
		return 0, false, nil
	}
	return n, true, nil
}

// GetBool parses a boolean value ("true", "1", ...). Missing or unparseable is false.
func GetBool(ctx context.Context, s Store, key string) (bool, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	b, _ := strconv.ParseBool(v)
	return b, nil
}

// GetJSON decodes a JSON value into v and reports whether the key was set.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok || raw == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON stores v as JSON.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(data))
}
