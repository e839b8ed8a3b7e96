// Package provider implements adapters for LLM provider wire formats. The
// client stays provider-agnostic; each adapter knows how to build a chat
// completion request and pull the generated text back out of the response.
package provider

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
)

// Message is a single chat message sent to the provider.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// Usage reports token consumption for a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the provider-agnostic result of a chat completion call.
type Completion struct {
	Content      string
	Model        string
	FinishReason string
	Usage        Usage
}

// Provider adapts one LLM provider's wire format.
type Provider interface {
	// Name returns the provider identifier used in config and metrics.
	Name() string

	// BuildURL constructs the completion endpoint from the configured base URL.
	BuildURL(baseURL string) string

	// SetHeaders adds provider-specific authentication headers.
	SetHeaders(req *http.Request, apiKey string)

	// BuildRequestBody encodes a completion request.
	BuildRequestBody(model string, messages []Message, temperature *float64, maxTokens int) ([]byte, error)

	// ParseResponse decodes a 200 response body into a Completion.
	ParseResponse(body []byte) (*Completion, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Provider{}
)

// Register adds a provider adapter to the registry. Called from adapter init
// functions.
func Register(p Provider) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[p.Name()] = p
}

// Get returns the registered provider with the given name, or an error
// listing the known names.
func Get(name string) (Provider, error) {
	registryMu.RLock()
	p, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (known: %v)", name, Names())
	}
	return p, nil
}

// Names returns the registered provider names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
