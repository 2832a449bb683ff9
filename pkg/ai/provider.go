package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

// Provider names accepted in chat requests.
const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderOllama     = "ollama"
)

const (
	defaultOpenAIBaseURL     = "https://api.openai.com/v1"
	defaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"

	hostedTimeout    = 45 * time.Second
	localTimeout     = 10 * time.Minute
	preflightTimeout = 8 * time.Second
)

// ResolveOptions carries per-request overrides for provider resolution.
type ResolveOptions struct {
	Model string
	// APIKey overrides the globally configured credential when set
	// (the x-<provider>-key request header).
	APIKey string
	// BaseURLOverride points at a non-default Ollama server
	// (the x-ollama-url request header). Ignored by hosted providers.
	BaseURLOverride string
}

// Endpoint is a fully resolved, preflighted target for one completion call.
type Endpoint struct {
	Provider  string
	BaseURL   string
	APIKey    string
	Headers   map[string]string
	Model     string
	MaxTokens int64
	Timeout   time.Duration
}

// Provider resolves a logical model request into a concrete endpoint,
// running any provider-specific preflight checks. Adding a provider means
// adding one implementation, not editing a shared switch.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, opts ResolveOptions) (*Endpoint, error)
}

// RouterConfig carries credentials and defaults for all known providers.
type RouterConfig struct {
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	// AppURL and AppName feed OpenRouter attribution headers.
	AppURL  string
	AppName string
	// OllamaBaseURL is the environment default; request overrides win.
	OllamaBaseURL string
	// HTTPClient is used for preflight probes only.
	HTTPClient *http.Client
}

// Router maps provider names to their implementations.
type Router struct {
	providers map[string]Provider
}

// NewRouter builds the provider registry from configuration.
func NewRouter(cfg RouterConfig) *Router {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: preflightTimeout + 2*time.Second}
	}
	openAIBase := strings.TrimRight(strings.TrimSpace(cfg.OpenAIBaseURL), "/")
	if openAIBase == "" {
		openAIBase = defaultOpenAIBaseURL
	}
	openRouterBase := strings.TrimRight(strings.TrimSpace(cfg.OpenRouterBaseURL), "/")
	if openRouterBase == "" {
		openRouterBase = defaultOpenRouterBaseURL
	}

	providers := []Provider{
		&hostedProvider{
			name:    ProviderOpenAI,
			baseURL: openAIBase,
			apiKey:  strings.TrimSpace(cfg.OpenAIAPIKey),
		},
		&gatewayProvider{
			name:       ProviderOpenRouter,
			baseURL:    openRouterBase,
			apiKey:     strings.TrimSpace(cfg.OpenRouterAPIKey),
			appURL:     strings.TrimSpace(cfg.AppURL),
			appName:    strings.TrimSpace(cfg.AppName),
			httpClient: httpClient,
		},
		&localProvider{
			name:           ProviderOllama,
			defaultBaseURL: strings.TrimSpace(cfg.OllamaBaseURL),
		},
	}
	registry := make(map[string]Provider, len(providers))
	for _, p := range providers {
		registry[p.Name()] = p
	}
	return &Router{providers: registry}
}

// Resolve looks up the named provider and resolves an endpoint for it.
// Unknown names fail before any generation call is attempted.
func (r *Router) Resolve(ctx context.Context, providerName string, opts ResolveOptions) (*Endpoint, error) {
	name := strings.ToLower(strings.TrimSpace(providerName))
	p, ok := r.providers[name]
	if !ok {
		return nil, NewConfigurationError(name, fmt.Sprintf("unsupported provider %q", providerName))
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, NewValidationError("model is required")
	}
	return p.Resolve(ctx, opts)
}

// hostedProvider talks directly to the primary hosted API. No preflight:
// the API is assumed reachable, credential problems surface on the call.
type hostedProvider struct {
	name    string
	baseURL string
	apiKey  string
}

func (p *hostedProvider) Name() string { return p.name }

func (p *hostedProvider) Resolve(_ context.Context, opts ResolveOptions) (*Endpoint, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		apiKey = p.apiKey
	}
	if apiKey == "" {
		return nil, NewConfigurationError(p.name, "OpenAI API key is not configured")
	}
	return &Endpoint{
		Provider:  p.name,
		BaseURL:   p.baseURL,
		APIKey:    apiKey,
		Model:     opts.Model,
		MaxTokens: 2000,
		Timeout:   hostedTimeout,
	}, nil
}

// gatewayProvider routes through an OpenAI-compatible aggregator. The
// preflight hits the model-listing endpoint so a dead key or unreachable
// gateway fails before streaming begins.
type gatewayProvider struct {
	name       string
	baseURL    string
	apiKey     string
	appURL     string
	appName    string
	httpClient *http.Client
}

func (p *gatewayProvider) Name() string { return p.name }

func (p *gatewayProvider) Resolve(ctx context.Context, opts ResolveOptions) (*Endpoint, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		apiKey = p.apiKey
	}
	if apiKey == "" {
		return nil, NewConfigurationError(p.name, "OpenRouter API key is not configured")
	}

	preflightCtx, cancel := context.WithTimeout(ctx, preflightTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(preflightCtx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, NewConfigurationError(p.name, "OpenRouter connection failed")
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, NewConnectionError(p.name,
			"could not reach OpenRouter",
			"check network connectivity and https://status.openrouter.ai")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, NewConfigurationError(p.name,
			fmt.Sprintf("OpenRouter connection failed (status %d)", resp.StatusCode))
	}

	headers := map[string]string{}
	if p.appURL != "" {
		headers["HTTP-Referer"] = p.appURL
	}
	if p.appName != "" {
		headers["X-Title"] = p.appName
	}
	return &Endpoint{
		Provider:  p.name,
		BaseURL:   p.baseURL,
		APIKey:    apiKey,
		Headers:   headers,
		Model:     opts.Model,
		MaxTokens: 1500,
		Timeout:   hostedTimeout,
	}, nil
}

// localProvider targets an Ollama server. Local generation is unmetered but
// slow on constrained hardware, hence the long timeout and unbounded token
// budget.
type localProvider struct {
	name           string
	defaultBaseURL string
}

func (p *localProvider) Name() string { return p.name }

func (p *localProvider) Resolve(ctx context.Context, opts ResolveOptions) (*Endpoint, error) {
	baseURL := strings.TrimSpace(opts.BaseURLOverride)
	if baseURL == "" {
		baseURL = p.defaultBaseURL
	}
	if baseURL == "" {
		baseURL = strings.TrimSpace(os.Getenv("OLLAMA_BASE_URL"))
	}
	client := NewOllamaClient(baseURL)

	preflightCtx, cancel := context.WithTimeout(ctx, preflightTimeout)
	defer cancel()
	installed, err := client.ListModels(preflightCtx)
	if err != nil {
		return nil, classifyOllamaConnError(p.name, client.BaseURL(), err)
	}

	model, ok := resolveLocalModel(opts.Model, installed)
	if !ok {
		available := "none"
		if len(installed) > 0 {
			names := append([]string(nil), installed...)
			sort.Strings(names)
			available = strings.Join(names, ", ")
		}
		return nil, NewModelUnavailableError(p.name, opts.Model,
			fmt.Sprintf("model %q is not installed (installed: %s)", opts.Model, available),
			fmt.Sprintf("run `ollama pull %s` and retry", opts.Model))
	}

	return &Endpoint{
		Provider:  p.name,
		BaseURL:   client.BaseURL() + "/v1",
		Model:     model,
		MaxTokens: math.MaxInt64,
		Timeout:   localTimeout,
	}, nil
}

// resolveLocalModel matches a requested model against the installed list,
// case-insensitively. A name without a tag gets an implicit :latest; names
// with tags (including odd multi-colon ones) are matched verbatim.
func resolveLocalModel(requested string, installed []string) (string, bool) {
	want := strings.ToLower(strings.TrimSpace(requested))
	if want == "" {
		return "", false
	}
	if !strings.Contains(want, ":") {
		want += ":latest"
	}
	for _, name := range installed {
		if strings.ToLower(strings.TrimSpace(name)) == want {
			return name, true
		}
	}
	return "", false
}

func classifyOllamaConnError(provider, baseURL string, err error) *ProviderError {
	msg := err.Error()
	lower := strings.ToLower(msg)

	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout(),
		strings.Contains(lower, "deadline exceeded"),
		strings.Contains(lower, "timeout"):
		return NewConnectionError(provider,
			fmt.Sprintf("timed out reaching the Ollama server at %s", baseURL),
			"check that Ollama is running and not overloaded, then retry")
	case strings.Contains(lower, "connection refused"):
		return NewConnectionError(provider,
			fmt.Sprintf("connection refused by %s", baseURL),
			"start Ollama with `ollama serve` or fix the configured URL")
	case strings.Contains(lower, "no such host"):
		return NewConnectionError(provider,
			fmt.Sprintf("host not found for %s", baseURL),
			"check the Ollama URL for typos")
	default:
		return NewConnectionError(provider,
			fmt.Sprintf("could not reach the Ollama server at %s: %s", baseURL, msg),
			"check that Ollama is running and reachable from this host")
	}
}
