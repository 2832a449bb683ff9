package ai

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResolveLocalModel(t *testing.T) {
	installed := []string{"llama3:latest", "Mistral:7b"}
	tests := []struct {
		requested string
		want      string
		ok        bool
	}{
		{"llama3", "llama3:latest", true},
		{"llama3:latest", "llama3:latest", true},
		{"LLAMA3", "llama3:latest", true},
		{"mistral:7b", "Mistral:7b", true},
		{"llama3:7b", "", false},
		{"mistral", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := resolveLocalModel(tt.requested, installed)
		if ok != tt.ok || got != tt.want {
			t.Errorf("resolveLocalModel(%q) = (%q, %v), want (%q, %v)", tt.requested, got, ok, tt.want, tt.ok)
		}
	}
}

func TestNormalizeOllamaBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", DefaultOllamaBaseURL},
		{"http://host:11434", "http://host:11434"},
		{"http://host:11434/", "http://host:11434"},
		{"http://host:11434/v1", "http://host:11434"},
		{"http://host:11434/v1/", "http://host:11434"},
	}
	for _, tt := range tests {
		if got := NormalizeOllamaBaseURL(tt.in); got != tt.want {
			t.Errorf("NormalizeOllamaBaseURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRouterUnknownProvider(t *testing.T) {
	router := NewRouter(RouterConfig{})
	_, err := router.Resolve(context.Background(), "acme-cloud", ResolveOptions{Model: "m"})
	var pe *ProviderError
	if !asProviderError(err, &pe) || pe.Kind != KindConfiguration {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if !strings.Contains(pe.Message, "unsupported provider") {
		t.Fatalf("message = %q", pe.Message)
	}
}

func TestRouterEmptyModelIsValidationError(t *testing.T) {
	router := NewRouter(RouterConfig{OpenAIAPIKey: "sk"})
	_, err := router.Resolve(context.Background(), "openai", ResolveOptions{Model: "  "})
	var pe *ProviderError
	if !asProviderError(err, &pe) || pe.Kind != KindValidation {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestHostedProviderResolve(t *testing.T) {
	router := NewRouter(RouterConfig{OpenAIAPIKey: "sk-config"})

	ep, err := router.Resolve(context.Background(), "openai", ResolveOptions{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ep.BaseURL != "https://api.openai.com/v1" || ep.APIKey != "sk-config" {
		t.Fatalf("endpoint = %+v", ep)
	}
	if ep.MaxTokens != 2000 || ep.Timeout != hostedTimeout {
		t.Fatalf("limits = %d/%v, want 2000/45s", ep.MaxTokens, ep.Timeout)
	}

	// Per-request key wins over config.
	ep, err = router.Resolve(context.Background(), "openai", ResolveOptions{Model: "gpt-4o", APIKey: "sk-header"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ep.APIKey != "sk-header" {
		t.Fatalf("APIKey = %q, want header key", ep.APIKey)
	}
}

func TestHostedProviderMissingKey(t *testing.T) {
	router := NewRouter(RouterConfig{})
	_, err := router.Resolve(context.Background(), "openai", ResolveOptions{Model: "gpt-4o"})
	var pe *ProviderError
	if !asProviderError(err, &pe) || pe.Kind != KindConfiguration {
		t.Fatalf("err = %v, want configuration error", err)
	}
}

func TestGatewayPreflight(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	router := NewRouter(RouterConfig{
		OpenRouterAPIKey:  "or-key",
		OpenRouterBaseURL: srv.URL,
		AppURL:            "https://docuchat.example",
		AppName:           "DocuChat",
	})
	ep, err := router.Resolve(context.Background(), "openrouter", ResolveOptions{Model: "meta/llama-3"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if gotAuth != "Bearer or-key" {
		t.Fatalf("preflight auth = %q", gotAuth)
	}
	if ep.Headers["HTTP-Referer"] != "https://docuchat.example" || ep.Headers["X-Title"] != "DocuChat" {
		t.Fatalf("attribution headers = %v", ep.Headers)
	}
	if ep.MaxTokens != 1500 {
		t.Fatalf("MaxTokens = %d, want 1500", ep.MaxTokens)
	}
}

func TestGatewayPreflightRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	router := NewRouter(RouterConfig{OpenRouterAPIKey: "bad", OpenRouterBaseURL: srv.URL})
	_, err := router.Resolve(context.Background(), "openrouter", ResolveOptions{Model: "m"})
	var pe *ProviderError
	if !asProviderError(err, &pe) || pe.Kind != KindConfiguration {
		t.Fatalf("err = %v, want configuration error", err)
	}
	if !strings.Contains(pe.Message, "status 401") {
		t.Fatalf("message = %q, want status in message", pe.Message)
	}
}

func TestGatewayPreflightUnreachable(t *testing.T) {
	router := NewRouter(RouterConfig{OpenRouterAPIKey: "key", OpenRouterBaseURL: "http://127.0.0.1:1"})
	_, err := router.Resolve(context.Background(), "openrouter", ResolveOptions{Model: "m"})
	var pe *ProviderError
	if !asProviderError(err, &pe) || pe.Kind != KindConnectionFailed {
		t.Fatalf("err = %v, want connection error", err)
	}
}

func fakeOllama(t *testing.T, models ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		entries := make([]string, 0, len(models))
		for _, m := range models {
			entries = append(entries, fmt.Sprintf(`{"name":%q}`, m))
		}
		fmt.Fprintf(w, `{"models":[%s]}`, strings.Join(entries, ","))
	}))
}

func TestLocalProviderResolve(t *testing.T) {
	srv := fakeOllama(t, "llama3:latest")
	defer srv.Close()

	router := NewRouter(RouterConfig{})
	ep, err := router.Resolve(context.Background(), "ollama", ResolveOptions{
		Model:           "llama3",
		BaseURLOverride: srv.URL,
	})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if ep.Model != "llama3:latest" {
		t.Fatalf("Model = %q, want llama3:latest", ep.Model)
	}
	if ep.BaseURL != srv.URL+"/v1" {
		t.Fatalf("BaseURL = %q, want %q", ep.BaseURL, srv.URL+"/v1")
	}
	if ep.MaxTokens != math.MaxInt64 {
		t.Fatalf("MaxTokens = %d, want unbounded", ep.MaxTokens)
	}
	if ep.Timeout != localTimeout {
		t.Fatalf("Timeout = %v, want %v", ep.Timeout, localTimeout)
	}
}

func TestLocalProviderModelNotInstalled(t *testing.T) {
	srv := fakeOllama(t, "llama3:latest", "phi3:latest")
	defer srv.Close()

	router := NewRouter(RouterConfig{})
	_, err := router.Resolve(context.Background(), "ollama", ResolveOptions{
		Model:           "llama3:7b",
		BaseURLOverride: srv.URL,
	})
	var pe *ProviderError
	if !asProviderError(err, &pe) || pe.Kind != KindModelUnavailable {
		t.Fatalf("err = %v, want model unavailable", err)
	}
	if !strings.Contains(pe.Message, "llama3:latest") || !strings.Contains(pe.Message, "phi3:latest") {
		t.Fatalf("message should list installed models: %q", pe.Message)
	}
	if !strings.Contains(pe.Hint, "ollama pull llama3:7b") {
		t.Fatalf("hint should carry the pull command: %q", pe.Hint)
	}
}

func TestLocalProviderUnreachable(t *testing.T) {
	router := NewRouter(RouterConfig{})
	_, err := router.Resolve(context.Background(), "ollama", ResolveOptions{
		Model:           "llama3",
		BaseURLOverride: "http://127.0.0.1:1",
	})
	var pe *ProviderError
	if !asProviderError(err, &pe) || pe.Kind != KindConnectionFailed {
		t.Fatalf("err = %v, want connection error", err)
	}
	if pe.Status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", pe.Status)
	}
}
