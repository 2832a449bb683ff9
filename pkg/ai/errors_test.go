package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func asProviderError(err error, target **ProviderError) bool {
	return errors.As(err, target)
}

func TestClassifyStreamErrorStatusCodes(t *testing.T) {
	tests := []struct {
		status     int
		wantKind   ErrorKind
		wantStatus int
	}{
		{http.StatusUnauthorized, KindCredentialInvalid, http.StatusUnauthorized},
		{http.StatusPaymentRequired, KindQuotaExceeded, http.StatusPaymentRequired},
		{http.StatusNotFound, KindModelUnavailable, http.StatusNotFound},
		{http.StatusTooManyRequests, KindRateLimited, http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		got := ClassifyStreamError(context.Background(), "openai", "gpt-4o", tt.status, fmt.Errorf("provider api error"))
		if got.Kind != tt.wantKind {
			t.Errorf("status %d: kind = %q, want %q", tt.status, got.Kind, tt.wantKind)
		}
		if got.Status != tt.wantStatus {
			t.Errorf("status %d: surfaced status = %d, want %d", tt.status, got.Status, tt.wantStatus)
		}
		if got.Hint == "" {
			t.Errorf("status %d: missing remediation hint", tt.status)
		}
		if got.Provider != "openai" || got.Model != "gpt-4o" {
			t.Errorf("status %d: provider/model not carried: %+v", tt.status, got)
		}
	}
}

func TestClassifyStreamErrorMessages(t *testing.T) {
	tests := []struct {
		msg      string
		wantKind ErrorKind
	}{
		{"Incorrect API key provided", KindCredentialInvalid},
		{"dial tcp 127.0.0.1:1: connect: connection refused", KindConnectionFailed},
		{"lookup nosuch.invalid: no such host", KindConnectionFailed},
		{"request timeout while waiting for response", KindTimeout},
		{"something completely different", KindUnknown},
	}
	for _, tt := range tests {
		got := ClassifyStreamError(context.Background(), "openai", "gpt-4o", 0, errors.New(tt.msg))
		if got.Kind != tt.wantKind {
			t.Errorf("msg %q: kind = %q, want %q", tt.msg, got.Kind, tt.wantKind)
		}
	}
}

func TestClassifyStreamErrorContextDeadlineWins(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	got := ClassifyStreamError(ctx, "ollama", "llama3", 0, errors.New("read tcp: broken pipe"))
	if got.Kind != KindTimeout {
		t.Fatalf("kind = %q, want timeout when ctx expired", got.Kind)
	}
	if got.Status != http.StatusRequestTimeout {
		t.Fatalf("status = %d, want 408", got.Status)
	}
}

func TestClassifyStreamErrorPassesThroughProviderError(t *testing.T) {
	orig := NewModelUnavailableError("ollama", "llama3", "not installed", "pull it")
	got := ClassifyStreamError(context.Background(), "ollama", "llama3", 0, orig)
	if got != orig {
		t.Fatal("an already-classified error must pass through unchanged")
	}
}

func TestProviderErrorMessageIncludesHint(t *testing.T) {
	err := NewConnectionError("ollama", "could not reach server", "start ollama")
	if want := "connection_failed: could not reach server (start ollama)"; err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}
