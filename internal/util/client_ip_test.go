package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10"})
	if err != nil {
		t.Fatalf("NewTrustedProxies() error = %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		realIP     string
		trusted    *TrustedProxies
		want       string
	}{
		{
			name:       "untrusted peer cannot spoof via forwarded headers",
			remoteAddr: "198.51.100.10:40000",
			forwarded:  "203.0.113.5",
			realIP:     "203.0.113.6",
			want:       "198.51.100.10",
		},
		{
			name:       "trusted proxy forwards the real client",
			remoteAddr: "10.0.0.20:40000",
			forwarded:  "203.0.113.5",
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "chain walk stops at the first untrusted hop",
			remoteAddr: "10.0.0.20:40000",
			forwarded:  "203.0.113.5, 10.0.0.10",
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "x-real-ip backstops an unparseable chain",
			remoteAddr: "10.0.0.20:40000",
			forwarded:  "garbage",
			realIP:     "203.0.113.7",
			trusted:    trusted,
			want:       "203.0.113.7",
		},
		{
			name:       "fully trusted chain yields its leftmost hop",
			remoteAddr: "10.0.0.20:40000",
			forwarded:  "10.0.0.5, 10.0.0.10",
			trusted:    trusted,
			want:       "10.0.0.5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			if got := ClientIP(req, tt.trusted); got != tt.want {
				t.Fatalf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	if _, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.1", "2001:db8::1"}); err != nil {
		t.Fatalf("NewTrustedProxies() error = %v, want nil for valid entries", err)
	}
	if tp, err := NewTrustedProxies(nil); err != nil || tp != nil {
		t.Fatalf("NewTrustedProxies(nil) = %v, %v, want nil set", tp, err)
	}
	if _, err := NewTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatal("NewTrustedProxies() error = nil, want parse failure")
	}
}
