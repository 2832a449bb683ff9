package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
)

const streamTemperature = 0.7

// Message is one conversation turn sent to the completion endpoint.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenHandler receives each streamed token as it arrives. Returning an
// error aborts the stream.
type TokenHandler func(token string) error

// CleanHistory drops turns the completion endpoint would reject: empty
// content and roles other than user/assistant.
func CleanHistory(history []Message) []Message {
	cleaned := make([]Message, 0, len(history))
	for _, msg := range history {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		if role != "user" && role != "assistant" {
			continue
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		cleaned = append(cleaned, Message{Role: role, Content: msg.Content})
	}
	return cleaned
}

// StreamChat issues a streaming chat completion against any
// OpenAI-compatible endpoint and delivers tokens to onToken as they
// arrive. The call is bounded by the endpoint's wall-clock timeout.
//
// Tokens already delivered stand even when the stream fails midway; the
// classified error describes the failure, not a retraction.
func StreamChat(ctx context.Context, ep *Endpoint, systemPrompt string, history []Message, onToken TokenHandler) error {
	if ep == nil {
		return NewConfigurationError("", "no endpoint resolved")
	}
	history = CleanHistory(history)
	if len(history) == 0 {
		return NewValidationError("at least one non-empty message is required")
	}

	ctx, cancel := context.WithTimeout(ctx, ep.Timeout)
	defer cancel()

	messages := make([]Message, 0, len(history)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, Message{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, history...)

	reqBody := chatCompletionRequest{
		Model:       ep.Model,
		Messages:    messages,
		Stream:      true,
		Temperature: streamTemperature,
	}
	// Local inference is unmetered; omitting the field lets the server
	// pick its own ceiling instead of sending a nonsense sentinel.
	if ep.MaxTokens > 0 && ep.MaxTokens < math.MaxInt32 {
		reqBody.MaxTokens = ep.MaxTokens
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return ClassifyStreamError(ctx, ep.Provider, ep.Model, 0, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ClassifyStreamError(ctx, ep.Provider, ep.Model, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ep.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ep.APIKey)
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return ClassifyStreamError(ctx, ep.Provider, ep.Model, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return ClassifyStreamError(ctx, ep.Provider, ep.Model, resp.StatusCode, decodeAPIError(resp))
	}

	return consumeStream(ctx, ep, resp.Body, onToken)
}

func consumeStream(ctx context.Context, ep *Endpoint, body io.Reader, onToken TokenHandler) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}
		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// A single garbled frame is not worth killing the stream over.
			continue
		}
		if chunk.Error.Message != "" {
			return ClassifyStreamError(ctx, ep.Provider, ep.Model, 0, fmt.Errorf("%s", chunk.Error.Message))
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if token := chunk.Choices[0].Delta.Content; token != "" {
			if err := onToken(token); err != nil {
				return ClassifyStreamError(ctx, ep.Provider, ep.Model, 0, err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return ClassifyStreamError(ctx, ep.Provider, ep.Model, 0, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	if errResp.Error.Message != "" {
		return fmt.Errorf("provider api error: %s", errResp.Error.Message)
	}
	return fmt.Errorf("provider api error: %s", resp.Status)
}

// OpenAI-compatible streaming request/response types.

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int64     `json:"max_tokens,omitempty"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
