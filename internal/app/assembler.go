package app

import (
	"fmt"
	"regexp"
	"strings"

	"docuchat/pkg/domain"
)

const (
	// contextBudget caps the assembled context block. It is a hard
	// character truncation, not chunk-boundary aligned.
	contextBudget = 3000

	// RetrievalThreshold is deliberately permissive: with a coarse
	// fallback embedding, over-including marginal matches beats starving
	// the prompt of context.
	RetrievalThreshold = 0.3
	RetrievalTopK      = 5
)

var greetingPattern = regexp.MustCompile(`^(hi|hello|hey|greetings|how are you|what's up|howdy|good (morning|afternoon|evening))`)

// IsGreeting classifies a user turn as a casual greeting by matching a
// small set of openers at the start of the trimmed, lower-cased text.
func IsGreeting(text string) bool {
	return greetingPattern.MatchString(strings.ToLower(strings.TrimSpace(text)))
}

// PromptInput carries everything needed to assemble one system prompt.
type PromptInput struct {
	Question      string
	Greeting      bool
	HasDocuments  bool
	Chunks        []domain.RetrievedChunk
	DocumentNames map[string]string
}

// BuildSystemPrompt selects and fills one of the prompt templates.
func BuildSystemPrompt(in PromptInput) string {
	if in.Greeting {
		if in.HasDocuments {
			return greetingWithDocsPrompt
		}
		return greetingPrompt
	}
	if len(in.Chunks) == 0 {
		return noContextPrompt(in.Question)
	}
	return contextPrompt(in.Question, in.Chunks, in.DocumentNames)
}

// ErrorPrompt replaces the assembled prompt when retrieval or assembly
// failed. The chat turn still proceeds.
func ErrorPrompt() string {
	return "You are a helpful assistant. Tell the user: \"I encountered an error processing your request.\" Apologize briefly and invite them to try again."
}

const greetingWithDocsPrompt = "You are a helpful assistant. The user has greeted you. Respond with a short, friendly greeting and mention that you are ready to answer questions about their uploaded documents."

const greetingPrompt = "You are a helpful assistant. The user has greeted you. Respond with a short, friendly greeting."

func noContextPrompt(question string) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful assistant. The user asked: \"")
	sb.WriteString(question)
	sb.WriteString("\"\n\n")
	sb.WriteString("No relevant information was found in their uploaded documents for this question. ")
	sb.WriteString("Tell the user you could not find relevant information in their documents, ")
	sb.WriteString("then answer as best you can from general knowledge, clearly marked as such, ")
	sb.WriteString("and suggest rephrasing the question or uploading a document that covers the topic.")
	return sb.String()
}

func contextPrompt(question string, chunks []domain.RetrievedChunk, names map[string]string) string {
	blocks := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		name := names[chunk.DocumentID]
		if name == "" {
			name = "Unknown Document"
		}
		blocks = append(blocks, fmt.Sprintf("[Document: %s | Relevance: %.1f%%]\n%s",
			name, chunk.Similarity*100, chunk.Content))
	}
	context := strings.Join(blocks, "\n\n")
	context = truncate(context, contextBudget)

	var sb strings.Builder
	sb.WriteString("You are a helpful assistant answering questions about the user's uploaded documents.\n\n")
	sb.WriteString("Context from the user's documents:\n\n")
	sb.WriteString(context)
	sb.WriteString("\n\nInstructions:\n")
	sb.WriteString("1. Answer using only the information in the context above.\n")
	sb.WriteString("2. If the context does not contain the answer, say so clearly instead of guessing.\n")
	sb.WriteString("3. Mention the document name when citing specific information.\n")
	sb.WriteString("4. Keep the answer concise and directly address the question.\n")
	sb.WriteString("5. Do not invent facts that are not supported by the context.\n")
	sb.WriteString("\nQuestion: ")
	sb.WriteString(question)
	return sb.String()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
