// Package llmclient provides the LLM capability search answers are
// generated from: Client.GenerateAnswer(query, contexts) -> string.
// Adapted from the teacher's internal/llm/openai.go, which streamed
// tokens over a channel for its own chat endpoint; here the SSE frames
// are buffered into a single answer instead, since search is a
// synchronous request/response contract, not a stream.
package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const openAIChatURL = "https://api.openai.com/v1/chat/completions"

// Client is the capability interface search depends on.
type Client interface {
	GenerateAnswer(ctx context.Context, query string, contexts []string) (string, error)
}

// OpenAIClient calls OpenAI's chat completions endpoint.
type OpenAIClient struct {
	apiKey string
	model  string
	client *http.Client
}

// NewOpenAIClient builds a Client backed by the OpenAI chat API.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const systemPrompt = "Answer the user's question using only the provided context. " +
	"If the context does not contain the answer, say so."

// GenerateAnswer builds a context-augmented prompt, streams the
// completion internally, and returns the fully assembled answer.
func (c *OpenAIClient) GenerateAnswer(ctx context.Context, query string, contexts []string) (string, error) {
	userMessage := buildUserMessage(query, contexts)

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userMessage},
		},
		Stream: true,
	})
	if err != nil {
		return "", fmt.Errorf("llmclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIChatURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llmclient: build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llmclient: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llmclient: openai returned status %d", resp.StatusCode)
	}

	var answer strings.Builder

	// Parse SSE stream: each line is "data: <json>" or "data: [DONE]"
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) > 0 {
			answer.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("llmclient: read stream: %w", err)
	}

	return answer.String(), nil
}

func buildUserMessage(query string, contexts []string) string {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, c := range contexts {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, c)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	return b.String()
}
