// Package llm wraps the OpenAI-compatible chat completions API of the
// third-party provider. The wrapper relays completions and streams; the
// rewrite/classify helpers in prompts.go are the only prompting logic.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const (
	defaultChatModel   = "gpt-4o-mini"
	defaultAnswerModel = "gpt-4o"
)

// ChatClient issues chat completion calls against the provider configured by
// THIRD_PARTY_BASE_URL and THIRD_PARTY_API_KEY.
type ChatClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	chatModel   string
	answerModel string
}

// NewChatClientFromEnv constructs a ChatClient from environment variables.
func NewChatClientFromEnv() (*ChatClient, error) {
	apiKey := strings.TrimSpace(os.Getenv("THIRD_PARTY_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("llm: THIRD_PARTY_API_KEY environment variable is required")
	}

	baseURL := strings.TrimSpace(os.Getenv("THIRD_PARTY_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("llm: THIRD_PARTY_BASE_URL environment variable is required")
	}
	baseURL = strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("llm: invalid base URL %q", baseURL)
	}

	chatModel := strings.TrimSpace(os.Getenv("LLM_MODEL_ID"))
	if chatModel == "" {
		chatModel = defaultChatModel
	}
	answerModel := strings.TrimSpace(os.Getenv("LLM_ANSWER_MODEL"))
	if answerModel == "" {
		answerModel = defaultAnswerModel
	}

	return &ChatClient{
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		baseURL:     baseURL,
		apiKey:      apiKey,
		chatModel:   chatModel,
		answerModel: answerModel,
	}, nil
}

// DefaultModel is the model used when a request names none.
func (c *ChatClient) DefaultModel() string {
	return c.chatModel
}

// AnswerModel is the heavier model the hybrid workflow answers with.
func (c *ChatClient) AnswerModel() string {
	return c.answerModel
}

// ChatMessage is one turn in a conversation payload.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage carries the provider's token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the non-streaming result of one chat call.
type Completion struct {
	ID      string
	Content string
	Usage   *Usage
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []ChatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

func (c *ChatClient) newRequest(ctx context.Context, payload chatCompletionRequest) (*http.Request, error) {
	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return nil, fmt.Errorf("llm: encode chat payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("llm: create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// CreateCompletion issues one non-streaming chat call. An empty model uses
// the configured default.
func (c *ChatClient) CreateCompletion(ctx context.Context, model string, messages []ChatMessage) (*Completion, error) {
	if c == nil {
		return nil, errors.New("llm: chat client is not configured")
	}
	if model == "" {
		model = c.chatModel
	}
	req, err := c.newRequest(ctx, chatCompletionRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("llm: chat API status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("llm: decode chat response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return nil, errors.New("llm: chat response contained no choices")
	}
	return &Completion{
		ID:      decoded.ID,
		Content: decoded.Choices[0].Message.Content,
		Usage:   decoded.Usage,
	}, nil
}

// StreamDelta is one incremental piece of a streamed completion.
type StreamDelta struct {
	Content      string
	FinishReason string
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// StreamCompletion issues a streaming chat call and invokes fn for every
// delta until the provider sends [DONE] or fn returns an error.
func (c *ChatClient) StreamCompletion(ctx context.Context, model string, messages []ChatMessage, fn func(delta StreamDelta) error) error {
	if c == nil {
		return errors.New("llm: chat client is not configured")
	}
	if model == "" {
		model = c.chatModel
	}
	req, err := c.newRequest(ctx, chatCompletionRequest{Model: model, Stream: true, Messages: messages})
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("llm: chat stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("llm: chat stream status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}
		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, choice := range chunk.Choices {
			delta := StreamDelta{Content: choice.Delta.Content, FinishReason: choice.FinishReason}
			if err := fn(delta); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("llm: read chat stream: %w", err)
	}
	return nil
}
