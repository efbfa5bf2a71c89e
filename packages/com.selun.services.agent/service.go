// Package agent implements the chat-style Q&A surface: a thin client over
// an OpenAI-compatible chat-completions endpoint.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/r3e-network/selun-engine/infrastructure/errors"
	"github.com/tidwall/gjson"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config configures the upstream chat-completions endpoint.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
}

func DefaultConfig() Config {
	return Config{BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini", Timeout: 30 * time.Second}
}

// Agent answers chat-style questions through a configured upstream model.
type Agent struct {
	cfg Config
}

func New(cfg Config) *Agent {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Agent{cfg: cfg}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// Ask sends userMessage, prefixed by any prior history and an optional
// system-level context note, to the configured model and returns its reply.
func (a *Agent) Ask(ctx context.Context, userMessage string, history []Message, contextNote string) (string, error) {
	messages := make([]Message, 0, len(history)+2)
	if contextNote != "" {
		messages = append(messages, Message{Role: "system", Content: contextNote})
	}
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: userMessage})

	body, err := json.Marshal(chatRequest{Model: a.cfg.Model, Messages: messages})
	if err != nil {
		return "", errors.Internal("marshal agent chat request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errors.AgentUnavailable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", errors.AgentUnavailable(err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return "", errors.AgentUnavailable(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.AgentUnavailable(fmt.Errorf("status %d: %s", resp.StatusCode, buf.String()))
	}

	reply := gjson.GetBytes(buf.Bytes(), "choices.0.message.content").String()
	if reply == "" {
		return "", errors.AgentUnavailable(fmt.Errorf("empty completion"))
	}
	return reply, nil
}
