package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama implements the Recognizer interface using a local Ollama vision model
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama Recognizer instance.
// Vision models with decent OCR: llava:1.6, qwen2-vl:7b, llama3.2-vision.
func NewOllama(baseURL string, modelName string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llava"
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client: &http.Client{
			Timeout: 120 * time.Second, // vision models are slow on CPU
		},
	}, nil
}

// NewOllamaFactory returns a Factory producing Ollama recognizers
func NewOllamaFactory(baseURL string, modelName string) Factory {
	return func(ctx context.Context) (Recognizer, error) {
		return NewOllama(baseURL, modelName)
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Recognize transcribes the text on a receipt image
func (o *Ollama) Recognize(ctx context.Context, imageData []byte, contentType string, languages []string) (string, error) {
	pngData, err := normalizeImage(imageData, contentType)
	if err != nil {
		return "", err
	}

	reqBody := ollamaChatRequest{
		Model: o.model,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You read receipts and transcribe them character by character.",
			},
			{
				Role:    "user",
				Content: transcribePrompt(languages),
				Images:  []string{base64.StdEncoding.EncodeToString(pngData)},
			},
		},
		Options: map[string]any{"temperature": 0},
	}

	var out ollamaChatResponse
	if err := o.chat(ctx, reqBody, &out); err != nil {
		return "", err
	}
	if !out.Done {
		return "", fmt.Errorf("ollama returned a partial response")
	}
	return cleanTranscript(out.Message.Content), nil
}

type ollamaError struct {
	Error string `json:"error"`
}

func (o *Ollama) chat(ctx context.Context, in ollamaChatRequest, out *ollamaChatResponse) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading ollama response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e ollamaError
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("ollama chat failed (%d): %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("ollama chat failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding ollama response: %w", err)
	}
	return nil
}

// Close drops idle connections held by the client
func (o *Ollama) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
