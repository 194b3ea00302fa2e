package language

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Translator turns text into the target language
type Translator interface {
	Translate(ctx context.Context, text, target string) (string, error)
}

// LibreTranslator calls a LibreTranslate compatible /translate endpoint
type LibreTranslator struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewLibreTranslator creates a LibreTranslator. The service requires an API key.
func NewLibreTranslator(baseURL, apiKey string) (*LibreTranslator, error) {
	if baseURL == "" {
		return nil, errors.New("translation service URL is required")
	}
	if apiKey == "" {
		return nil, errors.New("translation API key is required")
	}
	return &LibreTranslator{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type translateRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
	APIKey string `json:"api_key"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
	Error          string `json:"error,omitempty"`
}

// Translate translates text into target, detecting the source language
func (t *LibreTranslator) Translate(ctx context.Context, text, target string) (string, error) {
	body, err := json.Marshal(translateRequest{
		Q:      text,
		Source: "auto",
		Target: target,
		Format: "text",
		APIKey: t.apiKey,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling translate API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("translate API error (status %d): %s", resp.StatusCode, string(msg))
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("translate API error: %s", out.Error)
	}
	if strings.TrimSpace(out.TranslatedText) == "" {
		return "", errors.New("translate API returned no text")
	}

	return out.TranslatedText, nil
}

// GeminiTranslator translates with a Gemini model
type GeminiTranslator struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiTranslator creates a GeminiTranslator
func NewGeminiTranslator(ctx context.Context, apiKey, modelName string) (*GeminiTranslator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &GeminiTranslator{client: client, model: model}, nil
}

// Translate translates text into target, keeping the line layout and numbers intact
func (g *GeminiTranslator) Translate(ctx context.Context, text, target string) (string, error) {
	prompt := fmt.Sprintf(`Translate the following receipt text into the language with ISO 639-1 code %q.
Keep one output line per input line. Copy every number exactly as written.
Return only the translation, without commentary or markdown.

%s`, target, text)

	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("no response from gemini")
	}

	var out strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			out.WriteString(string(t))
		}
	}

	translated := strings.TrimSpace(out.String())
	if translated == "" {
		return "", errors.New("gemini returned no translation")
	}
	return translated, nil
}

// Close closes the Gemini client
func (g *GeminiTranslator) Close() error {
	return g.client.Close()
}
