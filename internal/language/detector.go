// Package language identifies the language of recognized text and translates
// it into the language the field extractor understands.
package language

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

// DefaultTarget is the language the total keywords are written in
const DefaultTarget = "en"

// ErrDetectionUndetermined is logged when detection gives no usable answer.
// It never leaves this package.
var ErrDetectionUndetermined = errors.New("language undetermined")

// Detector identifies languages through a LibreTranslate compatible /detect endpoint
type Detector struct {
	baseURL string
	apiKey  string
	target  string
	client  *http.Client
}

// NewDetector creates a Detector. target is returned whenever detection fails.
func NewDetector(baseURL, apiKey, target string) *Detector {
	if target == "" {
		target = DefaultTarget
	}
	return &Detector{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		target:  target,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type detectRequest struct {
	Q      string `json:"q"`
	APIKey string `json:"api_key,omitempty"`
}

type detection struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// Identify returns the two-letter code of the most likely language of text.
// Detection is an optimization: every failure yields the target language.
func (d *Detector) Identify(ctx context.Context, text string) string {
	code, err := d.detect(ctx, text)
	if err != nil {
		slog.DebugContext(ctx, "Language detection failed, assuming target language",
			"target", d.target,
			"error", errors.Join(ErrDetectionUndetermined, err),
		)
		return d.target
	}
	return code
}

func (d *Detector) detect(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty text")
	}

	body, err := json.Marshal(detectRequest{Q: text, APIKey: d.apiKey})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/detect", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling detect API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("detect API error (status %d): %s", resp.StatusCode, string(msg))
	}

	var ranked []detection
	if err := json.NewDecoder(resp.Body).Decode(&ranked); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(ranked) == 0 {
		return "", errors.New("no languages detected")
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	code := normalizeCode(ranked[0].Language)
	if code == "" {
		return "", fmt.Errorf("invalid language code %q", ranked[0].Language)
	}
	return code, nil
}

// normalizeCode reduces "EN", "en-US" or "nl_BE" to a lowercase two-letter code
func normalizeCode(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if len(code) < 2 {
		return ""
	}
	code = code[:2]
	for _, r := range code {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	return code
}
