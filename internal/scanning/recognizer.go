package scanning

import (
	"context"
	"strings"
)

// Recognizer extracts the raw text printed on a receipt image
type Recognizer interface {
	// Recognize returns the text found in imageData. languages is a hint set of
	// two-letter codes the receipt is likely written in; it may be empty.
	Recognize(ctx context.Context, imageData []byte, contentType string, languages []string) (string, error)
	// Close releases the engine behind the recognizer
	Close() error
}

// Factory creates a fresh Recognizer. The ingestion pipeline creates one per
// run and closes it when the run ends.
type Factory func(ctx context.Context) (Recognizer, error)

var languageNames = map[string]string{
	"en": "English",
	"nl": "Dutch",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"it": "Italian",
	"pt": "Portuguese",
}

// transcribePrompt builds the prompt shared by the LLM back-ends
func transcribePrompt(languages []string) string {
	var b strings.Builder
	b.WriteString(`You are an OCR engine. Transcribe every piece of text printed on this receipt exactly as it appears.

Rules:
- Keep the original line breaks: one printed line per output line
- Keep numbers exactly as printed, including decimal points
- Do not translate, summarize, correct, or reorder anything
- Do not add commentary, headings, or markdown code blocks
- If the image contains no readable text, return an empty response`)

	if len(languages) > 0 {
		names := make([]string, 0, len(languages))
		for _, code := range languages {
			if name, ok := languageNames[strings.ToLower(code)]; ok {
				names = append(names, name)
			} else {
				names = append(names, code)
			}
		}
		b.WriteString("\n\nThe receipt is most likely written in one of: ")
		b.WriteString(strings.Join(names, ", "))
		b.WriteString(".")
	}

	return b.String()
}

// cleanTranscript strips the wrapping some models add around plain text
func cleanTranscript(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		// Drop the opening fence and its optional language tag
		if idx := strings.Index(text, "\n"); idx != -1 {
			text = text[idx+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
