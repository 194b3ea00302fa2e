// Package imagestore keeps the receipt images behind a receipt's image reference
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ErrNotFound is returned when no image is stored under a key
	ErrNotFound = errors.New("image not found")

	// ErrInvalidKey is returned for keys that escape the store's namespace
	ErrInvalidKey = errors.New("invalid image key")

	// ErrContentTypeNotAllowed is returned when saving something that is not a receipt image
	ErrContentTypeNotAllowed = errors.New("content type not allowed")
)

// AllowImage lists the content types accepted for receipt images
var AllowImage = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"image/heic",
	"image/heif",
	"application/pdf",
}

// Store defines the interface for image storage operations
type Store interface {
	// Save stores data under key and returns the reference to keep on the receipt
	Save(ctx context.Context, key, contentType string, data []byte) (string, error)

	// Get retrieves an image by reference
	Get(ctx context.Context, ref string) ([]byte, error)

	// Delete removes an image
	Delete(ctx context.Context, ref string) error
}

// Allowed reports whether contentType may be stored. Parameters such as
// "; charset" are ignored.
func Allowed(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	for _, allowed := range AllowImage {
		if mediaType == allowed {
			return true
		}
	}
	return false
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	spaceRuns   = regexp.MustCompile(`\s+`)
)

// SanitizeFilename cleans up a filename by removing special characters and
// truncating long phone-generated names
func SanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeChars.ReplaceAllString(base, "")
	base = spaceRuns.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	if ext == "." || unsafeChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}

	return base + ext
}

// Key builds the storage key of a receipt image: "<user>/<receipt>_<filename>"
func Key(userID, receiptID, filename string) string {
	return userID + "/" + receiptID + "_" + SanitizeFilename(filename)
}

// cleanKey rejects absolute keys and keys that climb out of the store
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
