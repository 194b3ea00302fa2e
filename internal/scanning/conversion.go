package scanning

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// ErrUnsupportedImage is returned for payloads that cannot be decoded as an image
var ErrUnsupportedImage = errors.New("unsupported image format (supported: JPEG, PNG, GIF, HEIC, HEIF, PDF)")

// maxEdge bounds the longest side sent to a recognizer. Phone photos are far
// larger than text recognition needs.
const maxEdge = 2400

// firstPage renders page one of a PDF; receipts are single page
func firstPage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, errors.New("PDF has no pages")
	}
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// isHEIC checks the ftyp box brand and the declared MIME type
func isHEIC(data []byte, mimeType string) bool {
	if len(data) >= 12 && string(data[4:8]) == "ftyp" {
		switch string(data[8:12]) {
		case "heic", "heix", "heif", "mif1", "msf1":
			return true
		}
	}
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

func decode(data []byte, mimeType string) (image.Image, string, error) {
	switch {
	case mimeType == "application/pdf":
		img, err := firstPage(data)
		return img, "pdf", err
	case isHEIC(data, mimeType):
		// The standard library has no HEIC decoder; iPhones produce it by default
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, "heic", nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
		}
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}
	return img, format, nil
}

// shrink scales img down by an integer factor until it fits within maxEdge,
// sampling the nearest pixel
func shrink(img image.Image) image.Image {
	b := img.Bounds()
	longest := max(b.Dx(), b.Dy())
	if longest <= maxEdge {
		return img
	}

	factor := (longest + maxEdge - 1) / maxEdge
	out := image.NewRGBA(image.Rect(0, 0, max(b.Dx()/factor, 1), max(b.Dy()/factor, 1)))
	for y := 0; y < out.Rect.Dy(); y++ {
		for x := 0; x < out.Rect.Dx(); x++ {
			out.Set(x, y, img.At(b.Min.X+x*factor, b.Min.Y+y*factor))
		}
	}
	return out
}

// normalizeImage turns any supported upload into PNG bytes no larger than
// maxEdge on either side. Small PNGs pass through untouched.
func normalizeImage(data []byte, contentType string) ([]byte, error) {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	img, format, err := decode(data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("converting %s to PNG: %w", mimeType, err)
	}

	scaled := shrink(img)
	if format == "png" && scaled == img {
		return data, nil
	}

	// Palette and CMYK sources render oddly in some models; flatten to RGBA
	rgba, ok := scaled.(*image.RGBA)
	if !ok {
		rgba = image.NewRGBA(scaled.Bounds())
		draw.Draw(rgba, rgba.Bounds(), scaled, scaled.Bounds().Min, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, rgba); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
