package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/shopspring/decimal"

	"github.com/zombor/finance-tracker/internal/finance"
	"github.com/zombor/finance-tracker/internal/imagestore"
	"github.com/zombor/finance-tracker/internal/ingest"
)

// maxUploadSize fits high-resolution phone photos
const maxUploadSize = int64(50 << 20)

type receiptRequest struct {
	Date     time.Time             `json:"date" validate:"required"`
	Total    decimal.Decimal       `json:"total"`
	Items    []finance.ReceiptItem `json:"items" validate:"dive"`
	Category finance.Category      `json:"category" validate:"category"`
	Notes    string                `json:"notes" validate:"max=2000"`
}

type scanFailure struct {
	Error  string       `json:"error"`
	Reason string       `json:"reason"`
	Stage  ingest.Stage `json:"stage"`
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	store, ok := s.userStore(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, store.Receipts())
}

// contentTypeOf prefers the declared type and falls back to the file extension
func contentTypeOf(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	store, ok := s.userStore(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "No file was selected. Please choose a file to upload.")
		return
	}

	// Only the first file is read; the pipeline ignores the rest
	uploads := make([]ingest.Upload, 0, len(files))
	for i, header := range files {
		upload := ingest.Upload{
			Filename:    header.Filename,
			ContentType: contentTypeOf(header.Header.Get("Content-Type"), header.Filename),
		}
		if i == 0 {
			if !imagestore.Allowed(upload.ContentType) {
				writeError(w, http.StatusUnsupportedMediaType, "Unsupported file type. Upload a JPEG, PNG, GIF, WEBP, HEIC or PDF receipt.")
				return
			}
			f, err := header.Open()
			if err != nil {
				slog.Error("Error opening uploaded file", "error", err, "filename", header.Filename)
				writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
				return
			}
			upload.Data, err = io.ReadAll(f)
			f.Close()
			if err != nil {
				slog.Error("Error reading file data", "error", err, "filename", header.Filename)
				writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
				return
			}
		}
		uploads = append(uploads, upload)
	}

	userID, _ := UserFromContext(r.Context())
	done, ok := s.sessions.BeginScan(userID)
	if !ok {
		writeError(w, http.StatusConflict, "A receipt is already being processed")
		return
	}
	defer done()

	res := s.pipeline.Run(r.Context(), store, uploads...)
	if !res.Succeeded() {
		failure := scanFailure{Error: ingest.FailureMessage, Stage: res.Stage}
		if reason := ingest.Reason(res.Err); reason != nil {
			failure.Reason = reason.Error()
		}
		// Failed is terminal; report the stage that failed
		var stageErr *ingest.StageError
		if errors.As(res.Err, &stageErr) {
			failure.Stage = stageErr.Stage
		}
		writeJSON(w, http.StatusUnprocessableEntity, failure)
		return
	}

	writeJSON(w, http.StatusCreated, res.Receipt)
}

func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request) {
	store, ok := s.userStore(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	existing, found := store.Receipt(id)
	if !found {
		writeError(w, http.StatusNotFound, "Receipt not found")
		return
	}

	var req receiptRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	items := req.Items
	if items == nil {
		items = []finance.ReceiptItem{}
	}

	updated, err := store.UpdateReceipt(r.Context(), finance.Receipt{
		ID:       id,
		Date:     req.Date,
		Total:    req.Total,
		Items:    items,
		Category: req.Category,
		ImageURL: existing.ImageURL,
		Notes:    req.Notes,
	})
	if err != nil {
		writeStoreError(w, r, err, "Error updating receipt")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	store, ok := s.userStore(w, r)
	if !ok {
		return
	}

	removed, err := store.DeleteReceipt(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err, "Error deleting receipt")
		return
	}

	if removed.ImageURL != "" && s.images != nil {
		if err := s.images.Delete(r.Context(), removed.ImageURL); err != nil && !errors.Is(err, imagestore.ErrNotFound) {
			slog.ErrorContext(r.Context(), "Failed to delete receipt image", "receipt_id", removed.ID, "image", removed.ImageURL, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetReceiptImage(w http.ResponseWriter, r *http.Request) {
	store, ok := s.userStore(w, r)
	if !ok {
		return
	}

	receipt, found := store.Receipt(r.PathValue("id"))
	if !found || receipt.ImageURL == "" || s.images == nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	data, err := s.images.Get(r.Context(), receipt.ImageURL)
	if err != nil {
		if errors.Is(err, imagestore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found")
			return
		}
		slog.ErrorContext(r.Context(), "Error reading receipt image", "receipt_id", receipt.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.Write(data)
}
