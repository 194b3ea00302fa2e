// Package ingest turns one uploaded receipt image into one persisted receipt.
//
// A run moves through
//
//	Idle → Recognizing → DetectingLanguage → (Translating) → Extracting → Persisting → Succeeded | Failed
//
// and ends with exactly one notification. Runs share no mutable state.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/zombor/finance-tracker/internal/extract"
	"github.com/zombor/finance-tracker/internal/finance"
	"github.com/zombor/finance-tracker/internal/imagestore"
	"github.com/zombor/finance-tracker/internal/notify"
	"github.com/zombor/finance-tracker/internal/scanning"
)

// Messages shown to the user
const (
	SuccessMessage = "Receipt processed successfully"
	FailureMessage = "could not process receipt"
)

// Upload is one submitted file
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Identifier returns the two-letter language code of text. It never fails.
type Identifier interface {
	Identify(ctx context.Context, text string) string
}

// Translator turns text into the target language
type Translator interface {
	Translate(ctx context.Context, text, target string) (string, error)
}

// Extractor finds the total in recognized text
type Extractor func(text string) (decimal.Decimal, error)

// ReceiptAppender is the state a run appends its receipt to
type ReceiptAppender interface {
	UserID() string
	AddReceipt(ctx context.Context, r finance.Receipt) (finance.Receipt, error)
}

// IDGenerator generates unique IDs for receipts
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Timeouts bound each external call. Zero means no bound beyond the caller's context.
type Timeouts struct {
	Recognize time.Duration
	Detect    time.Duration
	Translate time.Duration
	Persist   time.Duration
}

// DefaultTimeouts are used by New when none are configured
var DefaultTimeouts = Timeouts{
	Recognize: 2 * time.Minute,
	Detect:    10 * time.Second,
	Translate: 30 * time.Second,
	Persist:   15 * time.Second,
}

// Config holds the collaborators of a Pipeline. Recognizers is required.
// Without an Identifier every text is taken to be in the target language.
// Without a Translator a foreign text is extracted untranslated.
type Config struct {
	Recognizers scanning.Factory
	Identifier  Identifier
	Translator  Translator
	Extract     Extractor
	Images      imagestore.Store
	Notifier    notify.Notifier
	IDGenerator IDGenerator
	TimeSource  TimeSource
	Target      string
	Languages   []string
	Timeouts    *Timeouts
}

// Pipeline runs ingestions. It is safe for concurrent use.
type Pipeline struct {
	recognizers scanning.Factory
	identifier  Identifier
	translator  Translator
	extract     Extractor
	images      imagestore.Store
	notifier    notify.Notifier
	idGenerator IDGenerator
	timeSource  TimeSource
	target      string
	languages   []string
	timeouts    Timeouts
	logger      *slog.Logger
}

// New creates a Pipeline, filling in defaults for optional collaborators
func New(cfg Config) (*Pipeline, error) {
	if cfg.Recognizers == nil {
		return nil, errors.New("a recognizer factory is required")
	}

	p := &Pipeline{
		recognizers: cfg.Recognizers,
		identifier:  cfg.Identifier,
		translator:  cfg.Translator,
		extract:     cfg.Extract,
		images:      cfg.Images,
		notifier:    cfg.Notifier,
		idGenerator: cfg.IDGenerator,
		timeSource:  cfg.TimeSource,
		target:      cfg.Target,
		languages:   cfg.Languages,
		timeouts:    DefaultTimeouts,
		logger:      slog.Default().With("component", "ingest"),
	}
	if p.extract == nil {
		p.extract = extract.Total
	}
	if p.notifier == nil {
		p.notifier = notify.NewLog(nil)
	}
	if p.idGenerator == nil {
		p.idGenerator = uuidGenerator{}
	}
	if p.timeSource == nil {
		p.timeSource = systemClock{}
	}
	if p.target == "" {
		p.target = "en"
	}
	if len(p.languages) == 0 {
		p.languages = []string{"en", "nl"}
	}
	if cfg.Timeouts != nil {
		p.timeouts = *cfg.Timeouts
	}

	return p, nil
}

// Result is the outcome of a run. Receipt is set when Stage is Succeeded,
// Err when Stage is Failed.
type Result struct {
	Stage      Stage
	Receipt    finance.Receipt
	Err        error
	Language   string
	Translated bool
	// Trail lists the stages the run passed through, in order
	Trail []Stage
}

// Succeeded reports whether the run persisted a receipt
func (r Result) Succeeded() bool {
	return r.Stage == Succeeded
}

type run struct {
	*Pipeline
	state  ReceiptAppender
	upload Upload
	result Result
}

func (r *run) enter(s Stage) {
	r.result.Stage = s
	r.result.Trail = append(r.result.Trail, s)
}

func (r *run) fail(reason, err error) Result {
	stage := r.result.Stage
	r.result.Err = &StageError{Stage: stage, Reason: reason, Err: err}
	r.enter(Failed)
	return r.result
}

func (p *Pipeline) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Run processes the first of uploads and appends the resulting receipt to
// state. Further uploads are ignored. Exactly one notification is sent.
func (p *Pipeline) Run(ctx context.Context, state ReceiptAppender, uploads ...Upload) Result {
	r := &run{Pipeline: p, state: state}
	r.enter(Idle)

	var res Result
	if len(uploads) == 0 || len(uploads[0].Data) == 0 {
		res = r.fail(ErrNoUpload, nil)
	} else {
		if len(uploads) > 1 {
			p.logger.InfoContext(ctx, "Ignoring extra uploads, one receipt is processed per run",
				"processed", uploads[0].Filename,
				"ignored", len(uploads)-1)
		}
		r.upload = uploads[0]
		res = r.execute(ctx)
	}

	p.report(ctx, state, res)
	return res
}

func (r *run) execute(ctx context.Context) Result {
	text, err := r.recognize(ctx)
	if err != nil {
		return r.fail(ErrRecognitionFailed, err)
	}

	r.enter(DetectingLanguage)
	detectCtx, cancel := r.withTimeout(ctx, r.timeouts.Detect)
	lang := r.target
	if r.identifier != nil {
		lang = r.identifier.Identify(detectCtx, text)
	}
	cancel()
	r.result.Language = lang

	if lang != r.target {
		if r.translator == nil {
			r.logger.WarnContext(ctx, "No translator configured, extracting untranslated text", "language", lang)
		} else {
			r.enter(Translating)
			translateCtx, cancel := r.withTimeout(ctx, r.timeouts.Translate)
			translated, err := r.translator.Translate(translateCtx, text, r.target)
			cancel()
			if err != nil {
				return r.fail(ErrTranslationFailed, err)
			}
			text = translated
			r.result.Translated = true
		}
	}

	r.enter(Extracting)
	total, err := r.extract(text)
	if err != nil {
		return r.fail(ErrExtractionFailed, err)
	}

	r.enter(Persisting)
	receipt, err := r.persist(ctx, total)
	if err != nil {
		return r.fail(ErrPersistenceFailed, err)
	}

	r.result.Receipt = receipt
	r.enter(Succeeded)
	return r.result
}

// recognize creates a recognizer for this run and releases it before returning
func (r *run) recognize(ctx context.Context) (text string, err error) {
	r.enter(Recognizing)

	ctx, cancel := r.withTimeout(ctx, r.timeouts.Recognize)
	defer cancel()

	recognizer, err := r.recognizers(ctx)
	if err != nil {
		return "", fmt.Errorf("creating recognizer: %w", err)
	}
	defer func() {
		if closeErr := recognizer.Close(); closeErr != nil {
			r.logger.WarnContext(ctx, "Failed to release recognizer", "error", closeErr)
		}
	}()

	text, err = recognizer.Recognize(ctx, r.upload.Data, r.upload.ContentType, r.languages)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to recognize receipt",
			"filename", r.upload.Filename,
			"content_type", r.upload.ContentType,
			"file_size", len(r.upload.Data),
			"error", err,
		)
		return "", err
	}
	return text, nil
}

func (r *run) persist(ctx context.Context, total decimal.Decimal) (finance.Receipt, error) {
	if r.state == nil {
		return finance.Receipt{}, errors.New("no state to persist to")
	}
	userID := r.state.UserID()
	if userID == "" {
		return finance.Receipt{}, errors.New("no authenticated user")
	}

	ctx, cancel := r.withTimeout(ctx, r.timeouts.Persist)
	defer cancel()

	now := r.timeSource.Now()
	receipt := finance.Receipt{
		ID:        r.idGenerator.Generate(),
		Date:      now,
		Total:     total,
		Items:     []finance.ReceiptItem{},
		Category:  finance.Other,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if r.images != nil {
		key := imagestore.Key(userID, receipt.ID, r.upload.Filename)
		ref, err := r.images.Save(ctx, key, r.upload.ContentType, r.upload.Data)
		if err != nil {
			return finance.Receipt{}, fmt.Errorf("saving image: %w", err)
		}
		receipt.ImageURL = ref
	}

	saved, err := r.state.AddReceipt(ctx, receipt)
	if err != nil {
		if receipt.ImageURL != "" {
			// The run's own context may be spent; clean up regardless
			if delErr := r.images.Delete(context.WithoutCancel(ctx), receipt.ImageURL); delErr != nil {
				r.logger.ErrorContext(ctx, "Failed to remove image of unsaved receipt",
					"image", receipt.ImageURL, "error", delErr)
			}
		}
		return finance.Receipt{}, fmt.Errorf("adding receipt: %w", err)
	}
	return saved, nil
}

func (p *Pipeline) report(ctx context.Context, state ReceiptAppender, res Result) {
	n := notify.Notification{
		At: p.timeSource.Now(),
	}
	if state != nil {
		n.UserID = state.UserID()
	}

	if res.Succeeded() {
		n.Kind = notify.Success
		n.Message = SuccessMessage
		n.ReceiptID = res.Receipt.ID
		n.Total = res.Receipt.Total.StringFixed(2)
		p.logger.InfoContext(ctx, "Receipt ingested",
			"receipt_id", res.Receipt.ID,
			"total", n.Total,
			"language", res.Language,
			"translated", res.Translated)
	} else {
		n.Kind = notify.Failure
		n.Message = FailureMessage
		if reason := Reason(res.Err); reason != nil {
			n.Reason = reason.Error()
		}
		p.logger.WarnContext(ctx, "Receipt ingestion failed", "error", res.Err, "trail", res.Trail)
	}

	if err := p.notifier.Notify(context.WithoutCancel(ctx), n); err != nil {
		p.logger.ErrorContext(ctx, "Failed to deliver notification", "kind", n.Kind, "error", err)
	}
}
