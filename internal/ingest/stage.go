package ingest

import (
	"errors"
	"fmt"
)

// Stage is a state of a run
type Stage int

const (
	Idle Stage = iota
	Recognizing
	DetectingLanguage
	Translating
	Extracting
	Persisting
	Succeeded
	Failed
)

func (s Stage) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recognizing:
		return "recognizing"
	case DetectingLanguage:
		return "detecting_language"
	case Translating:
		return "translating"
	case Extracting:
		return "extracting"
	case Persisting:
		return "persisting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// MarshalText renders the stage name in JSON
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Failure reasons. A failed run's error matches exactly one of them with errors.Is.
var (
	ErrNoUpload          = errors.New("no upload")
	ErrRecognitionFailed = errors.New("recognition failed")
	ErrTranslationFailed = errors.New("translation failed")
	ErrExtractionFailed  = errors.New("extraction failed")
	ErrPersistenceFailed = errors.New("persistence failed")
)

// StageError is the error of a failed run
type StageError struct {
	Stage  Stage
	Reason error
	Err    error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Reason)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Reason, e.Err)
}

// Unwrap exposes both the reason and the underlying cause
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

// Reason returns the failure reason of err, or nil if err is not a run failure
func Reason(err error) error {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Reason
	}
	return nil
}
