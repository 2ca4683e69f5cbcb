// Package classifier turns an image on disk into a species label.
//
// Two backends implement Classifier: ProcessClassifier runs an external
// script per image and reads a JSON object from its stdout, ONNXClassifier
// runs an image classification model in-process. Neither retries; retry and
// fallback policy belongs to the caller.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/your-org/reserve/internal/observability"
)

// Classifier labels the image at path. Implementations make a single attempt.
type Classifier interface {
	Classify(ctx context.Context, path string) (*Result, error)
}

type Result struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type Kind string

const (
	KindProcess      Kind = "process"
	KindParse        Kind = "parse"
	KindUnauthorized Kind = "unauthorized"
	KindUnavailable  Kind = "unavailable"
)

// Error is the typed failure every backend returns.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classify (%s): %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("classify (%s): %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the failure kind of err, or "" if err is not a classifier error.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func record(backend string, start time.Time, err error) {
	observability.ClassificationDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = string(KindOf(err))
		if result == "" {
			result = "error"
		}
	}
	observability.Classifications.WithLabelValues(backend, result).Inc()
}
