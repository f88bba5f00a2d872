package extraction

import (
	"context"
	"errors"
	"fmt"
)

// ErrExtraction matches every *ExtractionFailure with errors.Is
var ErrExtraction = errors.New("extraction failed")

// FailureKind classifies why an extractor produced nothing usable
type FailureKind string

const (
	FailureTimeout     FailureKind = "timeout"
	FailureRefusal     FailureKind = "refusal"
	FailureMalformed   FailureKind = "malformed"
	FailureUnavailable FailureKind = "unavailable"
)

// ExtractionFailure is returned by extractors instead of partial data
type ExtractionFailure struct {
	Extractor string
	Kind      FailureKind
	Err       error
}

func (f *ExtractionFailure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s extraction %s", f.Extractor, f.Kind)
	}
	return fmt.Sprintf("%s extraction %s: %v", f.Extractor, f.Kind, f.Err)
}

func (f *ExtractionFailure) Unwrap() error { return f.Err }

// Is makes errors.Is(err, ErrExtraction) true for any failure
func (f *ExtractionFailure) Is(target error) bool {
	return target == ErrExtraction
}

// Fail builds a failure of the given kind
func Fail(extractor string, kind FailureKind, err error) *ExtractionFailure {
	return &ExtractionFailure{Extractor: extractor, Kind: kind, Err: err}
}

// AsFailure converts any extractor error into an *ExtractionFailure.
// Context deadlines become timeouts, unknown errors become unavailable.
func AsFailure(extractor string, err error) *ExtractionFailure {
	if err == nil {
		return nil
	}
	var f *ExtractionFailure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Fail(extractor, FailureTimeout, err)
	}
	return Fail(extractor, FailureUnavailable, err)
}
