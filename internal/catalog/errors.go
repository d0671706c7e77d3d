package catalog

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Callers classify with errors.Is
// and isolate each failure to the smallest unit: one record, one source, one
// asset. Only a dead store at startup is fatal.
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrMalformedPayload  = errors.New("malformed payload")
	ErrAssetAcquisition  = errors.New("asset acquisition failed")
	ErrStoreWrite        = errors.New("store write failed")
	ErrBackup            = errors.New("backup failed")
	ErrNotFound          = errors.New("not found")
)

// SkipError marks a raw record the normalizer rejected.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("record skipped: %s", e.Reason)
}

// Skip builds a SkipError with a formatted reason.
func Skip(format string, args ...any) *SkipError {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// IsSkip reports whether err is a normalization skip.
func IsSkip(err error) bool {
	var se *SkipError
	return errors.As(err, &se)
}
