package resolver

import (
	"fmt"
)

type ErrorKind string

const (
	KindCycle    ErrorKind = "cycle"
	KindMismatch ErrorKind = "identity mismatch"
	KindNetwork  ErrorKind = "network"
	KindParse    ErrorKind = "parse"
	KindDepth    ErrorKind = "depth exceeded"
)

// ResolutionError carries which way a resolution failed. Callers
// propagate it as a job failure; the queue treats all kinds as
// retryable.
type ResolutionError struct {
	Kind ErrorKind
	URI  string
	Err  error
}

func (e ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolution failed (%s) for %s: %v", e.Kind, e.URI, e.Err)
	}
	return fmt.Sprintf("resolution failed (%s) for %s", e.Kind, e.URI)
}

func (e ResolutionError) Unwrap() error {
	return e.Err
}
