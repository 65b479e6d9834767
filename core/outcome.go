package core

import (
	"fmt"
)

// Outcome is a handler's terminal result. Ok and Skip are both
// protocol-correct endpoints; a failure is signaled by a non-nil error
// alongside, which is the only thing the queue retries on. The reason
// text is observability-only and must not be parsed.
type Outcome struct {
	Skipped bool
	Reason  string
}

func Ok(format string, args ...any) Outcome {
	return Outcome{Skipped: false, Reason: fmt.Sprintf(format, args...)}
}

func Skip(format string, args ...any) Outcome {
	return Outcome{Skipped: true, Reason: fmt.Sprintf(format, args...)}
}

func (o Outcome) String() string {
	if o.Skipped {
		return "skip: " + o.Reason
	}
	return "ok: " + o.Reason
}
