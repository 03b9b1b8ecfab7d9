package validate

import (
	"fmt"
	"sync"
)

// Issue is one fatal error or warning raised during validation.
type Issue struct {
	Code    Code
	Message string
}

func (i Issue) Error() string { return fmt.Sprintf("%s: %s", i.Code.Code, i.Message) }

// Result accumulates the fatal errors and warnings found while validating
// one object. It is safe for concurrent use: the deep pass's digest
// recomputation fans out across a worker pool and every worker reports
// through the same Result.
type Result struct {
	mu     sync.Mutex
	fatal  []Issue
	warn   []Issue
}

// AddFatal records a fatal validation error under code.
func (r *Result) AddFatal(c Code, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fatal = append(r.fatal, Issue{Code: c, Message: fmt.Sprintf(format, args...)})
}

// AddWarn records a non-fatal validation warning under code.
func (r *Result) AddWarn(c Code, format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warn = append(r.warn, Issue{Code: c, Message: fmt.Sprintf(format, args...)})
}

// Fatal returns every fatal issue recorded so far.
func (r *Result) Fatal() []Issue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Issue, len(r.fatal))
	copy(out, r.fatal)
	return out
}

// Warn returns every warning recorded so far.
func (r *Result) Warn() []Issue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Issue, len(r.warn))
	copy(out, r.warn)
	return out
}

// Valid reports whether no fatal issues have been recorded. A valid Result
// may still carry warnings.
func (r *Result) Valid() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fatal) == 0
}

// Err returns a single error summarizing every fatal issue, or nil if Valid.
func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.fatal) == 0 {
		return nil
	}
	msg := fmt.Sprintf("%d validation error(s), first: %s", len(r.fatal), r.fatal[0])
	return fmt.Errorf("%s", msg)
}
