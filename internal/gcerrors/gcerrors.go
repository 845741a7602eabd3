// Package gcerrors provides the categorized error taxonomy used across the
// collector: distinguished heap-exhaustion and collaborator errors returned
// to callers, and a fatal assertion path for broken invariants.
package gcerrors

import (
	"fmt"
	"runtime"
)

// Category groups errors by the subsystem that can meaningfully react to them.
type Category string

const (
	CategoryMemory     Category = "MEMORY"
	CategoryBounds     Category = "BOUNDS"
	CategoryValidation Category = "VALIDATION"
	CategorySystem     Category = "SYSTEM"
)

// StandardError is the concrete error type returned across the heap's
// external boundary. It always carries enough context to diagnose without
// re-running the failing operation.
type StandardError struct {
	Category Category
	Code     string
	Message  string
	Context  map[string]interface{}
	Caller   string
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("[%s:%s] %s (caller: %s)", e.Category, e.Code, e.Message, e.Caller)
}

// New builds a StandardError, capturing the immediate caller for diagnostics.
func New(category Category, code, message string, context map[string]interface{}) *StandardError {
	pc, _, _, ok := runtime.Caller(1)

	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &StandardError{
		Category: category,
		Code:     code,
		Message:  message,
		Context:  context,
		Caller:   caller,
	}
}

// HeapExhausted reports that region_new could not obtain memory with
// max_region_count reached and reclamation having produced nothing.
func HeapExhausted(liveRegions, maxRegions int) *StandardError {
	return New(CategoryMemory, "HEAP_EXHAUSTED",
		fmt.Sprintf("heap exhausted: %d live regions at cap %d", liveRegions, maxRegions),
		map[string]interface{}{"live_regions": liveRegions, "max_regions": maxRegions})
}

// InvalidSize reports a request outside the configured size-class range.
func InvalidSize(size uintptr, context string) *StandardError {
	return New(CategoryValidation, "INVALID_SIZE",
		fmt.Sprintf("invalid size %d in %s", size, context),
		map[string]interface{}{"size": size, "context": context})
}

// CollaboratorError wraps a panic or error raised by an external callback
// (a root-scan registration or an object's Scan method).
func CollaboratorError(source string, cause error) *StandardError {
	return New(CategorySystem, "COLLABORATOR_ERROR",
		fmt.Sprintf("external collaborator %q failed: %v", source, cause),
		map[string]interface{}{"source": source, "cause": cause})
}

// WorkerTimeout reports that a mark-phase drain exceeded its tolerance before
// the collector escalated to a stop-the-world drain.
func WorkerTimeout(phase string, elapsed fmt.Stringer) *StandardError {
	return New(CategorySystem, "WORKER_TIMEOUT",
		fmt.Sprintf("worker drain exceeded tolerance in %s phase", phase),
		map[string]interface{}{"phase": phase, "elapsed": elapsed.String()})
}

// Assert panics with a located message when an internal invariant is broken.
// Assertion violations are programmer errors: never recoverable, never
// downgraded to a returned error.
func Assert(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}

	pc, file, line, ok := runtime.Caller(1)
	loc := "unknown"

	if ok {
		name := "unknown"
		if fn := runtime.FuncForPC(pc); fn != nil {
			name = fn.Name()
		}

		loc = fmt.Sprintf("%s:%d (%s)", file, line, name)
	}

	panic(fmt.Sprintf("assertion violated at %s: %s", loc, fmt.Sprintf(format, args...)))
}
