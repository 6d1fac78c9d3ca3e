package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLoad     Phase = "load"     // artifact loading
	PhaseDiscover Phase = "discover" // type table discovery
	PhaseValidate Phase = "validate" // schema validation
	PhaseManifest Phase = "manifest" // build manifest checks
	PhaseGather   Phase = "gather"   // host to guest copy
	PhasePush     Phase = "push"     // guest to host construction
	PhaseProxy    Phase = "proxy"    // handle-backed field access
	PhaseRoute    Phase = "route"    // call routing
	PhaseRuntime  Phase = "runtime"  // everything else at call time
)

// Kind categorizes the error
type Kind string

const (
	KindLoadFailed      Kind = "load_failed"
	KindABIMismatch     Kind = "abi_mismatch"
	KindMissingExport   Kind = "missing_export"
	KindSchemaMismatch  Kind = "schema_mismatch"
	KindNonPortableType Kind = "non_portable_type"
	KindTypeMismatch    Kind = "type_mismatch"
	KindStaleHandle     Kind = "stale_handle"
	KindUnsupported     Kind = "unsupported"
	KindAllocation      Kind = "allocation"
	KindNotFound        Kind = "not_found"
	KindInvalidData     Kind = "invalid_data"
	KindModuleRetired   Kind = "module_retired"

	// Fatal kinds: raised via panic, never returned.
	KindUnresolvedSymbol  Kind = "unresolved_symbol"
	KindProtocolViolation Kind = "protocol_violation"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Class    string
	Declared string
	Actual   string
	Detail   string
	Path     []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Class != "" {
		b.WriteString(" in class ")
		b.WriteString(e.Class)
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Declared != "" || e.Actual != "" {
		b.WriteString(": ")
		if e.Declared != "" && e.Actual != "" {
			b.WriteString("declared ")
			b.WriteString(e.Declared)
			b.WriteString(", got ")
			b.WriteString(e.Actual)
		} else if e.Declared != "" {
			b.WriteString("declared ")
			b.WriteString(e.Declared)
		} else {
			b.WriteString("got ")
			b.WriteString(e.Actual)
		}
	}

	if e.Detail != "" {
		if e.Declared != "" || e.Actual != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Fatal reports whether this error's kind indicates a defect in the code
// generator or a build/runtime skew rather than a runtime data problem.
func (e *Error) Fatal() bool {
	return e.Kind == KindUnresolvedSymbol || e.Kind == KindProtocolViolation
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Class sets the offending class name
func (b *Builder) Class(name string) *Builder {
	b.err.Class = name
	return b
}

// Declared sets the declared portable type name
func (b *Builder) Declared(t string) *Builder {
	b.err.Declared = t
	return b
}

// Actual sets the runtime type name actually seen
func (b *Builder) Actual(t string) *Builder {
	b.err.Actual = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// Load creates an artifact loading error. Load failures are atomic: the
// previously active generation, if any, stays active.
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindLoadFailed,
		Detail: detail,
		Cause:  cause,
	}
}

// ABIMismatch creates an ABI version error
func ABIMismatch(want, got uint32) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindABIMismatch,
		Detail: fmt.Sprintf("artifact ABI version %d, bridge supports %d", got, want),
		Value:  got,
	}
}

// MissingExport creates an error for a required export absent from the artifact
func MissingExport(name string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMissingExport,
		Detail: fmt.Sprintf("required export %q not found", name),
	}
}

// SchemaMismatch creates a host/guest class shape mismatch error
func SchemaMismatch(class string, path []string, detail string) *Error {
	return &Error{
		Phase:  PhaseValidate,
		Kind:   KindSchemaMismatch,
		Class:  class,
		Path:   path,
		Detail: detail,
	}
}

// NonPortable creates an error for a type outside the portable taxonomy
func NonPortable(phase Phase, position string, typeName string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNonPortableType,
		Path:   []string{position},
		Actual: typeName,
		Detail: "type is outside the portable taxonomy",
	}
}

// TypeMismatch creates an error for a runtime value that disagrees with its
// declared portable type during gather
func TypeMismatch(path []string, declared, actual string) *Error {
	return &Error{
		Phase:    PhaseGather,
		Kind:     KindTypeMismatch,
		Path:     path,
		Declared: declared,
		Actual:   actual,
	}
}

// StaleHandle creates an error for access through an invalidated proxy handle
func StaleHandle(handle uint64) *Error {
	return &Error{
		Phase:  PhaseProxy,
		Kind:   KindStaleHandle,
		Detail: fmt.Sprintf("handle %#x no longer references a live host object", handle),
		Value:  handle,
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// AllocationFailed creates a guest allocation failure error
func AllocationFailed(size uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseRuntime,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes in guest memory", size),
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// ModuleRetired creates an error for a call entering a retired generation
func ModuleRetired(path string, gen uint64) *Error {
	return &Error{
		Phase:  PhaseRoute,
		Kind:   KindModuleRetired,
		Detail: fmt.Sprintf("module %s generation %d is retired", path, gen),
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// UnresolvedSymbol builds the fatal error raised when a routed function id
// is absent from the current generation's export table. Callers panic with
// the result; this is build/runtime skew, not a recoverable condition.
func UnresolvedSymbol(functionID string) *Error {
	return &Error{
		Phase:  PhaseRoute,
		Kind:   KindUnresolvedSymbol,
		Detail: fmt.Sprintf("no entry point for function %q", functionID),
	}
}

// ProtocolViolation builds the fatal error raised on marshalling protocol
// misuse: push steps out of order, a field set twice or never, cleanup run
// twice. Callers panic with the result.
func ProtocolViolation(phase Phase, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindProtocolViolation,
		Detail: detail,
	}
}
