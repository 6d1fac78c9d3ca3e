// Package errors defines the structured error type used across the bridge.
//
// Every recoverable failure carries a Phase (where it happened) and a Kind
// (what went wrong), plus an optional field path for marshalling errors.
// Two errors match under errors.Is when Phase and Kind agree, so callers
// can test dispositions without string matching:
//
//	if errors.Is(err, &errors.Error{Phase: errors.PhaseGather, Kind: errors.KindTypeMismatch}) {
//	    ...
//	}
//
// Protocol misuse (push out of order, double cleanup, unresolved routed
// symbols) is not represented as a returned error: those indicate a defect
// in the code generator or a build/runtime skew and are raised as panics
// carrying a *Error with a fatal Kind.
package errors
