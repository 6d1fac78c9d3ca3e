package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full gather error",
			err: &Error{
				Phase:    PhaseGather,
				Kind:     KindTypeMismatch,
				Path:     []string{"point", "x"},
				Declared: "int",
				Actual:   "string",
				Detail:   "cannot copy",
			},
			contains: []string{"[gather]", "type_mismatch", "point.x", "declared int", "got string", "cannot copy"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseLoad,
				Kind:  KindMissingExport,
			},
			contains: []string{"[load]", "missing_export"},
		},
		{
			name: "class plus cause",
			err: &Error{
				Phase:  PhaseValidate,
				Kind:   KindSchemaMismatch,
				Class:  "Point",
				Detail: "field count differs",
				Cause:  errors.New("underlying"),
			},
			contains: []string{"[validate]", "schema_mismatch", "in class Point", "field count differs", "caused by", "underlying"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseLoad,
		Kind:  KindLoadFailed,
		Cause: cause,
	}

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := TypeMismatch([]string{"p", "x"}, "int", "string")

	if !errors.Is(err, &Error{Phase: PhaseGather, Kind: KindTypeMismatch}) {
		t.Error("expected match on same phase+kind")
	}
	if errors.Is(err, &Error{Phase: PhaseGather, Kind: KindStaleHandle}) {
		t.Error("unexpected match on different kind")
	}
	if errors.Is(err, &Error{Phase: PhasePush, Kind: KindTypeMismatch}) {
		t.Error("unexpected match on different phase")
	}
}

func TestError_Fatal(t *testing.T) {
	if !UnresolvedSymbol("frobnicate").Fatal() {
		t.Error("unresolved symbol should be fatal")
	}
	if !ProtocolViolation(PhasePush, "finish before create").Fatal() {
		t.Error("protocol violation should be fatal")
	}
	if StaleHandle(7).Fatal() {
		t.Error("stale handle is recoverable, not fatal")
	}
}

func TestBuilder(t *testing.T) {
	err := New(PhaseValidate, KindSchemaMismatch).
		Class("Point").
		Path("z").
		Declared("int").
		Detail("guest declares %d fields, host declares %d", 3, 2).
		Build()

	msg := err.Error()
	for _, s := range []string{"Point", "z", "declared int", "3 fields"} {
		if !strings.Contains(msg, s) {
			t.Errorf("builder output %q missing %q", msg, s)
		}
	}
}

func TestConvenienceConstructors(t *testing.T) {
	if got := ABIMismatch(1, 2); got.Kind != KindABIMismatch || !strings.Contains(got.Error(), "version 2") {
		t.Errorf("ABIMismatch: %v", got)
	}
	if got := SchemaMismatch("Point", []string{"z"}, "extra field"); got.Class != "Point" {
		t.Errorf("SchemaMismatch: %v", got)
	}
	if got := NonPortable(PhaseManifest, "param 1 of make-point", "chan int"); got.Kind != KindNonPortableType {
		t.Errorf("NonPortable: %v", got)
	}
	if got := StaleHandle(0xbeef); !strings.Contains(got.Error(), "0xbeef") {
		t.Errorf("StaleHandle: %v", got)
	}
}
