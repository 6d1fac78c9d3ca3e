// Package manifest reads the build-time manifest the front-end compiler
// writes next to each compiled artifact. The manifest lists every
// externally callable function with its parameter and return types in the
// portable grammar; resolution rejects any signature outside the taxonomy
// before a load can complete.
package manifest

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/crossvm/bridge/errors"
	"github.com/crossvm/bridge/portable"
)

// Function is one exported guest function as written by the compiler.
type Function struct {
	InternalSymbol string   `json:"internalSymbol" validate:"required"`
	ExternalName   string   `json:"externalName" validate:"required"`
	Params         []string `json:"params"`
	Returns        string   `json:"returns" validate:"required"`
}

// Manifest is the sidecar file as a whole.
type Manifest struct {
	ABIVersion uint32     `json:"abiVersion" validate:"required"`
	Functions  []Function `json:"functions" validate:"required,min=1,dive"`
}

var validate = validator.New()

// SidecarPath returns the manifest path for a compiled artifact.
func SidecarPath(artifact string) string {
	return artifact + ".manifest.json"
}

// Load reads and parses the manifest sitting next to an artifact.
func Load(artifact string) (*Manifest, error) {
	raw, err := os.ReadFile(SidecarPath(artifact))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseManifest, errors.KindNotFound, err, "read manifest")
	}
	return Parse(raw)
}

// Parse decodes and structurally validates manifest bytes.
func Parse(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, errors.Wrap(errors.PhaseManifest, errors.KindInvalidData, err, "decode manifest")
	}
	if err := validate.Struct(&m); err != nil {
		return nil, errors.Wrap(errors.PhaseManifest, errors.KindInvalidData, err, "manifest failed validation")
	}

	seen := make(map[string]bool, len(m.Functions))
	for _, fn := range m.Functions {
		if seen[fn.ExternalName] {
			return nil, errors.InvalidData(errors.PhaseManifest,
				fmt.Sprintf("duplicate external name %q", fn.ExternalName))
		}
		seen[fn.ExternalName] = true
	}

	return &m, nil
}

// ResolvedFunction is a manifest entry with its types resolved into the
// portable taxonomy.
type ResolvedFunction struct {
	InternalSymbol string
	ExternalName   string
	Params         []portable.Type
	Returns        portable.Type
}

// Resolve parses and portability-checks every signature against the
// classes the current generation validated. The first offending type fails
// the whole manifest, naming the type and its position, so no call using
// it is ever reachable.
func (m *Manifest) Resolve(classes portable.ClassSet) ([]ResolvedFunction, error) {
	out := make([]ResolvedFunction, 0, len(m.Functions))

	for _, fn := range m.Functions {
		r := ResolvedFunction{
			InternalSymbol: fn.InternalSymbol,
			ExternalName:   fn.ExternalName,
			Params:         make([]portable.Type, len(fn.Params)),
		}

		for i, p := range fn.Params {
			pos := fmt.Sprintf("param %d of %s", i, fn.ExternalName)
			t, err := parseAt(p, pos)
			if err != nil {
				return nil, err
			}
			if err := portable.Check(t, pos, classes); err != nil {
				return nil, err
			}
			r.Params[i] = t
		}

		pos := fmt.Sprintf("return of %s", fn.ExternalName)
		t, err := parseAt(fn.Returns, pos)
		if err != nil {
			return nil, err
		}
		if err := portable.Check(t, pos, classes); err != nil {
			return nil, err
		}
		r.Returns = t

		out = append(out, r)
	}

	return out, nil
}

func parseAt(s, pos string) (portable.Type, error) {
	t, err := portable.Parse(s)
	if err != nil {
		var e *errors.Error
		if stderrors.As(err, &e) && e.Kind == errors.KindNonPortableType {
			return portable.Type{}, errors.NonPortable(errors.PhaseManifest, pos, s)
		}
		return portable.Type{}, errors.Wrap(errors.PhaseManifest, errors.KindInvalidData, err,
			"cannot parse type at "+pos)
	}
	return t, nil
}
