package manifest

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// JSONSchema returns the JSON Schema of the manifest format, for compiler
// authors and for the `bridge schema` command.
func JSONSchema() ([]byte, error) {
	r := &jsonschema.Reflector{
		ExpandedStruct: true,
		DoNotReference: true,
	}
	s := r.Reflect(&Manifest{})
	s.Title = "Bridge build manifest"
	s.Description = "Sidecar manifest describing every externally callable function of a compiled artifact."
	return json.MarshalIndent(s, "", "  ")
}
