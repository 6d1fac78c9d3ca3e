package host

// Value is a host value as seen by the bridge. The conventions are:
//
//	nil              null
//	bool             bool
//	int64            int
//	float64          float
//	string           string
//	[]Value          sequence
//	Tuple            fixed-arity tuple
//	map[any]Value    mapping (keys int64 or string)
//	Set              set (members int64 or string)
//	Object           class instance (copy or proxy strategy per schema)
type Value = any

// Tuple is a fixed-arity host tuple. Distinct from []Value so sequences and
// tuples never get confused during gather type checks.
type Tuple []Value

// Set is a host set; members are restricted to int64 and string keys.
type Set map[any]struct{}

// TypeName returns the convention name of v's shape, for diagnostics.
func TypeName(v Value) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "string"
	case []Value:
		return "seq"
	case Tuple:
		return "tuple"
	case map[any]Value:
		return "map"
	case Set:
		return "set"
	case Object:
		return "object"
	}
	return "unsupported"
}
