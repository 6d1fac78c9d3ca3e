package portable

import (
	"strings"

	"github.com/crossvm/bridge/errors"
)

// Parse reads a type in the manifest grammar, e.g. "map<string, seq<int>>".
func Parse(s string) (Type, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Type{}, errors.InvalidData(errors.PhaseManifest, "empty type")
	}

	head, args, err := splitGeneric(s)
	if err != nil {
		return Type{}, err
	}

	switch head {
	case "bool", "int", "float", "string", "any":
		if args != nil {
			return Type{}, errors.InvalidData(errors.PhaseManifest, head+" takes no type arguments")
		}
		switch head {
		case "bool":
			return Bool(), nil
		case "int":
			return Int(), nil
		case "float":
			return Float(), nil
		case "string":
			return String(), nil
		default:
			return Any(), nil
		}

	case "option", "option2", "seq":
		if len(args) != 1 {
			return Type{}, errors.InvalidData(errors.PhaseManifest, head+" takes exactly one type argument")
		}
		elem, err := Parse(args[0])
		if err != nil {
			return Type{}, err
		}
		switch head {
		case "option":
			return Optional(elem), nil
		case "option2":
			return DoubleOptional(elem), nil
		default:
			return Sequence(elem), nil
		}

	case "tuple":
		if len(args) == 0 {
			return Type{}, errors.InvalidData(errors.PhaseManifest, "tuple needs at least one component")
		}
		items := make([]Type, len(args))
		for i, a := range args {
			it, err := Parse(a)
			if err != nil {
				return Type{}, err
			}
			items[i] = it
		}
		return Tuple(items...), nil

	case "map":
		if len(args) != 2 {
			return Type{}, errors.InvalidData(errors.PhaseManifest, "map takes exactly two type arguments")
		}
		k, err := Parse(args[0])
		if err != nil {
			return Type{}, err
		}
		v, err := Parse(args[1])
		if err != nil {
			return Type{}, err
		}
		return Mapping(k, v), nil

	case "set":
		if len(args) != 1 {
			return Type{}, errors.InvalidData(errors.PhaseManifest, "set takes exactly one type argument")
		}
		k, err := Parse(args[0])
		if err != nil {
			return Type{}, err
		}
		return Set(k), nil

	case "copy", "proxy":
		if len(args) != 1 || !isClassName(args[0]) {
			return Type{}, errors.InvalidData(errors.PhaseManifest, head+" takes exactly one class name argument")
		}
		if head == "copy" {
			return CopyClass(args[0]), nil
		}
		return ProxyClass(args[0]), nil
	}

	// A bare identifier that is not in the grammar is an unannotated class
	// reference; the taxonomy is closed, so the caller gets NonPortableType
	// rather than InvalidData.
	if isClassName(head) && args == nil {
		return Type{}, errors.NonPortable(errors.PhaseManifest, head,
			"bare class "+head+" (annotate as copy<"+head+"> or proxy<"+head+">)")
	}

	return Type{}, errors.InvalidData(errors.PhaseManifest, "cannot parse type "+s)
}

// splitGeneric splits "head<a, b<c, d>>" into head and its top-level
// arguments. args is nil when there is no angle-bracket list at all.
func splitGeneric(s string) (head string, args []string, err error) {
	open := strings.IndexByte(s, '<')
	if open == -1 {
		return s, nil, nil
	}
	if !strings.HasSuffix(s, ">") {
		return "", nil, errors.InvalidData(errors.PhaseManifest, "unbalanced angle brackets in "+s)
	}

	head = strings.TrimSpace(s[:open])
	inner := s[open+1 : len(s)-1]

	var current strings.Builder
	depth := 0
	flush := func() {
		if str := strings.TrimSpace(current.String()); str != "" {
			args = append(args, str)
		}
		current.Reset()
	}

	for _, ch := range inner {
		switch ch {
		case '<':
			depth++
			current.WriteRune(ch)
		case '>':
			depth--
			if depth < 0 {
				return "", nil, errors.InvalidData(errors.PhaseManifest, "unbalanced angle brackets in "+s)
			}
			current.WriteRune(ch)
		case ',':
			if depth == 0 {
				flush()
			} else {
				current.WriteRune(ch)
			}
		default:
			current.WriteRune(ch)
		}
	}
	if depth != 0 {
		return "", nil, errors.InvalidData(errors.PhaseManifest, "unbalanced angle brackets in "+s)
	}
	flush()

	if args == nil {
		args = []string{}
	}
	return head, args, nil
}

func isClassName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
