package portable

import "strings"

type Kind uint8

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindString
	KindOptional
	KindDoubleOptional
	KindTuple
	KindSequence
	KindMapping
	KindSet
	KindCopyClass
	KindProxyClass
	KindAny
)

var kindNames = [...]string{
	KindBool:           "bool",
	KindInt:            "int",
	KindFloat:          "float",
	KindString:         "string",
	KindOptional:       "option",
	KindDoubleOptional: "option2",
	KindTuple:          "tuple",
	KindSequence:       "seq",
	KindMapping:        "map",
	KindSet:            "set",
	KindCopyClass:      "copy",
	KindProxyClass:     "proxy",
	KindAny:            "any",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// IsScalar reports whether the kind carries no element types.
func (k Kind) IsScalar() bool {
	return k <= KindString || k == KindAny
}

// Type is one node of the closed portable taxonomy.
// Elem holds the payload of option/option2/seq and the value of map;
// Key holds the key of map/set; Items holds tuple components; Class
// holds the class name of copy/proxy annotations.
type Type struct {
	Elem  *Type
	Key   *Type
	Items []Type
	Class string
	Kind  Kind
}

// Shorthand constructors used heavily in tests and host schemas.

func Bool() Type   { return Type{Kind: KindBool} }
func Int() Type    { return Type{Kind: KindInt} }
func Float() Type  { return Type{Kind: KindFloat} }
func String() Type { return Type{Kind: KindString} }
func Any() Type    { return Type{Kind: KindAny} }

func Optional(t Type) Type       { return Type{Kind: KindOptional, Elem: &t} }
func DoubleOptional(t Type) Type { return Type{Kind: KindDoubleOptional, Elem: &t} }
func Sequence(t Type) Type       { return Type{Kind: KindSequence, Elem: &t} }
func Tuple(items ...Type) Type   { return Type{Kind: KindTuple, Items: items} }

func Mapping(k, v Type) Type { return Type{Kind: KindMapping, Key: &k, Elem: &v} }
func Set(k Type) Type        { return Type{Kind: KindSet, Key: &k} }

func CopyClass(class string) Type  { return Type{Kind: KindCopyClass, Class: class} }
func ProxyClass(class string) Type { return Type{Kind: KindProxyClass, Class: class} }

// String renders the type in the manifest grammar.
func (t Type) String() string {
	switch t.Kind {
	case KindBool, KindInt, KindFloat, KindString, KindAny:
		return t.Kind.String()
	case KindOptional, KindDoubleOptional, KindSequence:
		return t.Kind.String() + "<" + t.Elem.String() + ">"
	case KindTuple:
		parts := make([]string, len(t.Items))
		for i, it := range t.Items {
			parts[i] = it.String()
		}
		return "tuple<" + strings.Join(parts, ", ") + ">"
	case KindMapping:
		return "map<" + t.Key.String() + ", " + t.Elem.String() + ">"
	case KindSet:
		return "set<" + t.Key.String() + ">"
	case KindCopyClass, KindProxyClass:
		return t.Kind.String() + "<" + t.Class + ">"
	}
	return "unknown"
}

// Equal reports structural equality.
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind || t.Class != o.Class {
		return false
	}
	if (t.Elem == nil) != (o.Elem == nil) || (t.Key == nil) != (o.Key == nil) {
		return false
	}
	if t.Elem != nil && !t.Elem.Equal(*o.Elem) {
		return false
	}
	if t.Key != nil && !t.Key.Equal(*o.Key) {
		return false
	}
	if len(t.Items) != len(o.Items) {
		return false
	}
	for i := range t.Items {
		if !t.Items[i].Equal(o.Items[i]) {
			return false
		}
	}
	return true
}
