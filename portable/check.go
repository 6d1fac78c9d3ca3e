package portable

import (
	"github.com/crossvm/bridge/errors"
)

// ClassSet answers whether a class name is known and whether it is declared
// with the copy or proxy annotation. The typetable package provides the
// production implementation; tests use small maps.
type ClassSet interface {
	CopyClass(name string) bool
	ProxyClass(name string) bool
}

// Check verifies that t is portable at the given position (a human-readable
// location such as "param 0 of make-point"). Class annotations are checked
// against classes: a copy annotation must name a declared copy class and a
// proxy annotation a declared proxy class. Proxy classes are portable
// without recursing into their fields; copy class field portability is the
// type table validator's job, since it owns the field lists.
func Check(t Type, position string, classes ClassSet) error {
	switch t.Kind {
	case KindBool, KindInt, KindFloat, KindString, KindAny:
		return nil

	case KindOptional, KindDoubleOptional, KindSequence:
		return Check(*t.Elem, position, classes)

	case KindTuple:
		for i := range t.Items {
			if err := Check(t.Items[i], position, classes); err != nil {
				return err
			}
		}
		return nil

	case KindMapping:
		if err := checkKey(*t.Key, t, position); err != nil {
			return err
		}
		return Check(*t.Elem, position, classes)

	case KindSet:
		return checkKey(*t.Key, t, position)

	case KindCopyClass:
		if classes == nil || !classes.CopyClass(t.Class) {
			return errors.NonPortable(errors.PhaseManifest, position,
				"copy<"+t.Class+"> does not name a declared copy class")
		}
		return nil

	case KindProxyClass:
		if classes == nil || !classes.ProxyClass(t.Class) {
			return errors.NonPortable(errors.PhaseManifest, position,
				"proxy<"+t.Class+"> does not name a declared proxy class")
		}
		return nil
	}

	return errors.NonPortable(errors.PhaseManifest, position, t.String())
}

// Mapping and set keys must hash and compare consistently on both sides of
// the boundary, so only int and string are allowed.
func checkKey(key Type, container Type, position string) error {
	if key.Kind == KindInt || key.Kind == KindString {
		return nil
	}
	return errors.NonPortable(errors.PhaseManifest, position,
		container.Kind.String()+" key "+key.String()+" (keys must be int or string)")
}
