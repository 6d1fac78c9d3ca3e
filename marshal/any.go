package marshal

import (
	"math"

	"github.com/fxamacker/cbor/v2"

	"github.com/crossvm/bridge/errors"
	"github.com/crossvm/bridge/host"
)

// encodeAny serializes a value declared `any` as CBOR. The union covers
// scalars, sequences and string/int-keyed mappings; opaque host objects,
// handles, tuples and sets need a concrete portable declaration and are
// rejected here.
func encodeAny(v host.Value, path []string) ([]byte, error) {
	plain, err := toPlain(v, path)
	if err != nil {
		return nil, err
	}
	blob, err := cbor.Marshal(plain)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseGather, errors.KindInvalidData, err, "encode any value")
	}
	return blob, nil
}

func toPlain(v host.Value, path []string) (any, error) {
	switch val := v.(type) {
	case nil, bool, int64, float64, string:
		return val, nil
	case []host.Value:
		out := make([]any, len(val))
		for i, e := range val {
			p, err := toPlain(e, append(path, itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case map[any]host.Value:
		out := make(map[any]any, len(val))
		for k, e := range val {
			switch k.(type) {
			case int64, string:
			default:
				return nil, errors.TypeMismatch(path, "any", "mapping with "+host.TypeName(k)+" key")
			}
			p, err := toPlain(e, append(path, keyString(k)))
			if err != nil {
				return nil, err
			}
			out[k] = p
		}
		return out, nil
	}
	return nil, errors.TypeMismatch(path, "any", host.TypeName(v))
}

// decodeAny reverses encodeAny, normalizing CBOR's integer and container
// types back into the host value conventions.
func decodeAny(blob []byte, path []string) (host.Value, error) {
	var raw any
	if err := cbor.Unmarshal(blob, &raw); err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidData, err, "decode any value")
	}
	return fromPlain(raw, path)
}

func fromPlain(raw any, path []string) (host.Value, error) {
	switch val := raw.(type) {
	case nil, bool, string:
		return val, nil
	case int64:
		return val, nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, errors.New(errors.PhaseRuntime, errors.KindInvalidData).
				Path(path...).
				Detail("any integer %d does not fit in int64", val).
				Build()
		}
		return int64(val), nil
	case float64:
		return val, nil
	case []any:
		out := make([]host.Value, len(val))
		for i, e := range val {
			p, err := fromPlain(e, append(path, itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	case map[any]any:
		out := make(map[any]host.Value, len(val))
		for k, e := range val {
			key, err := fromPlain(k, path)
			if err != nil {
				return nil, err
			}
			switch key.(type) {
			case int64, string:
			default:
				return nil, errors.InvalidData(errors.PhaseRuntime, "any mapping key is not int or string")
			}
			p, err := fromPlain(e, append(path, keyString(key)))
			if err != nil {
				return nil, err
			}
			out[key] = p
		}
		return out, nil
	case map[string]any:
		out := make(map[any]host.Value, len(val))
		for k, e := range val {
			p, err := fromPlain(e, append(path, k))
			if err != nil {
				return nil, err
			}
			out[k] = p
		}
		return out, nil
	}
	return nil, errors.InvalidData(errors.PhaseRuntime, "any value decoded to unsupported shape")
}
