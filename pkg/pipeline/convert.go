package pipeline

import (
	"github.com/nrf1proto/capsule/pkg/canon"
	"github.com/nrf1proto/capsule/pkg/errs"
)

// fromGo converts a plain Go value (as produced by gopkg.in/yaml.v3
// decoding into interface{}) into a canon.Value. Manifests carry no
// floats, matching the wire format's Non-goal; a float64 in config is a
// producer error, not silently truncated.
func fromGo(v interface{}) (canon.Value, error) {
	switch t := v.(type) {
	case nil:
		return canon.Null(), nil
	case bool:
		return canon.Bool(t), nil
	case int:
		return canon.Int(int64(t)), nil
	case int64:
		return canon.Int(t), nil
	case uint64:
		return canon.Int(int64(t)), nil
	case string:
		return canon.Str(t), nil
	case float64:
		return canon.Value{}, errs.New(errs.CanonFloat, "pipeline: config value is a float; use a decimal string instead")
	case []interface{}:
		vals := make([]canon.Value, 0, len(t))
		for _, e := range t {
			cv, err := fromGo(e)
			if err != nil {
				return canon.Value{}, err
			}
			vals = append(vals, cv)
		}
		return canon.ArrayOf(vals), nil
	case map[string]interface{}:
		entries := make([]canon.MapEntry, 0, len(t))
		for k, val := range t {
			cv, err := fromGo(val)
			if err != nil {
				return canon.Value{}, err
			}
			entries = append(entries, canon.E(k, cv))
		}
		return canon.MapOf(entries)
	default:
		return canon.Value{}, errs.New(errs.ConfigInvalid, "pipeline: config value of unsupported type %T", v)
	}
}
