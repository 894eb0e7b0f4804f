package hierarchy

import "github.com/developer-mesh/agent-hub/pkg/models"

// MergePatch folds patch into base using the tier merge rules: maps
// deep-merge with the patch winning conflicts, arrays and scalars
// replace. Neither input is mutated.
func MergePatch(base, patch models.JSONMap) models.JSONMap {
	if len(patch) == 0 {
		if base == nil {
			return models.JSONMap{}
		}
		return base
	}
	return models.JSONMap(mergeTier(base, patch, nil))
}

// mergeTier folds one tier into the accumulated view. Keys named in the
// tier's override map replace the inherited value wholesale; plain maps
// merge recursively with the lower tier winning conflicts; arrays and
// scalars always replace. The result never aliases the tier's data, so
// views stay safe to cache and hand out.
func mergeTier(acc map[string]interface{}, data, overrides models.JSONMap) map[string]interface{} {
	if len(data) == 0 {
		return acc
	}
	out := make(map[string]interface{}, len(acc)+len(data))
	for k, v := range acc {
		out[k] = v
	}
	for k, v := range data {
		if _, forced := overrides[k]; forced {
			out[k] = cloneValue(v)
			continue
		}
		if base, ok := asMap(out[k]); ok {
			if over, ok := asMap(v); ok {
				out[k] = deepMerge(base, over)
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}

// deepMerge returns base with overlay folded in, overlay winning every
// non-map conflict.
func deepMerge(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if bm, ok := asMap(out[k]); ok {
			if om, ok := asMap(v); ok {
				out[k] = deepMerge(bm, om)
				continue
			}
		}
		out[k] = cloneValue(v)
	}
	return out
}

// asMap unwraps the two map shapes that appear in tier data: plain maps
// from JSON decoding and JSONMap from hand-built patches.
func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case models.JSONMap:
		return t, true
	}
	return nil, false
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case models.JSONMap:
		out := make(map[string]interface{}, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return t
	}
}
