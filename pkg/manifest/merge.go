package manifest

// deepMerge merges an override value onto a base value, returning a new
// value; neither input is mutated. Mappings merge key-by-key with override
// keys winning. Sequences of keyed mappings merge element-wise (see
// mergeSequences); all other kind pairings resolve to a copy of override.
func deepMerge(base, override any) any {
	switch b := base.(type) {
	case map[string]any:
		if o, ok := override.(map[string]any); ok {
			out := make(map[string]any, len(b)+len(o))
			for k, v := range b {
				out[k] = deepCopy(v)
			}
			for k, v := range o {
				if existing, ok := out[k]; ok {
					out[k] = deepMerge(existing, v)
				} else {
					out[k] = deepCopy(v)
				}
			}
			return out
		}
	case []any:
		if o, ok := override.([]any); ok {
			return mergeSequences(b, o)
		}
	}
	return deepCopy(override)
}

// mergeSequences merges two sequences element-wise when every element is a
// mapping addressable by a "name" or "stackName" key: base order is
// preserved, overriding elements with matching keys are deep-merged in
// place, and new keys are appended. Whenever elements are not uniformly
// keyed mappings the override sequence replaces the base wholesale.
func mergeSequences(base, override []any) []any {
	if len(base) == 0 {
		return deepCopySlice(override)
	}
	if len(override) == 0 {
		return deepCopySlice(base)
	}

	keys := make([]string, 0, len(base))
	merged := make(map[string]any, len(base))
	for _, item := range base {
		key, ok := sequenceKey(item)
		if !ok {
			return deepCopySlice(override)
		}
		if _, dup := merged[key]; dup {
			return deepCopySlice(override)
		}
		keys = append(keys, key)
		merged[key] = deepCopy(item)
	}

	for _, item := range override {
		key, ok := sequenceKey(item)
		if !ok {
			return deepCopySlice(override)
		}
		if existing, found := merged[key]; found {
			merged[key] = deepMerge(existing, item)
		} else {
			merged[key] = deepCopy(item)
			keys = append(keys, key)
		}
	}

	out := make([]any, 0, len(keys))
	for _, key := range keys {
		out = append(out, merged[key])
	}
	return out
}

// sequenceKey extracts the merge key of a sequence element: its "name"
// field, falling back to "stackName".
func sequenceKey(item any) (string, bool) {
	m, ok := item.(map[string]any)
	if !ok {
		return "", false
	}
	if name, ok := m["name"].(string); ok && name != "" {
		return name, true
	}
	if name, ok := m["stackName"].(string); ok && name != "" {
		return name, true
	}
	return "", false
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		return deepCopySlice(t)
	default:
		return v
	}
}

func deepCopySlice(s []any) []any {
	out := make([]any, len(s))
	for i, item := range s {
		out[i] = deepCopy(item)
	}
	return out
}
