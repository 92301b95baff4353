package services

// deepMerge combines a baseline payload value with an override value.
// Objects merge field by field, recursing; arrays and primitives are replaced
// wholesale by the override. "If you mention it, you replace it entirely"
// keeps override semantics predictable for governance operators.
func deepMerge(base, override interface{}) interface{} {
	if override == nil {
		return base
	}
	if base == nil {
		return override
	}

	baseMap, baseIsMap := base.(map[string]interface{})
	overrideMap, overrideIsMap := override.(map[string]interface{})
	if !baseIsMap || !overrideIsMap {
		return override
	}

	out := make(map[string]interface{}, len(baseMap)+len(overrideMap))
	for k, v := range baseMap {
		out[k] = v
	}
	for k, v := range overrideMap {
		out[k] = deepMerge(baseMap[k], v)
	}
	return out
}

// mergePayloads is deepMerge at the document root, where payloads are always
// JSON objects.
func mergePayloads(base, override map[string]interface{}) map[string]interface{} {
	if base == nil {
		base = map[string]interface{}{}
	}
	merged := deepMerge(base, override)
	if m, ok := merged.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}
