package event

// CoerceMetadata maps arbitrary key/value pairs onto the primitive JSON
// types the collector accepts. Values outside the allowlist are dropped.
func CoerceMetadata(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = val
		case int:
			out[k] = val
		case int8:
			out[k] = int(val)
		case int16:
			out[k] = int(val)
		case int32:
			out[k] = int(val)
		case int64:
			out[k] = val
		case uint:
			out[k] = uint64(val)
		case uint8:
			out[k] = int(val)
		case uint16:
			out[k] = int(val)
		case uint32:
			out[k] = uint64(val)
		case uint64:
			out[k] = val
		case float32:
			out[k] = float64(val)
		case float64:
			out[k] = val
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
