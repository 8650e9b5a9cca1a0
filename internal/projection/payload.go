package projection

// Payload readers. Event payloads round-trip through the document store,
// so numerics may come back as any integer or float width.

func pstr(payload map[string]interface{}, key string) string {
	s, _ := payload[key].(string)
	return s
}

func pnum(payload map[string]interface{}, key string) int64 {
	switch n := payload[key].(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}

func pfloat(payload map[string]interface{}, key string) float64 {
	switch n := payload[key].(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

func pbool(payload map[string]interface{}, key string) bool {
	b, _ := payload[key].(bool)
	return b
}
