package masking

import "strings"

const maskToken = "****"

// MaskSecret redacts a value while keeping a minimal suffix for auditing.
func MaskSecret(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	if len(trimmed) <= 4 {
		return maskToken
	}

	return maskToken + trimmed[len(trimmed)-4:]
}

// MaskFields returns a copy of input with the string values of keys masked.
// Nested maps are masked with the same keys.
func MaskFields(input map[string]any, keys ...string) map[string]any {
	if len(input) == 0 {
		return nil
	}

	sensitive := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		sensitive[key] = struct{}{}
	}

	return maskMap(input, sensitive)
}

func maskMap(input map[string]any, sensitive map[string]struct{}) map[string]any {
	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			masked[trimmedKey] = maskMap(nested, sensitive)
			continue
		}
		if _, ok := sensitive[trimmedKey]; ok {
			if s, isString := value.(string); isString {
				masked[trimmedKey] = MaskSecret(s)
				continue
			}
		}
		masked[trimmedKey] = value
	}
	return masked
}
