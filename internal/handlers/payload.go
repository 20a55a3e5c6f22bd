package handlers

import (
	"fmt"
	"hookq/internal/domain"
)

// Payloads arrive JSON-decoded, so numbers are float64 and objects are
// map[string]any.

func str(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func requireStr(p map[string]any, key string) (string, error) {
	v := str(p, key)
	if v == "" {
		return "", domain.Permanent(fmt.Errorf("payload field %q is required", key))
	}
	return v, nil
}

func intOr(p map[string]any, key string, def int) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

func boolOr(p map[string]any, key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

func obj(p map[string]any, key string) map[string]any {
	if v, ok := p[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

func stringMap(p map[string]any, key string) map[string]string {
	out := map[string]string{}
	switch v := p[key].(type) {
	case map[string]any:
		for k, x := range v {
			out[k] = fmt.Sprint(x)
		}
	case map[string]string:
		for k, x := range v {
			out[k] = x
		}
	}
	return out
}
