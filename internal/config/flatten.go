package config

import (
	"maps"
	"slices"
	"strings"
)

// secrets are masked whenever values are printed.
var secrets = []string{"telegram.token"}

func IsSecretKey(key string) bool { return slices.Contains(secrets, key) }

// Flatten turns nested maps into dotted keys: {"agent": {"model": "opus"}}
// becomes {"agent.model": "opus"}. Anything that is not a map, arrays
// included, is a leaf.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, v := range m {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten reverses Flatten. A leaf standing where a deeper key needs a map
// is replaced by one.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		node := out
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = v
	}
	return out
}

// MaskSecrets copies flat with every non-empty secret shown as "***" plus
// its last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := maps.Clone(flat)
	for _, k := range secrets {
		s, ok := out[k].(string)
		if !ok || s == "" {
			continue
		}
		out[k] = "***" + s[max(0, len(s)-4):]
	}
	return out
}
