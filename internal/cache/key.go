package cache

import (
	"fmt"
	"strings"
)

// Namespace prefixes every key so a bulk clear can target the whole cache
// without touching unrelated data in a shared redis.
const Namespace = "evo2"

// Key builds the deterministic cache key for one logical request:
// evo2:{category}:{param1}:{param2}:... The same (category, params) always
// yields the same key, so repeated requests collapse onto one entry.
func Key(category string, params ...any) string {
	parts := make([]string, 0, len(params)+2)
	parts = append(parts, Namespace, category)
	for _, p := range params {
		parts = append(parts, fmt.Sprint(p))
	}
	return strings.Join(parts, ":")
}
