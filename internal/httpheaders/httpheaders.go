package httpheaders

import (
	"net/http"
	"sort"
	"strings"
)

// Apply copies config-supplied header entries onto an outgoing request.
// Keys are matched case-insensitively; reserved names are owned by the
// transport and never overridden by config. Entries are applied in sorted
// order so behavior is deterministic when casing variants collide.
func Apply(dst http.Header, extra map[string]string, reserved ...string) {
	if len(extra) == 0 {
		return
	}

	for _, key := range sortedKeys(extra) {
		name := strings.TrimSpace(key)
		if name == "" || isReserved(name, reserved) {
			continue
		}
		dst.Set(name, extra[key])
	}
}

func isReserved(name string, reserved []string) bool {
	for _, r := range reserved {
		if strings.EqualFold(name, r) {
			return true
		}
	}
	return false
}

func sortedKeys(src map[string]string) []string {
	keys := make([]string, 0, len(src))
	for key := range src {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		li := strings.ToLower(strings.TrimSpace(keys[i]))
		lj := strings.ToLower(strings.TrimSpace(keys[j]))
		if li == lj {
			return keys[i] < keys[j]
		}
		return li < lj
	})
	return keys
}
