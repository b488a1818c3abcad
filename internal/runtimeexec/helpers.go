package runtimeexec

import (
	"sort"
	"strconv"
	"strings"
)

func itoa(v int) string {
	return strconv.Itoa(v)
}

// tail keeps the last n bytes of s, which is where pip reports the failing requirement.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// sortedEnvKeys returns the map's own keys, blank ones dropped, ordered by
// their trimmed form. Callers index env with them and trim only for output.
func sortedEnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		if strings.TrimSpace(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return strings.TrimSpace(keys[i]) < strings.TrimSpace(keys[j])
	})
	return keys
}
