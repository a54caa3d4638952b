package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseVersion splits a dot-separated version into its numeric components.
// It rejects empty or non-numeric components.
func ParseVersion(v string) ([]uint64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, fmt.Errorf("empty version")
	}
	parts := strings.Split(v, ".")
	out := make([]uint64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: component %q is not a non-negative integer", v, p)
		}
		out[i] = n
	}
	return out, nil
}

// components is the lenient form used for comparison: a component that is
// not a non-negative integer counts as zero, so comparison is total.
func components(v string) []uint64 {
	parts := strings.Split(strings.TrimSpace(v), ".")
	out := make([]uint64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err == nil {
			out[i] = n
		}
	}
	return out
}

// Compare orders two versions component by component, padding the shorter
// one with zeros. It returns -1 if a < b, 0 if equal, +1 if a > b.
func Compare(a, b string) int {
	ca, cb := components(a), components(b)
	n := len(ca)
	if len(cb) > n {
		n = len(cb)
	}
	for i := 0; i < n; i++ {
		var x, y uint64
		if i < len(ca) {
			x = ca[i]
		}
		if i < len(cb) {
			y = cb[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// IsOlder reports whether current is strictly older than target. Equal
// versions ("3.3" and "3.3.0") are up to date.
func IsOlder(current, target string) bool {
	return Compare(current, target) < 0
}
