package api

import (
	"strconv"
	"strings"
)

const versionParts = 3

// ParseVersion splits a dotted version into three numbers. Missing or
// non-numeric parts count as zero.
func ParseVersion(v string) [versionParts]int {
	var out [versionParts]int
	for i, part := range strings.SplitN(strings.TrimSpace(v), ".", versionParts+1) {
		if i >= versionParts {
			break
		}
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			continue
		}
		out[i] = n
	}
	return out
}

// versionAtLeast compares two parsed versions part by part.
func versionAtLeast(got, minimum [versionParts]int) bool {
	for i := 0; i < versionParts; i++ {
		if got[i] != minimum[i] {
			return got[i] > minimum[i]
		}
	}
	return true
}
