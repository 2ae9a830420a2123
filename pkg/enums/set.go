package enums

import (
	"fmt"
	"slices"
)

func isOneOf[T ~string](v T, set []T) bool {
	return slices.Contains(set, v)
}

// parseOneOf matches value exactly against set; kind names the enum in the
// error.
func parseOneOf[T ~string](value, kind string, set []T) (T, error) {
	if i := slices.Index(set, T(value)); i >= 0 {
		return set[i], nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q", kind, value)
}
