package chat

import "reflect"

// projectionsEqual suppresses redundant emissions. Projections are small
// value slices, so deep equality is cheap enough per recompute.
func projectionsEqual[T any](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	return reflect.DeepEqual(a, b)
}
