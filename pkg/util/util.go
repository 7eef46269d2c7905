package util

// Map applies a transformation function to each element of a slice and returns a new slice
// with the transformed values.
//
// Type Parameters:
//   - A: The type of elements in the input slice
//   - B: The type of elements in the output slice
//
// Parameters:
//   - coll: The input slice to transform
//   - mapper: Function that transforms each element and receives the element's index
//
// Returns:
//   - []B: A new slice containing the transformed elements
func Map[A any, B any](coll []A, mapper func(i A, index uint64) B) []B {
	out := make([]B, len(coll))
	for i, item := range coll {
		out[i] = mapper(item, uint64(i))
	}
	return out
}

// MinBy returns the element of a non-empty slice with the smallest key according to less.
// The first of several equal minima wins. It panics on an empty slice.
func MinBy[A any](coll []A, less func(a, b A) bool) A {
	best := coll[0]
	for _, item := range coll[1:] {
		if less(item, best) {
			best = item
		}
	}
	return best
}
