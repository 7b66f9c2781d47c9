package modelconfig

// CompareDimsWithWildcard reports whether shape satisfies dims element-wise
// under wildcard rules (spec.md I2): dims[i] == shape[i], or dims[i] == -1.
func CompareDimsWithWildcard(dims, shape []int64) bool {
	if len(dims) != len(shape) {
		return false
	}
	for i, d := range dims {
		if d == -1 {
			continue
		}
		if d != shape[i] {
			return false
		}
	}
	return true
}

// HasWildcard reports whether dims contains at least one -1 entry.
func HasWildcard(dims []int64) bool {
	for _, d := range dims {
		if d == -1 {
			return true
		}
	}
	return false
}

// CountWildcards returns the number of -1 entries in dims.
func CountWildcards(dims []int64) int {
	n := 0
	for _, d := range dims {
		if d == -1 {
			n++
		}
	}
	return n
}

// ApplyReshape implements spec.md I4: captures, in order, the concrete
// values occupying the wildcard positions of dims against the resolved
// shape, then threads them, in order, into the wildcard positions of
// reshapeDims, producing the post-reshape working shape.
//
// Triton's original (src/core/infer_request.cc) walks the pre-reshape dims
// to collect wildcard values into a queue, then walks reshape.shape()
// popping that queue at each wildcard position; this is that walk.
func ApplyReshape(dims, shape, reshapeDims []int64) ([]int64, bool) {
	if len(dims) != len(shape) {
		return nil, false
	}
	captured := make([]int64, 0, len(dims))
	for i, d := range dims {
		if d == -1 {
			captured = append(captured, shape[i])
		}
	}
	out := make([]int64, len(reshapeDims))
	ci := 0
	for i, d := range reshapeDims {
		if d == -1 {
			if ci >= len(captured) {
				return nil, false
			}
			out[i] = captured[ci]
			ci++
			continue
		}
		out[i] = d
	}
	if ci != len(captured) {
		// Wildcard count must match exactly (spec.md §8 property: the
		// multiset of captured values equals the multiset placed into
		// reshape.shape, in order).
		return nil, false
	}
	return out, true
}
