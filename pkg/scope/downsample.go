package scope

// Downsample decimates src to at most maxPoints entries, always keeping the
// first and the last one. dst is reused when it has enough capacity.
func Downsample[T any](dst, src []T, maxPoints int) []T {
	n := len(src)
	if n <= maxPoints || maxPoints <= 0 {
		if cap(dst) < n {
			dst = make([]T, n)
		}
		dst = dst[:n]
		copy(dst, src)
		return dst
	}

	if cap(dst) < maxPoints {
		dst = make([]T, 0, maxPoints)
	}
	dst = dst[:0]

	if maxPoints == 1 {
		return append(dst, src[n-1])
	}

	for i := range maxPoints {
		dst = append(dst, src[i*(n-1)/(maxPoints-1)])
	}
	return dst
}
