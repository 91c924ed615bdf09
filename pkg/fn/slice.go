package fn

// Map applies f to each element.
func Map[T, U any](items []T, f func(T) U) []U {
	out := make([]U, len(items))
	for i, v := range items {
		out[i] = f(v)
	}
	return out
}

// Chunk splits items into consecutive batches of at most n elements. The
// batches share the backing array of items. It returns nil when n <= 0 or
// items is empty.
func Chunk[T any](items []T, n int) [][]T {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+n-1)/n)
	for len(items) > n {
		out = append(out, items[:n:n])
		items = items[n:]
	}
	return append(out, items)
}

// UniqueBy keeps the first element for every key, preserving order, and
// returns the later duplicates separately.
func UniqueBy[T any, K comparable](items []T, key func(T) K) (kept, dropped []T) {
	seen := make(map[K]struct{}, len(items))
	kept = make([]T, 0, len(items))
	for _, v := range items {
		k := key(v)
		if _, dup := seen[k]; dup {
			dropped = append(dropped, v)
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, v)
	}
	return kept, dropped
}
