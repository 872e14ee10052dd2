package etlkit

// Batcher groups rows into batches for a [LoadSession]. Implement it on a
// [BatchLoader] when plain size-based batching does not fit the destination.
//
// The pipeline calls Batch once with every row of the transformed table. The
// default batcher (used when the loader does not implement Batcher) is
// equivalent to SizeBatcher with the resolved LoadBatchSize.
//
// Ready-made batchers are available for common patterns:
//   - [SizeBatcher]: fixed number of items per batch
//   - [GroupByField]: group by a key extracted from each item
//   - [WeightedBatcher]: batch by cumulative weight (e.g. request byte limits)
//   - [NoBatcher]: send everything in a single batch
//   - [CombineBatchers]: compose multiple strategies in sequence
//
// Example:
//
//	func (l *SheetLoader) Batch(rows []frame.Row) [][]frame.Row {
//	    return etlkit.SizeBatcher[frame.Row](3000).Batch(rows)
//	}
type Batcher[T any] interface {
	Batch(items []T) [][]T
}

// BatcherFunc adapts a plain function to the [Batcher] interface.
type BatcherFunc[T any] func(items []T) [][]T

func (f BatcherFunc[T]) Batch(items []T) [][]T {
	return f(items)
}

// NoBatcher returns items as a single batch (no batching).
func NoBatcher[T any]() Batcher[T] {
	return BatcherFunc[T](func(items []T) [][]T {
		if len(items) == 0 {
			return nil
		}
		return [][]T{items}
	})
}

// SizeBatcher creates batches with a maximum number of items per batch.
func SizeBatcher[T any](maxSize int) Batcher[T] {
	return BatcherFunc[T](func(items []T) [][]T {
		if len(items) == 0 || maxSize <= 0 {
			return nil
		}
		return chunk(items, maxSize)
	})
}

// GroupByField creates one batch per distinct key, regardless of size.
// Batches are ordered by the first occurrence of their key, and items keep
// their relative order within a batch.
//
// Example:
//
//	// One batch per owner, for a destination partitioned by owner
//	owner := func(r frame.Row) string { return fmt.Sprint(r.Values[2]) }
//	batcher := etlkit.GroupByField(owner)
func GroupByField[T any, K comparable](keyFn func(T) K) Batcher[T] {
	return BatcherFunc[T](func(items []T) [][]T {
		if len(items) == 0 {
			return nil
		}
		return groupBy(items, keyFn)
	})
}

// WeightedBatcher creates batches where the total weight does not exceed
// maxWeight. Items are accumulated into a batch until adding the next item
// would exceed maxWeight, at which point a new batch is started.
//
// If a single item exceeds maxWeight, it is placed in its own batch (never
// dropped).
//
// Example:
//
//	// Keep each insert request under the API's payload limit
//	batcher := etlkit.WeightedBatcher(approxBytes, 9<<20)
func WeightedBatcher[T any](weigher func(T) int, maxWeight int) Batcher[T] {
	return BatcherFunc[T](func(items []T) [][]T {
		if len(items) == 0 || maxWeight <= 0 {
			return nil
		}

		var batches [][]T
		var current []T
		currentWeight := 0

		for _, item := range items {
			w := weigher(item)

			if len(current) > 0 && currentWeight+w > maxWeight {
				batches = append(batches, current)
				current = nil
				currentWeight = 0
			}

			current = append(current, item)
			currentWeight += w
		}

		if len(current) > 0 {
			batches = append(batches, current)
		}

		return batches
	})
}

// CombineBatchers applies multiple batching strategies in sequence.
// Each batcher processes the output of the previous batcher.
//
// Example:
//
//	// At most 500 rows, and at most 9 MiB, per batch
//	batcher := etlkit.CombineBatchers(
//		etlkit.SizeBatcher[frame.Row](500),
//		etlkit.WeightedBatcher(approxBytes, 9<<20),
//	)
func CombineBatchers[T any](batchers ...Batcher[T]) Batcher[T] {
	return BatcherFunc[T](func(items []T) [][]T {
		if len(items) == 0 {
			return nil
		}
		current := [][]T{items}

		for _, batcher := range batchers {
			var next [][]T
			for _, batch := range current {
				next = append(next, batcher.Batch(batch)...)
			}
			current = next
		}

		return current
	})
}

// chunk splits a slice into sub-slices of at most size elements.
func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 || size <= 0 {
		return nil
	}

	result := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		result = append(result, items[i:min(i+size, len(items))])
	}
	return result
}

// groupBy groups items by key, ordering groups by first occurrence.
func groupBy[T any, K comparable](items []T, keyFn func(T) K) [][]T {
	pos := make(map[K]int)
	var groups [][]T
	for _, item := range items {
		key := keyFn(item)
		i, ok := pos[key]
		if !ok {
			i = len(groups)
			pos[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], item)
	}
	return groups
}
