package iterator

// CollectAll collects all key-value pairs from the iterator's current
// position onwards, copying keys and values.
func CollectAll(iter Iterator) ([]KV, error) {
	var out []KV
	for ; iter.Valid(); iter.Next() {
		out = append(out, KV{
			Key:   append([]byte{}, iter.Key()...),
			Value: append([]byte{}, iter.Value()...),
		})
	}
	return out, iter.Error()
}

// CollectKeys collects all keys from the iterator's current position.
func CollectKeys(iter Iterator) [][]byte {
	var keys [][]byte //nolint:prealloc // count unknown before iteration
	for ; iter.Valid(); iter.Next() {
		keys = append(keys, append([]byte{}, iter.Key()...))
	}
	return keys
}

// Count counts the remaining entries in an iterator.
func Count(iter Iterator) int {
	count := 0
	for ; iter.Valid(); iter.Next() {
		count++
	}
	return count
}
