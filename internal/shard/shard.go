// Package shard provides partition selection for the in-memory item tables.
package shard

import (
	"fmt"
	"hash/fnv"
	"slices"
)

// Index returns the partition that owns key.
// With numShards<=1, every key goes to partition 0.
// With numShards>1, keys are distributed by an fnv-32a hash of the key.
func Index(key string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(numShards))
}

// Indexes returns the distinct partitions owning keys, in ascending order.
// Locks taken in this order cannot deadlock against each other.
func Indexes(keys []string, numShards int) []int {
	out := make([]int, 0, len(keys))
	for _, k := range keys {
		out = append(out, Index(k, numShards))
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Label formats a partition index for logs and change records (e.g. "users#0a").
func Label(table string, index int) string {
	return fmt.Sprintf("%s#%02x", table, index)
}
