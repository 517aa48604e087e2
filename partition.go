package shardbench

// Resolve returns the index of the shard owning identity, identity mod shardCount.
// Every code path that places a user on a shard goes through here.
func Resolve(identity int64, shardCount int) (int, error) {
	if shardCount < 1 {
		return 0, NewConfigurationError(ErrInvalidShardCount, "resolve")
	}

	idx := identity % int64(shardCount)
	if idx < 0 {
		idx += int64(shardCount)
	}

	return int(idx), nil
}

// Partition splits users into shardCount buckets, keeping the input order within each bucket
func Partition(users []User, shardCount int) ([][]User, error) {
	if shardCount < 1 {
		return nil, NewConfigurationError(ErrInvalidShardCount, "partition")
	}

	buckets := make([][]User, shardCount)
	for _, u := range users {
		// cannot fail, shardCount was checked above
		idx, _ := Resolve(u.ID, shardCount)
		buckets[idx] = append(buckets[idx], u)
	}

	return buckets, nil
}
