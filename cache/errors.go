package cache

import "errors"

var (
	// ErrRedisNotAvailable is returned when an operation needs Redis and no
	// connection was established.
	ErrRedisNotAvailable = errors.New("redis is not available")
	// ErrLockNotAcquired is returned when a distributed lock could not be
	// taken within its retry budget.
	ErrLockNotAcquired = errors.New("lock not acquired")
)
