package cache

import (
	"log"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
)

// LockService serializes stage transitions across instances. With Redis it
// is backed by redsync; without it, a process-local mutex per lock name
// still serializes transitions on this instance.
type LockService struct {
	rs    *redsync.Redsync
	local sync.Map // lock name -> *sync.Mutex
}

// NewLockService builds a lock service on the shared Redis client. Safe to
// call when Redis is unavailable.
func NewLockService() *LockService {
	svc := &LockService{}
	client, err := GetClient()
	if err != nil {
		log.Printf("distributed lock falling back to local mutexes: %v", err)
		return svc
	}
	svc.rs = redsync.New(goredis.NewPool(client))
	return svc
}

// WithLock runs action while holding the named lock.
func (s *LockService) WithLock(lockName string, expiry time.Duration, action func() error) error {
	if s.rs == nil {
		mu, _ := s.local.LoadOrStore(lockName, &sync.Mutex{})
		m := mu.(*sync.Mutex)
		m.Lock()
		defer m.Unlock()
		return action()
	}

	mutex := s.rs.NewMutex(lockName,
		redsync.WithExpiry(expiry),
		redsync.WithTries(5),
		redsync.WithRetryDelay(50*time.Millisecond),
		redsync.WithDriftFactor(0.01),
	)
	if err := mutex.Lock(); err != nil {
		return ErrLockNotAcquired
	}
	defer func() {
		if _, err := mutex.Unlock(); err != nil {
			log.Printf("releasing lock %s: %v", lockName, err)
		}
	}()
	return action()
}
