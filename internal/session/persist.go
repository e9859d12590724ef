package session

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// persistQueue hands out tickets under the store lock and lets writers
// persist strictly in ticket order, so durable state follows commit order
// without holding the store lock across I/O.
type persistQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	serving uint64
}

func newPersistQueue() *persistQueue {
	q := &persistQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// ticket reserves the next slot. Caller holds the store lock.
func (q *persistQueue) ticket() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := q.next
	q.next++
	return t
}

func (q *persistQueue) run(t uint64, fn func()) {
	q.mu.Lock()
	for q.serving != t {
		q.cond.Wait()
	}
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.serving++
		q.cond.Broadcast()
		q.mu.Unlock()
	}()
	fn()
}

// unlockAndPersist releases mu and runs save against the persister in commit
// order. Caller holds mu for writing.
func (s *Store) unlockAndPersist(ctx context.Context, save func(context.Context, Persister) error, fields ...zap.Field) {
	p := s.persister
	if p == nil {
		s.mu.Unlock()
		return
	}
	t := s.persistOrder.ticket()
	s.mu.Unlock()

	s.persistOrder.run(t, func() {
		if err := save(ctx, p); err != nil {
			s.logger.Warn("persist failed", append(fields, zap.Error(err))...)
		}
	})
}

func saveSchedule(snapshot Schedule) func(context.Context, Persister) error {
	return func(ctx context.Context, p Persister) error {
		return p.SaveSchedule(ctx, snapshot)
	}
}
